package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/denoise"
	"github.com/opd-ai/phantomlink/engine"
)

// TimeProvider is an interface for getting the current time.
// This allows injecting a mock time provider for deterministic testing.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
}

// RealTimeProvider implements TimeProvider using the actual system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// ChannelControl is the surface the control plane needs from the mixer
// core: channel lookup by identifier.
type ChannelControl interface {
	Channel(id uint32) (*engine.ChannelProcessor, error)
}

// ProcessingStats reports one session's observable processing state.
type ProcessingStats struct {
	// Latency is the reported algorithmic delay of the active backend
	// plus the channel's last measured processing time.
	Latency time.Duration

	// QualityScore estimates output quality in 0.0 .. 1.0 from the
	// active tier and the session profile.
	QualityScore float64

	// Active reports whether the session's channel processed audio
	// since the previous stats call.
	Active bool

	// ActiveBackend is the denoise tier currently producing output.
	ActiveBackend denoise.Tier

	ProcessedBuffers uint64
	TimeoutCount     uint64
	DroppedRequests  uint64
	FallbackEvents   uint64
}

// Session binds a channel identifier to its voice-processing
// configuration.
type Session struct {
	ID     uint32
	Config Config

	created    time.Time
	lastActive time.Time
	lastSeen   uint64
}

// ManagerConfig configures the control plane.
type ManagerConfig struct {
	// MaxSessions caps concurrent sessions (default: 64).
	MaxSessions int

	// IdleTimeout removes sessions whose channels stop processing
	// (default: 5m; zero disables the sweep).
	IdleTimeout time.Duration

	// Time is the time source; nil uses the system clock.
	Time TimeProvider
}

// DefaultManagerConfig returns the standard control-plane limits.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSessions: 64,
		IdleTimeout: 5 * time.Minute,
	}
}

// Manager owns the session map and the per-channel backend
// configuration API.
//
// All methods run off the real-time path. The internal lock is held
// only for map lookup, insert and remove, never during processing.
type Manager struct {
	channels ChannelControl
	config   ManagerConfig
	time     TimeProvider

	mu       sync.RWMutex
	sessions map[uint32]*Session
	closed   bool
}

// NewManager creates the control plane over the given channel set.
func NewManager(channels ChannelControl, config ManagerConfig) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = 64
	}
	if config.Time == nil {
		config.Time = RealTimeProvider{}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewManager",
		"max_sessions": config.MaxSessions,
		"idle_timeout": config.IdleTimeout.String(),
	}).Info("Creating session manager")

	return &Manager{
		channels: channels,
		config:   config,
		time:     config.Time,
		sessions: make(map[uint32]*Session),
	}
}

// CreateSession registers a session for the given channel identifier.
//
// Parameters:
//   - id: Channel identifier the session binds to
//   - config: Voice-processing configuration
//
// Returns:
//   - error: ErrSessionExists, ErrMaxSessionsExceeded or
//     ErrManagerClosed; rejected synchronously, never queued
func (m *Manager) CreateSession(id uint32, config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.sessions[id]; exists {
		return fmt.Errorf("%w: %d", ErrSessionExists, id)
	}
	if len(m.sessions) >= m.config.MaxSessions {
		return fmt.Errorf("%w: limit %d", ErrMaxSessionsExceeded, m.config.MaxSessions)
	}

	now := m.time.Now()
	m.sessions[id] = &Session{
		ID:         id,
		Config:     config,
		created:    now,
		lastActive: now,
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.CreateSession",
		"session":  id,
		"mode":     config.Mode.String(),
		"sessions": len(m.sessions),
	}).Info("Session created")

	return nil
}

// DestroySession removes a session. Destroying an unknown session
// returns ErrSessionNotFound.
func (m *Manager) DestroySession(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.sessions[id]; !exists {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.DestroySession",
		"session":  id,
		"sessions": len(m.sessions),
	}).Info("Session destroyed")

	return nil
}

// Session returns a copy of the session record.
func (m *Manager) Session(id uint32) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return Session{}, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return *s, nil
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the active session identifiers in unspecified order.
func (m *Manager) IDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint32, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Configure replaces a channel's denoise backend priority order. The
// channel must exist; a session is not required, so channels can be
// shaped before traffic arrives.
func (m *Manager) Configure(channel uint32, priorities []denoise.Tier) error {
	c, err := m.channels.Channel(channel)
	if err != nil {
		return err
	}
	return c.Chain().Configure(priorities)
}

// GetStats reports the session's processing statistics, assembled from
// the channel's counters and the session profile.
func (m *Manager) GetStats(id uint32) (ProcessingStats, error) {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if !exists {
		m.mu.Unlock()
		return ProcessingStats{}, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	config := s.Config
	lastSeen := s.lastSeen
	m.mu.Unlock()

	c, err := m.channels.Channel(id)
	if err != nil {
		return ProcessingStats{}, err
	}

	cs := c.Stats()
	chainStats := c.Chain().Stats()
	active := cs.ProcessedBuffers > lastSeen

	m.mu.Lock()
	if s, exists := m.sessions[id]; exists {
		s.lastSeen = cs.ProcessedBuffers
		if active {
			s.lastActive = m.time.Now()
		}
	}
	m.mu.Unlock()

	return ProcessingStats{
		Latency:          cs.LastProcessTime,
		QualityScore:     qualityScore(chainStats.ActiveTier, config),
		Active:           active,
		ActiveBackend:    chainStats.ActiveTier,
		ProcessedBuffers: cs.ProcessedBuffers,
		TimeoutCount:     cs.PluginTimeouts,
		DroppedRequests:  cs.PluginDropped,
		FallbackEvents:   chainStats.FallbackEvents,
	}, nil
}

// qualityScore estimates output quality from the active tier and the
// session's quality profile.
func qualityScore(tier denoise.Tier, config Config) float64 {
	var base float64
	switch tier {
	case denoise.TierGPU:
		base = 0.95
	case denoise.TierDeepLearning:
		base = 0.85
	case denoise.TierSpectral:
		base = 0.70
	default:
		base = 0.50
	}

	// The profile shifts the score within the tier's band.
	score := base * (0.8 + 0.2*config.QualityProfile)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SweepIdle removes sessions whose channels have not processed audio
// within the idle timeout. Returns the removed identifiers. Driven from
// the housekeeping path.
func (m *Manager) SweepIdle() []uint32 {
	if m.config.IdleTimeout <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	now := m.time.Now()
	var removed []uint32
	for id, s := range m.sessions {
		if now.Sub(s.lastActive) > m.config.IdleTimeout {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}

	if len(removed) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.SweepIdle",
			"removed":  len(removed),
			"sessions": len(m.sessions),
		}).Info("Idle sessions removed")
	}
	return removed
}

// Close clears the session map and rejects further operations.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.sessions = make(map[uint32]*Session)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Close",
	}).Info("Session manager closed")

	return nil
}
