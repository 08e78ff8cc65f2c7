package denoise

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
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

// Measurement is one per-buffer processing observation recorded by the
// channel pipeline.
type Measurement struct {
	// Latency is the observed processing time for the buffer.
	Latency time.Duration

	// CPUFraction estimates the share of the buffer period spent
	// processing (processing time / buffer period).
	CPUFraction float64
}

// MonitorConfig defines the adaptation thresholds.
//
// Defaults are tuned for voice chat: a 50 ms latency ceiling and a 25%
// CPU budget, with upgrades allowed only when usage drops below 70% of
// both limits to prevent oscillation.
type MonitorConfig struct {
	// MaxLatency is the latency ceiling; sustained averages above it
	// trigger a tier downgrade (default: 50ms).
	MaxLatency time.Duration

	// MaxCPUFraction is the CPU budget as a fraction of the buffer
	// period (default: 0.25).
	MaxCPUFraction float64

	// AdaptInterval is the minimum time between adaptation decisions
	// (default: 5s).
	AdaptInterval time.Duration

	// UpgradeHeadroom is the fraction of the limits usage must stay
	// under before a tier upgrade is considered (default: 0.7).
	UpgradeHeadroom float64

	// HistorySize is the rolling measurement window (default: 100).
	HistorySize int

	// Time is the time source; nil uses the system clock.
	Time TimeProvider
}

// DefaultMonitorConfig returns configuration with conservative defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MaxLatency:      50 * time.Millisecond,
		MaxCPUFraction:  0.25,
		AdaptInterval:   5 * time.Second,
		UpgradeHeadroom: 0.7,
		HistorySize:     100,
	}
}

// PerformanceMonitor adapts the configured denoise tier ceiling to the
// machine's observed headroom.
//
// It keeps a rolling window of per-buffer measurements and, once per
// adaptation interval, recommends a cheaper tier when the averages
// exceed the configured limits or a better one when usage sits well
// under them. The monitor adjusts the preferred ceiling only; the
// fallback chain still degrades immediately on availability failures.
type PerformanceMonitor struct {
	config MonitorConfig
	time   TimeProvider

	mu        sync.Mutex
	history   []Measurement
	histPos   int
	histFull  bool
	current   Tier
	lastAdapt time.Time
}

// NewPerformanceMonitor creates a monitor starting at the given tier.
func NewPerformanceMonitor(config MonitorConfig, initial Tier) *PerformanceMonitor {
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	if config.Time == nil {
		config.Time = RealTimeProvider{}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewPerformanceMonitor",
		"initial_tier":   initial.String(),
		"max_latency_ms": config.MaxLatency.Milliseconds(),
		"adapt_interval": config.AdaptInterval.String(),
	}).Info("Creating denoise performance monitor")

	return &PerformanceMonitor{
		config:    config,
		time:      config.Time,
		history:   make([]Measurement, config.HistorySize),
		current:   initial,
		lastAdapt: config.Time.Now(),
	}
}

// Record adds one per-buffer measurement to the rolling window. Called
// from the housekeeping path with values the real-time path captured in
// atomics, never directly from the real-time path.
func (m *PerformanceMonitor) Record(meas Measurement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[m.histPos] = meas
	m.histPos++
	if m.histPos >= len(m.history) {
		m.histPos = 0
		m.histFull = true
	}
}

// averages computes mean latency and CPU fraction over the window.
// Caller holds m.mu.
func (m *PerformanceMonitor) averages() (time.Duration, float64, int) {
	n := m.histPos
	if m.histFull {
		n = len(m.history)
	}
	if n == 0 {
		return 0, 0, 0
	}

	var latSum time.Duration
	var cpuSum float64
	for i := 0; i < n; i++ {
		latSum += m.history[i].Latency
		cpuSum += m.history[i].CPUFraction
	}
	return latSum / time.Duration(n), cpuSum / float64(n), n
}

// Adapt evaluates the window and returns the recommended tier ceiling.
// The decision re-evaluates at most once per adaptation interval; in
// between it returns the current recommendation unchanged.
func (m *PerformanceMonitor) Adapt() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.time.Now()
	if now.Sub(m.lastAdapt) < m.config.AdaptInterval {
		return m.current
	}

	avgLatency, avgCPU, n := m.averages()
	if n == 0 {
		return m.current
	}
	m.lastAdapt = now

	over := avgLatency > m.config.MaxLatency || avgCPU > m.config.MaxCPUFraction
	under := avgLatency < time.Duration(float64(m.config.MaxLatency)*m.config.UpgradeHeadroom) &&
		avgCPU < m.config.MaxCPUFraction*m.config.UpgradeHeadroom

	switch {
	case over && m.current < TierPassthrough:
		previous := m.current
		m.current++
		logrus.WithFields(logrus.Fields{
			"function":       "PerformanceMonitor.Adapt",
			"from":           previous.String(),
			"to":             m.current.String(),
			"avg_latency_ms": avgLatency.Milliseconds(),
			"avg_cpu":        avgCPU,
		}).Warn("Processing over budget, downgrading denoise tier ceiling")
	case under && m.current > TierGPU:
		previous := m.current
		m.current--
		logrus.WithFields(logrus.Fields{
			"function":       "PerformanceMonitor.Adapt",
			"from":           previous.String(),
			"to":             m.current.String(),
			"avg_latency_ms": avgLatency.Milliseconds(),
			"avg_cpu":        avgCPU,
		}).Info("Headroom available, upgrading denoise tier ceiling")
	}

	return m.current
}

// Current returns the present tier recommendation without re-evaluating.
func (m *PerformanceMonitor) Current() Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset clears the measurement window and pins the recommendation to
// the given tier.
func (m *PerformanceMonitor) Reset(tier Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.histPos = 0
	m.histFull = false
	m.current = tier
	m.lastAdapt = m.time.Now()
}
