package denoise

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ChainStats is a snapshot of fallback chain counters.
type ChainStats struct {
	// ActiveTier is the tier currently producing output.
	ActiveTier Tier

	// FallbackEvents counts degrades since creation or the last
	// reconfiguration.
	FallbackEvents uint64

	// ProcessErrors counts backend Process failures absorbed by the chain.
	ProcessErrors uint64
}

// FallbackChain orders denoise backends by priority and degrades through
// them on failure.
//
// Process runs on the real-time thread: it consults the active backend
// and, on unavailability or error, advances to the next priority in the
// same call so the quantum is still produced. A degraded tier is never
// retried mid-stream; Configure and HealthCheck are the only paths that
// re-promote, and both run off the real-time thread.
type FallbackChain struct {
	mu       sync.RWMutex
	backends map[Tier]Backend
	priority []Tier
	active   int
	degraded map[Tier]bool
	warned   map[Tier]bool
	closed   bool

	fallbackEvents atomic.Uint64
	processErrors  atomic.Uint64

	// OnFallback, when set, is invoked once per degrade with the tier
	// left and the tier entered. Set before processing starts.
	OnFallback func(from, to Tier)
}

// NewFallbackChain creates a chain over the given backends in the given
// priority order, best tier first.
//
// Parameters:
//   - backends: Backend instance per tier; every tier in priorities must
//     be present
//   - priorities: Descending priority order; the last entry should be a
//     tier that cannot fail (passthrough)
//
// Returns:
//   - *FallbackChain: New chain with the best available tier active
//   - error: Configuration error for an empty or unresolvable list
func NewFallbackChain(backends map[Tier]Backend, priorities []Tier) (*FallbackChain, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "NewFallbackChain",
		"priorities": fmt.Sprintf("%v", priorities),
	}).Info("Creating denoise fallback chain")

	if len(priorities) == 0 {
		return nil, ErrEmptyPriorityList
	}
	for _, tier := range priorities {
		if _, ok := backends[tier]; !ok {
			return nil, fmt.Errorf("%w: no backend registered for tier %s", ErrUnknownTier, tier)
		}
	}

	c := &FallbackChain{
		backends: backends,
		priority: append([]Tier(nil), priorities...),
		degraded: make(map[Tier]bool),
		warned:   make(map[Tier]bool),
	}
	c.selectInitial()
	return c, nil
}

// selectInitial picks the best tier that reports available. Caller must
// not hold the lock.
func (c *FallbackChain) selectInitial() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = len(c.priority) - 1
	for i, tier := range c.priority {
		if c.backends[tier].IsAvailable() {
			c.active = i
			break
		}
		c.degraded[tier] = true
		c.warnOnce(tier, "unavailable at configuration")
	}

	logrus.WithFields(logrus.Fields{
		"function":    "FallbackChain.selectInitial",
		"active_tier": c.priority[c.active].String(),
	}).Info("Fallback chain selected initial backend")
}

// warnOnce logs a degrade warning the first time a tier fails. Caller
// holds c.mu.
func (c *FallbackChain) warnOnce(tier Tier, reason string) {
	if c.warned[tier] {
		return
	}
	c.warned[tier] = true
	logrus.WithFields(logrus.Fields{
		"function": "FallbackChain.warnOnce",
		"tier":     tier.String(),
		"reason":   reason,
	}).Warn("Denoise backend degraded, advancing fallback chain")
}

// Process suppresses one quantum through the active backend, degrading
// in place when it fails. The input is returned unchanged only when
// every tier including the configured backstop has failed.
func (c *FallbackChain) Process(samples []float32) ([]float32, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrChainClosed
	}
	idx := c.active
	c.mu.RUnlock()

	for idx < len(c.priority) {
		tier := c.priority[idx]
		backend := c.backends[tier]

		if backend.IsAvailable() {
			out, err := backend.Process(samples)
			if err == nil {
				return out, nil
			}
			c.processErrors.Add(1)
		}

		next := c.advance(idx)
		if next == idx {
			break
		}
		idx = next
	}

	return samples, nil
}

// advance marks the tier at idx degraded and moves the active index past
// it. Returns the new active index; unchanged means the chain is already
// at its last tier.
func (c *FallbackChain) advance(idx int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx >= len(c.priority)-1 {
		// Backstop failed; nothing left to advance to.
		c.warnOnce(c.priority[idx], "backstop failure")
		return idx
	}

	tier := c.priority[idx]
	c.degraded[tier] = true
	c.warnOnce(tier, "runtime failure")

	if c.active == idx {
		c.active = idx + 1
		c.fallbackEvents.Add(1)
		if c.OnFallback != nil {
			c.OnFallback(tier, c.priority[c.active])
		}
	}
	return c.active
}

// ActiveTier returns the tier currently producing output.
func (c *FallbackChain) ActiveTier() Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priority[c.active]
}

// Configure replaces the priority order and clears degrade state so
// every tier is eligible again. Never called from the real-time path.
func (c *FallbackChain) Configure(priorities []Tier) error {
	if len(priorities) == 0 {
		return ErrEmptyPriorityList
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChainClosed
	}
	for _, tier := range priorities {
		if _, ok := c.backends[tier]; !ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: no backend registered for tier %s", ErrUnknownTier, tier)
		}
	}
	c.priority = append([]Tier(nil), priorities...)
	c.degraded = make(map[Tier]bool)
	c.warned = make(map[Tier]bool)
	c.fallbackEvents.Store(0)
	c.processErrors.Store(0)
	c.mu.Unlock()

	c.selectInitial()
	return nil
}

// HealthCheck re-probes degraded tiers above the active one and
// re-promotes to the best tier that recovered. Runs on the housekeeping
// path, never per buffer.
//
// Probing happens on a snapshot of the priority order without holding
// the chain lock: backend probes can block on device or model setup,
// and Process must never wait behind them. The lock is taken only to
// swap the active index once a tier has recovered.
func (c *FallbackChain) HealthCheck() {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	priority := c.priority
	active := c.active
	c.mu.RUnlock()

	var recovered Tier
	found := false
	for i := 0; i < active && i < len(priority); i++ {
		tier := priority[i]
		// The backend map is immutable after construction.
		backend := c.backends[tier]

		if hc, ok := backend.(HealthChecker); ok {
			if err := hc.HealthCheck(); err != nil {
				continue
			}
		}
		if !backend.IsAvailable() {
			continue
		}
		recovered = tier
		found = true
		break
	}
	if !found {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	// Configure may have replaced the order while probing; promote only
	// if the recovered tier still outranks the active one.
	for i, tier := range c.priority {
		if tier != recovered {
			continue
		}
		if i >= c.active {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "FallbackChain.HealthCheck",
			"tier":     tier.String(),
		}).Info("Degraded denoise backend recovered, re-promoting")
		c.degraded[tier] = false
		c.warned[tier] = false
		c.active = i
		return
	}
}

// Stats returns a snapshot of the chain counters.
func (c *FallbackChain) Stats() ChainStats {
	return ChainStats{
		ActiveTier:     c.ActiveTier(),
		FallbackEvents: c.fallbackEvents.Load(),
		ProcessErrors:  c.processErrors.Load(),
	}
}

// Close closes every registered backend, aggregating failures.
func (c *FallbackChain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for tier, backend := range c.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s backend: %w", tier, err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "FallbackChain.Close",
		"errors":   len(errs),
	}).Info("Fallback chain closed")

	return errors.Join(errs...)
}
