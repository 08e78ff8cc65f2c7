package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AggregatedReport is one system-wide statistics snapshot produced by
// the aggregator.
type AggregatedReport struct {
	Timestamp time.Time

	// ActiveSessions is the number of sessions that processed audio in
	// the reporting window.
	ActiveSessions int
	TotalSessions  int

	AverageLatency time.Duration
	AverageQuality float64

	TotalProcessed uint64
	TotalTimeouts  uint64
	TotalDropped   uint64
	TotalFallbacks uint64

	// PerSession carries the individual snapshots keyed by channel.
	PerSession map[uint32]ProcessingStats
}

// Aggregator produces periodic system-wide statistics reports across
// all sessions.
//
// It polls the manager on a fixed interval and hands each report to the
// registered callback, suitable for dashboards or log shipping. All
// collection happens off the real-time path; the counters it reads are
// the atomics the processing path maintains.
type Aggregator struct {
	manager        *Manager
	reportInterval time.Duration

	mu       sync.RWMutex
	running  bool
	callback func(report AggregatedReport)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAggregator creates an aggregator polling at the given interval.
func NewAggregator(manager *Manager, reportInterval time.Duration) *Aggregator {
	if reportInterval <= 0 {
		reportInterval = 5 * time.Second
	}
	return &Aggregator{
		manager:        manager,
		reportInterval: reportInterval,
	}
}

// OnReport registers the report callback. Must be set before Start.
func (a *Aggregator) OnReport(callback func(report AggregatedReport)) {
	a.mu.Lock()
	a.callback = callback
	a.mu.Unlock()
}

// Start launches the reporting loop.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.running = true

	go a.reportLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Aggregator.Start",
		"interval": a.reportInterval.String(),
	}).Info("Stats aggregator started")

	return nil
}

// Stop halts the reporting loop.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.cancel()
	a.running = false

	logrus.WithFields(logrus.Fields{
		"function": "Aggregator.Stop",
	}).Info("Stats aggregator stopped")
}

// IsRunning reports whether the loop is active.
func (a *Aggregator) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// reportLoop emits one report per interval until cancelled.
func (a *Aggregator) reportLoop() {
	ticker := time.NewTicker(a.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			report := a.Collect()

			a.mu.RLock()
			callback := a.callback
			a.mu.RUnlock()
			if callback != nil {
				callback(report)
			}
		}
	}
}

// Collect assembles one report immediately, independent of the loop.
func (a *Aggregator) Collect() AggregatedReport {
	ids := a.manager.IDs()
	report := AggregatedReport{
		Timestamp:     time.Now(),
		TotalSessions: len(ids),
		PerSession:    make(map[uint32]ProcessingStats, len(ids)),
	}

	var latencySum time.Duration
	var qualitySum float64
	collected := 0
	for _, id := range ids {
		stats, err := a.manager.GetStats(id)
		if err != nil {
			continue
		}
		report.PerSession[id] = stats
		collected++

		if stats.Active {
			report.ActiveSessions++
		}
		latencySum += stats.Latency
		qualitySum += stats.QualityScore
		report.TotalProcessed += stats.ProcessedBuffers
		report.TotalTimeouts += stats.TimeoutCount
		report.TotalDropped += stats.DroppedRequests
		report.TotalFallbacks += stats.FallbackEvents
	}

	if collected > 0 {
		report.AverageLatency = latencySum / time.Duration(collected)
		report.AverageQuality = qualitySum / float64(collected)
	}
	return report
}
