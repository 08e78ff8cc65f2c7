package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorStartStop(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	m := NewManager(eng, DefaultManagerConfig())
	defer m.Close()

	a := NewAggregator(m, time.Hour)
	assert.False(t, a.IsRunning())

	require.NoError(t, a.Start())
	assert.True(t, a.IsRunning())

	err := a.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	a.Stop()
	assert.False(t, a.IsRunning())

	// Stop is idempotent.
	a.Stop()
}

func TestAggregatorCollect(t *testing.T) {
	eng := newTestEngine(t, 1, 2)
	defer eng.Close()
	m := NewManager(eng, DefaultManagerConfig())
	defer m.Close()

	require.NoError(t, m.CreateSession(1, VoiceChatConfig()))
	require.NoError(t, m.CreateSession(2, LiveStreamingConfig()))

	input := make([]float32, 480)
	out := make([]float32, 960)
	require.NoError(t, eng.Process(map[uint32][]float32{1: input}, out))

	a := NewAggregator(m, time.Hour)
	report := a.Collect()

	assert.Equal(t, 2, report.TotalSessions)
	assert.Equal(t, 1, report.ActiveSessions)
	assert.Len(t, report.PerSession, 2)
	assert.Equal(t, uint64(1), report.TotalProcessed)
	assert.Greater(t, report.AverageQuality, 0.0)
	assert.True(t, report.PerSession[1].Active)
	assert.False(t, report.PerSession[2].Active)
}

func TestAggregatorCollectEmpty(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	m := NewManager(eng, DefaultManagerConfig())
	defer m.Close()

	report := NewAggregator(m, time.Hour).Collect()
	assert.Equal(t, 0, report.TotalSessions)
	assert.Equal(t, time.Duration(0), report.AverageLatency)
	assert.Equal(t, 0.0, report.AverageQuality)
}

func TestAggregatorReportLoop(t *testing.T) {
	eng := newTestEngine(t, 1)
	defer eng.Close()
	m := NewManager(eng, DefaultManagerConfig())
	defer m.Close()
	require.NoError(t, m.CreateSession(1, VoiceChatConfig()))

	a := NewAggregator(m, 10*time.Millisecond)

	var reports atomic.Int32
	done := make(chan AggregatedReport, 1)
	a.OnReport(func(report AggregatedReport) {
		if reports.Add(1) == 1 {
			done <- report
		}
	})

	require.NoError(t, a.Start())
	defer a.Stop()

	select {
	case report := <-done:
		assert.Equal(t, 1, report.TotalSessions)
	case <-time.After(2 * time.Second):
		t.Fatal("no report produced within deadline")
	}
}

func TestAggregatorDefaultInterval(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	m := NewManager(eng, DefaultManagerConfig())
	defer m.Close()

	a := NewAggregator(m, 0)
	assert.Equal(t, 5*time.Second, a.reportInterval)
}
