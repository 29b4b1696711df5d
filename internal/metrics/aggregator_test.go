package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/freyalabs/console/pkg/models"
)

type fakeSource struct {
	sessions []*models.Session
}

func (f *fakeSource) All() []*models.Session { return f.sessions }

func newTestAggregator(now time.Time, sessions ...*models.Session) *Aggregator {
	a := NewAggregator(&fakeSource{sessions: sessions})
	a.now = func() time.Time { return now }
	return a
}

func sessionAt(started time.Time, m models.SessionMetrics) *models.Session {
	return &models.Session{
		ID:        started.Format(time.RFC3339Nano),
		StartedAt: started,
		Messages:  []models.Message{},
		Metrics:   m,
	}
}

// TestGlobalEmpty tests that no sessions yield all-zero metrics.
func TestGlobalEmpty(t *testing.T) {
	a := newTestAggregator(time.Now())

	got := a.Global()
	assert.Equal(t, models.GlobalMetrics{}, got)
}

// TestGlobalAverages tests the unweighted mean over windowed sessions.
func TestGlobalAverages(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAggregator(now,
		sessionAt(now.Add(-time.Hour), models.SessionMetrics{AvgFirstTokenLatency: 400, AvgTokensPerSec: 40, TotalMessages: 10}),
		sessionAt(now.Add(-2*time.Hour), models.SessionMetrics{AvgFirstTokenLatency: 800, AvgTokensPerSec: 20, TotalMessages: 10}),
	)

	got := a.Global()
	assert.Equal(t, 600, got.AvgFirstTokenLatency)
	assert.Equal(t, 30, got.AvgTokensPerSec)
	assert.Equal(t, 2, got.TotalSessions)
	assert.Equal(t, 2, got.Last24hSessions)
	assert.Equal(t, 0.0, got.ErrorRate)
}

// TestGlobalWindow tests that sessions older than the window count only
// toward the total.
func TestGlobalWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAggregator(now,
		sessionAt(now.Add(-time.Hour), models.SessionMetrics{AvgFirstTokenLatency: 500, AvgTokensPerSec: 50, TotalMessages: 4}),
		sessionAt(now.Add(-25*time.Hour), models.SessionMetrics{AvgFirstTokenLatency: 9000, AvgTokensPerSec: 9000, TotalMessages: 100, ErrorCount: 50}),
	)

	got := a.Global()
	assert.Equal(t, 2, got.TotalSessions)
	assert.Equal(t, 1, got.Last24hSessions)
	assert.Equal(t, 500, got.AvgFirstTokenLatency)
	assert.Equal(t, 50, got.AvgTokensPerSec)
	assert.Equal(t, 0.0, got.ErrorRate)
}

// TestGlobalErrorRate tests 100 * errors / messages rounded to one
// decimal.
func TestGlobalErrorRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAggregator(now,
		sessionAt(now.Add(-time.Hour), models.SessionMetrics{TotalMessages: 3, ErrorCount: 1}),
		sessionAt(now.Add(-2*time.Hour), models.SessionMetrics{TotalMessages: 3, ErrorCount: 0}),
	)

	got := a.Global()
	// 1 error over 6 messages: 16.666... rounds to 16.7.
	assert.Equal(t, 16.7, got.ErrorRate)
}

// TestGlobalErrorRateZeroMessages tests that an error with no messages
// does not divide by zero.
func TestGlobalErrorRateZeroMessages(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAggregator(now,
		sessionAt(now.Add(-time.Hour), models.SessionMetrics{ErrorCount: 3}),
	)

	got := a.Global()
	assert.Equal(t, 0.0, got.ErrorRate)
	assert.Equal(t, 1, got.Last24hSessions)
}
