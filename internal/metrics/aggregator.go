// Package metrics computes global, time-windowed statistics across
// sessions. Nothing is cached; every call re-derives from the session
// repository's per-session rolling averages.
package metrics

import (
	"math"
	"time"

	"github.com/freyalabs/console/pkg/models"
)

// Window is the trailing period the windowed figures cover.
const Window = 24 * time.Hour

// SessionSource yields every session known to the console.
type SessionSource interface {
	All() []*models.Session
}

// Aggregator computes global metrics on demand.
type Aggregator struct {
	sessions SessionSource
	now      func() time.Time
}

// NewAggregator creates an aggregator over the given session source.
func NewAggregator(sessions SessionSource) *Aggregator {
	return &Aggregator{sessions: sessions, now: time.Now}
}

// Global returns cross-session statistics. Latency and throughput are
// the unweighted mean of the windowed sessions' rolling averages; the
// error rate is 100 * errors / messages over the same window. All
// figures are zero when nothing falls inside the window.
func (a *Aggregator) Global() models.GlobalMetrics {
	all := a.sessions.All()
	cutoff := a.now().Add(-Window)

	var (
		recent     int
		latencySum int
		tokensSum  int
		errorSum   int
		messageSum int
	)
	for _, s := range all {
		if !s.StartedAt.After(cutoff) {
			continue
		}
		recent++
		latencySum += s.Metrics.AvgFirstTokenLatency
		tokensSum += s.Metrics.AvgTokensPerSec
		errorSum += s.Metrics.ErrorCount
		messageSum += s.Metrics.TotalMessages
	}

	gm := models.GlobalMetrics{
		TotalSessions:   len(all),
		Last24hSessions: recent,
	}
	if recent > 0 {
		gm.AvgFirstTokenLatency = int(math.Round(float64(latencySum) / float64(recent)))
		gm.AvgTokensPerSec = int(math.Round(float64(tokensSum) / float64(recent)))
	}
	if messageSum > 0 {
		gm.ErrorRate = math.Round(float64(errorSum)/float64(messageSum)*1000) / 10
	}
	return gm
}
