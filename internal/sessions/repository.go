// Package sessions provides session lifecycle, message append, and
// rolling-metrics operations on top of the store.
package sessions

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freyalabs/console/internal/store"
	"github.com/freyalabs/console/pkg/models"
)

// UnknownPromptTitle is the denormalized title recorded when the prompt
// no longer exists at session creation time.
const UnknownPromptTitle = "Unknown"

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 10

// NewMessage carries the caller-supplied fields of a message append.
// Latency and TokensPerSec come from the controller's timing
// correlation and are meaningful only on assistant messages.
type NewMessage struct {
	Role         models.Role
	Content      string
	Latency      int
	TokensPerSec int
}

// MetricsUpdate is a partial metrics mutation. Latency and TokensPerSec
// are treated as new samples folded into the rolling averages;
// ErrorDelta is a direct increment.
type MetricsUpdate struct {
	FirstTokenLatency *int
	TokensPerSec      *int
	ErrorDelta        int
}

// Repository provides session operations on top of the store.
type Repository struct {
	store *store.Store
}

// NewRepository creates a session repository.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// Create starts a new session bound to the prompt, snapshotting its
// current title. The prompt reference is weak: a missing prompt yields
// the "Unknown" sentinel rather than a failure.
func (r *Repository) Create(promptID string) *models.Session {
	title := UnknownPromptTitle
	if p := r.store.GetPrompt(promptID); p != nil {
		title = p.Title
	}

	sess := &models.Session{
		ID:          uuid.NewString(),
		PromptID:    promptID,
		PromptTitle: title,
		StartedAt:   time.Now().UTC(),
		Messages:    []models.Message{},
	}
	r.store.PutSession(sess)
	log.Debug().Str("sessionId", sess.ID).Str("promptId", promptID).Msg("Session created")
	return sess
}

// End marks the session ended. Idempotent: a second call leaves the
// original end time untouched, and an unknown id is a logged no-op so
// callers racing with disconnect callbacks never fail.
func (r *Repository) End(sessionID string) {
	ok := r.store.UpdateSession(sessionID, func(sess *models.Session) {
		if sess.EndedAt != nil {
			return
		}
		now := time.Now().UTC()
		sess.EndedAt = &now
	})
	if !ok {
		log.Warn().Str("sessionId", sessionID).Msg("Cannot end session, not found")
		return
	}
	log.Debug().Str("sessionId", sessionID).Msg("Session ended")
}

// AddMessage appends a message with a fresh id and timestamp and bumps
// the total message count. Returns nil if the session is unknown.
func (r *Repository) AddMessage(sessionID string, nm NewMessage) *models.Message {
	msg := models.Message{
		ID:           uuid.NewString(),
		Role:         nm.Role,
		Content:      nm.Content,
		Timestamp:    time.Now().UTC(),
		Latency:      nm.Latency,
		TokensPerSec: nm.TokensPerSec,
	}

	ok := r.store.UpdateSession(sessionID, func(sess *models.Session) {
		sess.Messages = append(sess.Messages, msg)
		sess.Metrics.TotalMessages++
	})
	if !ok {
		log.Warn().Str("sessionId", sessionID).Msg("Cannot add message, session not found")
		return nil
	}
	return &msg
}

// UpdateMetrics folds new latency/throughput samples into the session's
// rolling averages and applies any error increment. The recurrence is
// newAvg = round((oldAvg*(n-1) + sample) / n) with n the number of
// assistant messages recorded so far (minimum 1), so each update needs
// only the previous average, never the message history. No-op if the
// session is unknown.
func (r *Repository) UpdateMetrics(sessionID string, upd MetricsUpdate) {
	r.store.UpdateSession(sessionID, func(sess *models.Session) {
		n := sess.AssistantMessageCount()
		if n < 1 {
			n = 1
		}
		if upd.FirstTokenLatency != nil {
			sess.Metrics.AvgFirstTokenLatency = rollAverage(sess.Metrics.AvgFirstTokenLatency, *upd.FirstTokenLatency, n)
		}
		if upd.TokensPerSec != nil {
			sess.Metrics.AvgTokensPerSec = rollAverage(sess.Metrics.AvgTokensPerSec, *upd.TokensPerSec, n)
		}
		sess.Metrics.ErrorCount += upd.ErrorDelta
	})
}

// Get returns the session, or nil if unknown.
func (r *Repository) Get(id string) *models.Session {
	return r.store.GetSession(id)
}

// List returns up to limit sessions ordered by start time, newest
// first. A non-positive limit applies DefaultListLimit.
func (r *Repository) List(limit int) []*models.Session {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	all := r.store.AllSessions()
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// All returns every session; used by the metrics aggregator.
func (r *Repository) All() []*models.Session {
	return r.store.AllSessions()
}

func rollAverage(oldAvg, sample, n int) int {
	return int(math.Round((float64(oldAvg)*float64(n-1) + float64(sample)) / float64(n)))
}
