package models

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the console understands.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one transcript entry within a session. Latency and
// TokensPerSec are set only on assistant messages that followed a user
// turn; they are never recomputed after the fact.
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	Latency      int       `json:"latency,omitempty"`
	TokensPerSec int       `json:"tokensPerSec,omitempty"`
}

// SessionMetrics holds the per-session rolling statistics. The averages
// are incremental: updating them needs only the previous value and the
// assistant message count, never the full message history.
type SessionMetrics struct {
	AvgFirstTokenLatency int `json:"avgFirstTokenLatency"`
	AvgTokensPerSec      int `json:"avgTokensPerSec"`
	TotalMessages        int `json:"totalMessages"`
	ErrorCount           int `json:"errorCount"`
}

// Session is one realtime conversation bound to a prompt. PromptTitle is
// a snapshot taken at creation time; the prompt itself may be deleted
// later without invalidating the session.
type Session struct {
	ID          string         `json:"id"`
	PromptID    string         `json:"promptId"`
	PromptTitle string         `json:"promptTitle"`
	StartedAt   time.Time      `json:"startedAt"`
	EndedAt     *time.Time     `json:"endedAt,omitempty"`
	Messages    []Message      `json:"messages"`
	Metrics     SessionMetrics `json:"metrics"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// AssistantMessageCount returns how many assistant messages the session
// has recorded so far.
func (s *Session) AssistantMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// GlobalMetrics is the cross-session view computed on demand by the
// metrics aggregator.
type GlobalMetrics struct {
	AvgFirstTokenLatency int     `json:"avgFirstTokenLatency"`
	AvgTokensPerSec      int     `json:"avgTokensPerSec"`
	ErrorRate            float64 `json:"errorRate"`
	TotalSessions        int     `json:"totalSessions"`
	Last24hSessions      int     `json:"last24hSessions"`
}
