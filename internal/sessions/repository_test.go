package sessions

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/freyalabs/console/internal/prompts"
	"github.com/freyalabs/console/internal/store"
	"github.com/freyalabs/console/pkg/models"
)

// RepositorySuite is a test suite for session operations.
type RepositorySuite struct {
	suite.Suite
	store   *store.Store
	prompts *prompts.Repository
	repo    *Repository
}

func (s *RepositorySuite) SetupTest() {
	s.store = store.New(store.Options{})
	s.prompts = prompts.NewRepository(s.store)
	s.repo = NewRepository(s.store)
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func intPtr(v int) *int { return &v }

// addAssistant appends an assistant message and folds its samples into
// the rolling averages, the way the controller does it.
func (s *RepositorySuite) addAssistant(sessionID string, latency, tps int) {
	s.repo.AddMessage(sessionID, NewMessage{Role: models.RoleAssistant, Content: "reply", Latency: latency, TokensPerSec: tps})
	s.repo.UpdateMetrics(sessionID, MetricsUpdate{FirstTokenLatency: &latency, TokensPerSec: &tps})
}

// TestCreateSnapshotsTitle tests that the prompt title is copied at
// creation time.
func (s *RepositorySuite) TestCreateSnapshotsTitle() {
	p, err := s.prompts.Create("Coach", "body", nil)
	s.Require().NoError(err)

	sess := s.repo.Create(p.ID)
	s.Equal(p.ID, sess.PromptID)
	s.Equal("Coach", sess.PromptTitle)
	s.Nil(sess.EndedAt)
	s.NotNil(sess.Messages)
	s.Empty(sess.Messages)

	// Renaming the prompt afterwards must not touch the session.
	newTitle := "Trainer"
	s.prompts.Update(p.ID, prompts.Update{Title: &newTitle})
	s.Equal("Coach", s.repo.Get(sess.ID).PromptTitle)
}

// TestCreateUnknownPrompt tests the sentinel title for a missing
// prompt.
func (s *RepositorySuite) TestCreateUnknownPrompt() {
	sess := s.repo.Create("deleted-prompt")
	s.Equal(UnknownPromptTitle, sess.PromptTitle)
}

// TestEndIdempotent tests that the first end time sticks.
func (s *RepositorySuite) TestEndIdempotent() {
	sess := s.repo.Create("p1")

	s.repo.End(sess.ID)
	first := s.repo.Get(sess.ID).EndedAt
	s.Require().NotNil(first)

	s.repo.End(sess.ID)
	s.True(s.repo.Get(sess.ID).EndedAt.Equal(*first))
}

// TestEndUnknown tests that ending a missing session is a no-op.
func (s *RepositorySuite) TestEndUnknown() {
	s.NotPanics(func() { s.repo.End("missing") })
}

// TestAddMessage tests message append with fresh identity and counter
// bump.
func (s *RepositorySuite) TestAddMessage() {
	sess := s.repo.Create("p1")

	msg := s.repo.AddMessage(sess.ID, NewMessage{Role: models.RoleUser, Content: "hi"})
	s.Require().NotNil(msg)
	s.NotEmpty(msg.ID)
	s.False(msg.Timestamp.IsZero())

	got := s.repo.Get(sess.ID)
	s.Require().Len(got.Messages, 1)
	s.Equal("hi", got.Messages[0].Content)
	s.Equal(1, got.Metrics.TotalMessages)

	s.Nil(s.repo.AddMessage("missing", NewMessage{Role: models.RoleUser, Content: "x"}))
}

// TestRollingAverage tests the incremental recurrence against the true
// mean: samples 400 then 800 must average to 600.
func (s *RepositorySuite) TestRollingAverage() {
	sess := s.repo.Create("p1")

	s.addAssistant(sess.ID, 400, 40)
	got := s.repo.Get(sess.ID)
	s.Equal(400, got.Metrics.AvgFirstTokenLatency)
	s.Equal(40, got.Metrics.AvgTokensPerSec)

	s.addAssistant(sess.ID, 800, 20)
	got = s.repo.Get(sess.ID)
	s.Equal(600, got.Metrics.AvgFirstTokenLatency)
	s.Equal(30, got.Metrics.AvgTokensPerSec)

	s.addAssistant(sess.ID, 600, 30)
	got = s.repo.Get(sess.ID)
	s.Equal(600, got.Metrics.AvgFirstTokenLatency)
	s.Equal(30, got.Metrics.AvgTokensPerSec)
}

// TestRollingAverageRounds tests half-up rounding of the recurrence.
func (s *RepositorySuite) TestRollingAverageRounds() {
	sess := s.repo.Create("p1")

	s.addAssistant(sess.ID, 100, 10)
	s.addAssistant(sess.ID, 101, 11)

	got := s.repo.Get(sess.ID)
	// (100 + 101) / 2 = 100.5 rounds up.
	s.Equal(101, got.Metrics.AvgFirstTokenLatency)
	s.Equal(11, got.Metrics.AvgTokensPerSec)
}

// TestUpdateMetricsWithoutAssistant tests the divisor floor: a sample
// arriving before any assistant message replaces the zero average.
func (s *RepositorySuite) TestUpdateMetricsWithoutAssistant() {
	sess := s.repo.Create("p1")

	s.repo.UpdateMetrics(sess.ID, MetricsUpdate{FirstTokenLatency: intPtr(500)})
	s.Equal(500, s.repo.Get(sess.ID).Metrics.AvgFirstTokenLatency)
}

// TestErrorCount tests that error increments bypass the averaging.
func (s *RepositorySuite) TestErrorCount() {
	sess := s.repo.Create("p1")

	s.repo.UpdateMetrics(sess.ID, MetricsUpdate{ErrorDelta: 1})
	s.repo.UpdateMetrics(sess.ID, MetricsUpdate{ErrorDelta: 1})

	got := s.repo.Get(sess.ID)
	s.Equal(2, got.Metrics.ErrorCount)
	s.Equal(0, got.Metrics.AvgFirstTokenLatency)
	s.Equal(0, got.Metrics.TotalMessages)
}

// TestUpdateMetricsUnknown tests the no-op on a missing session.
func (s *RepositorySuite) TestUpdateMetricsUnknown() {
	s.NotPanics(func() {
		s.repo.UpdateMetrics("missing", MetricsUpdate{ErrorDelta: 1})
	})
}

// TestListLimit tests newest-first ordering and the default cap.
func (s *RepositorySuite) TestListLimit() {
	var last *models.Session
	for i := 0; i < 12; i++ {
		last = s.repo.Create("p1")
	}

	list := s.repo.List(0)
	s.Len(list, DefaultListLimit)

	list = s.repo.List(3)
	s.Require().Len(list, 3)
	s.Equal(last.ID, list[0].ID)

	s.Len(s.repo.List(100), 12)
	s.Len(s.repo.All(), 12)
}
