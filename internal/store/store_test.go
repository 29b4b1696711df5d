package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	"github.com/freyalabs/console/pkg/models"
)

// StoreSuite is a test suite for store persistence.
type StoreSuite struct {
	suite.Suite
	tempDir      string
	promptsPath  string
	sessionsPath string
}

func (s *StoreSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "store-test-*")
	s.Require().NoError(err)
	s.promptsPath = filepath.Join(s.tempDir, "prompts.json")
	s.sessionsPath = filepath.Join(s.tempDir, "sessions.json")
}

func (s *StoreSuite) TearDownTest() {
	os.RemoveAll(s.tempDir)
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) newStore() *Store {
	return New(Options{PromptsPath: s.promptsPath, SessionsPath: s.sessionsPath})
}

func testPrompt(id, title string, created time.Time) *models.Prompt {
	return &models.Prompt{
		ID:        id,
		Title:     title,
		Body:      "body of " + title,
		Tags:      []string{"test"},
		CreatedAt: created,
		UpdatedAt: created,
		Versions:  []models.PromptVersion{{Body: "body of " + title, Timestamp: created}},
	}
}

// TestSeedOnEmpty tests that a fresh store installs the example prompts.
func (s *StoreSuite) TestSeedOnEmpty() {
	st := s.newStore()
	st.Load()

	prompts, sessions := st.Counts()
	s.Equal(4, prompts)
	s.Equal(0, sessions)

	// The seed must have been persisted immediately.
	_, err := os.Stat(s.promptsPath)
	s.NoError(err)
}

// TestNoReseedWhenSessionsExist tests that seeding only happens when
// both collections are empty.
func (s *StoreSuite) TestNoReseedWhenSessionsExist() {
	st := s.newStore()
	st.Load()
	st.PutSession(&models.Session{ID: "sess-1", StartedAt: time.Now().UTC(), Messages: []models.Message{}})

	// Wipe prompts on disk by deleting every record.
	for _, p := range st.AllPrompts() {
		st.DeletePrompt(p.ID)
	}

	reopened := s.newStore()
	reopened.Load()
	prompts, sessions := reopened.Counts()
	s.Equal(0, prompts)
	s.Equal(1, sessions)
}

// TestRoundTrip tests that records survive a save/load cycle intact.
func (s *StoreSuite) TestRoundTrip() {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := s.newStore()
	st.PutPrompt(testPrompt("p1", "Alpha", created))

	ended := created.Add(time.Minute)
	st.PutSession(&models.Session{
		ID:          "s1",
		PromptID:    "p1",
		PromptTitle: "Alpha",
		StartedAt:   created,
		EndedAt:     &ended,
		Messages: []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hi", Timestamp: created},
			{ID: "m2", Role: models.RoleAssistant, Content: "hello", Timestamp: created, Latency: 400, TokensPerSec: 30},
		},
		Metrics: models.SessionMetrics{AvgFirstTokenLatency: 400, AvgTokensPerSec: 30, TotalMessages: 2, ErrorCount: 1},
	})

	reopened := s.newStore()
	reopened.Load()

	p := reopened.GetPrompt("p1")
	s.Require().NotNil(p)
	s.Equal("Alpha", p.Title)
	s.Equal([]string{"test"}, p.Tags)
	s.Len(p.Versions, 1)

	sess := reopened.GetSession("s1")
	s.Require().NotNil(sess)
	s.Equal("Alpha", sess.PromptTitle)
	s.Require().NotNil(sess.EndedAt)
	s.True(sess.EndedAt.Equal(ended))
	s.Len(sess.Messages, 2)
	s.Equal(400, sess.Messages[1].Latency)
	s.Equal(models.SessionMetrics{AvgFirstTokenLatency: 400, AvgTokensPerSec: 30, TotalMessages: 2, ErrorCount: 1}, sess.Metrics)
}

// TestPairLayout tests the on-disk format: an ordered list of
// [id, record] pairs, sorted by creation time.
func (s *StoreSuite) TestPairLayout() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := s.newStore()
	st.PutPrompt(testPrompt("p-new", "Newer", base.Add(time.Second)))
	st.PutPrompt(testPrompt("p-old", "Older", base))

	data, err := os.ReadFile(s.promptsPath)
	s.Require().NoError(err)

	var raw [][]json.RawMessage
	s.Require().NoError(json.Unmarshal(data, &raw))
	s.Require().Len(raw, 2)
	s.Require().Len(raw[0], 2)

	var firstID string
	s.Require().NoError(json.Unmarshal(raw[0][0], &firstID))
	s.Equal("p-old", firstID)

	var secondID string
	s.Require().NoError(json.Unmarshal(raw[1][0], &secondID))
	s.Equal("p-new", secondID)
}

// TestCorruptFileStartsEmpty tests that unparsable files are discarded
// rather than crashing the load.
func (s *StoreSuite) TestCorruptFileStartsEmpty() {
	s.Require().NoError(os.WriteFile(s.promptsPath, []byte("{not json"), 0o600))
	s.Require().NoError(os.WriteFile(s.sessionsPath, []byte(`[["id-only"]]`), 0o600))

	st := s.newStore()
	st.Load()

	// Both collections were empty after discarding, so the seed runs.
	prompts, sessions := st.Counts()
	s.Equal(4, prompts)
	s.Equal(0, sessions)
}

// TestMemoryOnly tests that a store with no paths works without any
// disk access.
func (s *StoreSuite) TestMemoryOnly() {
	st := New(Options{})
	st.Load()

	st.PutPrompt(testPrompt("p1", "Alpha", time.Now().UTC()))
	s.NotNil(st.GetPrompt("p1"))

	entries, err := os.ReadDir(s.tempDir)
	s.NoError(err)
	s.Empty(entries)
}

// TestUpdateUnknownID tests that mutators report missing records.
func (s *StoreSuite) TestUpdateUnknownID() {
	st := s.newStore()

	called := false
	s.False(st.UpdatePrompt("nope", func(*models.Prompt) { called = true }))
	s.False(called)
	s.False(st.UpdateSession("nope", func(*models.Session) { called = true }))
	s.False(called)
	s.False(st.DeletePrompt("nope"))
}

// TestClonedReads tests that returned records are copies, not aliases
// into the store.
func (s *StoreSuite) TestClonedReads() {
	st := s.newStore()
	st.PutPrompt(testPrompt("p1", "Alpha", time.Now().UTC()))

	got := st.GetPrompt("p1")
	got.Title = "mutated"
	got.Tags[0] = "mutated"

	fresh := st.GetPrompt("p1")
	s.Equal("Alpha", fresh.Title)
	s.Equal([]string{"test"}, fresh.Tags)
}

// TestDeletePersists tests that a delete is reflected on disk.
func (s *StoreSuite) TestDeletePersists() {
	st := s.newStore()
	st.PutPrompt(testPrompt("p1", "Alpha", time.Now().UTC()))
	st.PutPrompt(testPrompt("p2", "Beta", time.Now().UTC()))
	s.True(st.DeletePrompt("p1"))

	reopened := s.newStore()
	reopened.Load()
	s.Nil(reopened.GetPrompt("p1"))
	s.NotNil(reopened.GetPrompt("p2"))
}

// TestSeedFileOverride tests that a YAML seed file replaces the
// built-in prompts.
func (s *StoreSuite) TestSeedFileOverride() {
	seedPath := filepath.Join(s.tempDir, "seeds.yaml")
	seed := "- title: Custom\n  body: Custom body.\n  tags: [custom]\n"
	s.Require().NoError(os.WriteFile(seedPath, []byte(seed), 0o600))

	st := New(Options{PromptsPath: s.promptsPath, SessionsPath: s.sessionsPath, SeedFile: seedPath})
	st.Load()

	all := st.AllPrompts()
	s.Require().Len(all, 1)
	s.Equal("Custom", all[0].Title)
	s.Equal([]string{"custom"}, all[0].Tags)
	s.Len(all[0].Versions, 1)
}
