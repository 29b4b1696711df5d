// Package store implements the durable key-value store backing the
// console. Two collections (prompts, sessions) are held in memory and
// mirrored wholesale to two JSON files on every mutation. The in-memory
// maps are the source of truth; persistence failures are logged and
// swallowed, and the next mutation tries again.
package store

import (
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/freyalabs/console/pkg/models"
)

// Options configure a Store. Empty paths put the store into memory-only
// mode (headless or test contexts where no durable medium is available).
type Options struct {
	PromptsPath  string
	SessionsPath string
	// SeedFile optionally overrides the built-in seed prompts (YAML).
	SeedFile string
}

// Store owns the prompt and session collections. All other components
// access records only through it, so in-memory and persisted state
// cannot diverge.
type Store struct {
	opts Options

	// mu guards both collections. Mutators hold the write lock across
	// the mutation and the save, so readers always see a stable snapshot.
	mu       sync.RWMutex
	prompts  map[string]*models.Prompt
	sessions map[string]*models.Session
}

// New creates a store. Call Load before use.
func New(opts Options) *Store {
	return &Store{
		opts:     opts,
		prompts:  make(map[string]*models.Prompt),
		sessions: make(map[string]*models.Session),
	}
}

// Load restores both collections from disk. Absent or corrupt files
// leave the collections empty. If both collections are empty afterwards,
// the store is seeded with example prompts and saved.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = loadCollection[models.Prompt](s.opts.PromptsPath)
	s.sessions = loadCollection[models.Session](s.opts.SessionsPath)

	if len(s.prompts) == 0 && len(s.sessions) == 0 {
		for _, p := range seedPrompts(s.opts.SeedFile) {
			s.prompts[p.ID] = p
		}
		log.Info().Int("prompts", len(s.prompts)).Msg("Seeded example prompts")
		s.save()
		return
	}

	log.Info().
		Int("prompts", len(s.prompts)).
		Int("sessions", len(s.sessions)).
		Msg("Loaded collections from disk")
}

// Save serializes both collections in full and writes them atomically
// (temp file + rename), so a reader never observes a half-written file.
// Failures are logged and swallowed.
func (s *Store) Save() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.save()
}

// save persists both collections. Callers must hold at least a read lock.
func (s *Store) save() {
	saveCollection(s.opts.PromptsPath, s.prompts, func(p *models.Prompt) string {
		return p.CreatedAt.Format(sortKeyLayout) + p.ID
	})
	saveCollection(s.opts.SessionsPath, s.sessions, func(sess *models.Session) string {
		return sess.StartedAt.Format(sortKeyLayout) + sess.ID
	})
}

// sortKeyLayout orders persisted pairs by creation time with nanosecond
// precision, matching in-memory insertion order.
const sortKeyLayout = "2006-01-02T15:04:05.000000000"

// GetPrompt returns a copy of the prompt, or nil if absent.
func (s *Store) GetPrompt(id string) *models.Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts[id].Clone()
}

// AllPrompts returns copies of every prompt, in unspecified order.
func (s *Store) AllPrompts() []*models.Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p.Clone())
	}
	return out
}

// PutPrompt stores the prompt and persists both collections.
func (s *Store) PutPrompt(p *models.Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.ID] = p.Clone()
	s.save()
}

// UpdatePrompt mutates the prompt under the store's ownership. Returns
// false if the id is unknown, in which case fn is not called.
func (s *Store) UpdatePrompt(id string, fn func(*models.Prompt)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return false
	}
	fn(p)
	s.save()
	return true
}

// DeletePrompt removes the prompt, reporting whether it existed.
func (s *Store) DeletePrompt(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[id]; !ok {
		return false
	}
	delete(s.prompts, id)
	s.save()
	return true
}

// GetSession returns a copy of the session, or nil if absent.
func (s *Store) GetSession(id string) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id].Clone()
}

// AllSessions returns copies of every session, in unspecified order.
func (s *Store) AllSessions() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// PutSession stores the session and persists both collections.
func (s *Store) PutSession(sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	s.save()
}

// UpdateSession mutates the session under the store's ownership. Returns
// false if the id is unknown, in which case fn is not called.
func (s *Store) UpdateSession(id string, fn func(*models.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(sess)
	s.save()
	return true
}

// Counts returns the sizes of both collections.
func (s *Store) Counts() (prompts, sessions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prompts), len(s.sessions)
}

var errMalformedPair = errors.New("store: malformed [id, record] pair")

// pair is one [id, record] tuple in the persisted layout. Each
// collection file is an ordered JSON list of such tuples.
type pair[T any] struct {
	ID     string
	Record *T
}

func (p pair[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.ID, p.Record})
}

func (p *pair[T]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errMalformedPair
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	p.Record = new(T)
	return json.Unmarshal(raw[1], p.Record)
}

// loadCollection reads one collection file. Any failure yields an empty
// collection; corrupt state is never allowed to take the process down.
func loadCollection[T any](path string) map[string]*T {
	out := make(map[string]*T)
	if path == "" {
		return out
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read collection, starting empty")
		}
		return out
	}

	var pairs []pair[T]
	if err := json.Unmarshal(data, &pairs); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Corrupt collection file, starting empty")
		return out
	}

	for _, kv := range pairs {
		if kv.ID == "" || kv.Record == nil {
			continue
		}
		out[kv.ID] = kv.Record
	}
	return out
}

// saveCollection writes one collection as an ordered list of [id, record]
// pairs. sortKey fixes the on-disk ordering (creation order).
func saveCollection[T any](path string, coll map[string]*T, sortKey func(*T) string) {
	if path == "" {
		return
	}

	pairs := make([]pair[T], 0, len(coll))
	for id, rec := range coll {
		pairs = append(pairs, pair[T]{ID: id, Record: rec})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return sortKey(pairs[i].Record) < sortKey(pairs[j].Record)
	})

	data, err := json.Marshal(pairs)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to serialize collection")
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write collection")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to replace collection file")
		_ = os.Remove(tmp)
	}
}
