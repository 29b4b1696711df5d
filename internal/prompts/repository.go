// Package prompts provides CRUD and search over prompt records.
package prompts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freyalabs/console/internal/store"
	"github.com/freyalabs/console/pkg/models"
)

// ErrValidation is returned when required prompt fields are missing.
// Validation failures are rejected synchronously with no state change.
var ErrValidation = errors.New("missing required prompt fields")

// Update carries a partial prompt mutation. Nil fields are left as-is.
type Update struct {
	Title *string
	Body  *string
	Tags  *[]string
}

// Repository provides prompt operations on top of the store.
type Repository struct {
	store *store.Store
}

// NewRepository creates a prompt repository.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// Create stores a new prompt. The initial body becomes the first entry
// of the append-only versions list.
func (r *Repository) Create(title, body string, tags []string) (*models.Prompt, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title", ErrValidation)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: body", ErrValidation)
	}
	if tags == nil {
		tags = []string{}
	}

	now := time.Now().UTC()
	p := &models.Prompt{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
		Versions:  []models.PromptVersion{{Body: body, Timestamp: now}},
	}
	r.store.PutPrompt(p)
	return p, nil
}

// Get returns the prompt, or nil if unknown.
func (r *Repository) Get(id string) *models.Prompt {
	return r.store.GetPrompt(id)
}

// Update applies a partial mutation. A changed body appends one new
// versions entry; UpdatedAt is refreshed regardless of which fields
// changed. Returns nil if the id is unknown.
func (r *Repository) Update(id string, upd Update) *models.Prompt {
	ok := r.store.UpdatePrompt(id, func(p *models.Prompt) {
		now := time.Now().UTC()
		if upd.Body != nil && *upd.Body != p.Body {
			p.Versions = append(p.Versions, models.PromptVersion{Body: *upd.Body, Timestamp: now})
		}
		if upd.Title != nil {
			p.Title = *upd.Title
		}
		if upd.Body != nil {
			p.Body = *upd.Body
		}
		if upd.Tags != nil {
			p.Tags = append([]string(nil), (*upd.Tags)...)
		}
		p.UpdatedAt = now
	})
	if !ok {
		return nil
	}
	return r.store.GetPrompt(id)
}

// Delete removes the prompt, reporting whether it existed.
func (r *Repository) Delete(id string) bool {
	return r.store.DeletePrompt(id)
}

// List returns all prompts ordered by creation time, newest first.
func (r *Repository) List() []*models.Prompt {
	all := r.store.AllPrompts()
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

// Search returns prompts whose title, body, or any tag contains the
// query, case-insensitively.
func (r *Repository) Search(query string) []*models.Prompt {
	q := strings.ToLower(query)
	var out []*models.Prompt
	for _, p := range r.List() {
		if matchesQuery(p, q) {
			out = append(out, p)
		}
	}
	return out
}

// FilterByTags returns prompts carrying at least one of the given tags.
func (r *Repository) FilterByTags(tags []string) []*models.Prompt {
	var out []*models.Prompt
	for _, p := range r.List() {
		for _, tag := range tags {
			if p.HasTag(tag) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func matchesQuery(p *models.Prompt, q string) bool {
	if strings.Contains(strings.ToLower(p.Title), q) ||
		strings.Contains(strings.ToLower(p.Body), q) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
