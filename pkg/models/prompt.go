// Package models contains domain models for the agent console.
package models

import "time"

// PromptVersion is one committed body revision of a prompt.
type PromptVersion struct {
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Prompt is a reusable agent prompt managed by the console.
type Prompt struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Tags      []string        `json:"tags"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Versions  []PromptVersion `json:"versions,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p *Prompt) Clone() *Prompt {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	cp.Versions = append([]PromptVersion(nil), p.Versions...)
	return &cp
}

// HasTag reports whether the prompt carries the exact tag.
func (p *Prompt) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
