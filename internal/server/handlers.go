package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/freyalabs/console/internal/prompts"
	"github.com/freyalabs/console/internal/realtime"
)

type promptRequest struct {
	Title *string   `json:"title"`
	Body  *string   `json:"body"`
	Tags  *[]string `json:"tags"`
}

type connectRequest struct {
	PromptID string `json:"promptId"`
	Mode     string `json:"mode"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type microphoneRequest struct {
	Enabled bool `json:"enabled"`
}

// handleListPrompts serves listing, substring search (?q=) and tag
// filtering (?tags=a,b); search wins when both are present.
func (s *Service) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, orEmpty(s.prompts.Search(q)))
		return
	}
	if tags := r.URL.Query().Get("tags"); tags != "" {
		writeJSON(w, http.StatusOK, orEmpty(s.prompts.FilterByTags(splitTags(tags))))
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(s.prompts.List()))
}

func (s *Service) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title, body := "", ""
	if req.Title != nil {
		title = *req.Title
	}
	if req.Body != nil {
		body = *req.Body
	}
	var tags []string
	if req.Tags != nil {
		tags = *req.Tags
	}

	p, err := s.prompts.Create(title, body, tags)
	if err != nil {
		if errors.Is(err, prompts.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Service) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	p := s.prompts.Get(chi.URLParam(r, "id"))
	if p == nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := s.prompts.Update(chi.URLParam(r, "id"), prompts.Update{
		Title: req.Title,
		Body:  req.Body,
		Tags:  req.Tags,
	})
	if p == nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if !s.prompts.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := s.config.SessionListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, orEmpty(s.sessions.List(limit)))
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleGlobalMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Global())
}

func (s *Service) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PromptID == "" {
		writeError(w, http.StatusBadRequest, "promptId is required")
		return
	}
	mode := realtime.Mode(req.Mode)
	if mode != realtime.ModeVoice && mode != realtime.ModeText {
		mode = realtime.ModeVoice
	}

	// The prompt body rides along as connection metadata; a deleted
	// prompt still yields a session, just without a system prompt.
	promptBody := ""
	if p := s.prompts.Get(req.PromptID); p != nil {
		promptBody = p.Body
	}

	if err := s.controller.Connect(r.Context(), req.PromptID, promptBody, mode); err != nil {
		if errors.Is(err, realtime.ErrNotIdle) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.controller.Status())
}

func (s *Service) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.controller.SendMessage(r.Context(), req.Content); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.controller.Status())
}

func (s *Service) handleMicrophone(w http.ResponseWriter, r *http.Request) {
	var req microphoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.controller.SetMuted(r.Context(), !req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Service) handleRealtimeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// orEmpty turns a nil slice into an empty one so JSON lists are never
// null.
func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
