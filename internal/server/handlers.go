package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"podpipe/internal/core"

	"github.com/go-chi/chi/v5"
)

const (
	defaultSummaryLimit = 50
	maxSummaryLimit     = 500
)

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// StatsResponse wraps store statistics with server uptime
type StatsResponse struct {
	Uptime string `json:"uptime"`
	*core.Stats
}

// EpisodeDetail is an episode with its stage outputs
type EpisodeDetail struct {
	Episode    *core.Episode    `json:"episode"`
	Transcript *core.Transcript `json:"transcript,omitempty"`
	Summary    *core.Summary    `json:"summary,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}

	checks["database"] = "ok"
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, StatsResponse{
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Stats:  stats,
	})
}

// handleListEpisodes handles GET /api/episodes?status=
func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	statuses := core.AllStatuses
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := core.ParseStatus(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		statuses = []core.Status{status}
	}

	episodes := []core.Episode{}
	for _, status := range statuses {
		eps, err := s.store.EpisodesByStatus(r.Context(), status)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to list episodes", err)
			return
		}
		episodes = append(episodes, eps...)
	}
	s.respondJSON(w, http.StatusOK, episodes)
}

// handleGetEpisode handles GET /api/episodes/{id}
func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid episode id", nil)
		return
	}

	ctx := r.Context()
	ep, err := s.store.GetEpisode(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "episode not found", nil)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load episode", err)
		return
	}

	detail := EpisodeDetail{Episode: ep}
	if t, err := s.store.GetTranscript(ctx, id); err == nil {
		detail.Transcript = t
	} else if !errors.Is(err, core.ErrNotFound) {
		s.respondError(w, http.StatusInternalServerError, "failed to load transcript", err)
		return
	}
	if sum, err := s.store.GetSummary(ctx, id); err == nil {
		detail.Summary = sum
	} else if !errors.Is(err, core.ErrNotFound) {
		s.respondError(w, http.StatusInternalServerError, "failed to load summary", err)
		return
	}

	s.respondJSON(w, http.StatusOK, detail)
}

// handleListSummaries handles GET /api/summaries?limit=
func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	limit := defaultSummaryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = min(n, maxSummaryLimit)
	}

	summaries, err := s.store.ListSummaries(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list summaries", err)
		return
	}
	if summaries == nil {
		summaries = []core.EpisodeSummary{}
	}
	s.respondJSON(w, http.StatusOK, summaries)
}

// handleTopics handles GET /api/topics?refresh=true
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if s.topics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "topic analysis is not configured", nil)
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	analysis, err := s.topics.Analyze(r.Context(), refresh)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to analyze topics", err)
		return
	}
	s.respondJSON(w, http.StatusOK, analysis)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.log.Error(message, "error", err)
	}
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
