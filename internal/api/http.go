// Package api exposes the memory store over two surfaces: a bearer-token
// HTTP management API and an MCP server for model tool use.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatmem/chatmem/internal/memory"
	"github.com/chatmem/chatmem/internal/profile"
	"github.com/chatmem/chatmem/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP management API.
type AppDeps struct {
	Memory  *memory.Store
	Profile *profile.Manager
	Token   string
}

// NewAppHandler wires the management API. Everything except /health sits
// behind bearer auth.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/discussions", handleFindDiscussions(deps))
		r.Get("/discussions/{ref}", handleGetDiscussion(deps))
		r.Patch("/discussions/{ref}", handleModifyDiscussion(deps))
		r.Get("/discussions/{ref}/categories", handleListCategories(deps))
		r.Put("/discussions/{ref}/categories", handleAssignCategory(deps))
		r.Delete("/discussions/{ref}/categories/{name}", handleRemoveCategory(deps))

		r.Post("/dialogue-units", handleAddDialogueUnit(deps))
		r.Get("/dialogue-units/{id}", handleGetDialogueUnit(deps))
		r.Post("/search", handleSearch(deps))

		r.Post("/statistics", handleStatistics(deps))
		r.Get("/summaries", handleSummaries(deps))
		r.Put("/session/cost", handleUpdateCost(deps))

		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleFindDiscussions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// The limit goes through raw: values over the cap are a hard error
		// from the facade, not a clamp.
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit: %v", err)
				return
			}
			limit = n
		}
		f := memory.DiscussionFilter{
			Title:          q.Get("title"),
			Category:       q.Get("category"),
			CategoryScore:  q.Get("category_score"),
			Cost:           q.Get("cost"),
			OrderBy:        q.Get("order_by"),
			OrderDirection: q.Get("order"),
			Limit:          limit,
			Page:           parseIntParam(r, "page", 0, 0),
		}
		if v := q.Get("featured"); v != "" {
			featured := v == "true" || v == "1"
			f.Featured = &featured
		}
		var err error
		if f.StartedAfter, err = parseTimeParam(q.Get("started_after")); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "started_after: %v", err)
			return
		}
		if f.StartedBefore, err = parseTimeParam(q.Get("started_before")); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "started_before: %v", err)
			return
		}
		if f.EndedAfter, err = parseTimeParam(q.Get("ended_after")); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ended_after: %v", err)
			return
		}
		if f.EndedBefore, err = parseTimeParam(q.Get("ended_before")); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ended_before: %v", err)
			return
		}

		ids, err := deps.Memory.FindDiscussions(f)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"discussion_ids": ids})
	}
}

func handleGetDiscussion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Memory.DiscussionByID(chi.URLParam(r, "ref"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, v)
	}
}

func handleModifyDiscussion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Title    *string `json:"title"`
			Featured *bool   `json:"featured"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Memory.ModifyDiscussion(chi.URLParam(r, "ref"), req.Title, req.Featured); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleListCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := deps.Memory.CategoriesFor(chi.URLParam(r, "ref"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if cats == nil {
			cats = []storage.Category{}
		}
		writeJSON(w, cats)
	}
}

func handleAssignCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Name  string  `json:"name"`
			Score float64 `json:"score"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if err := deps.Memory.AssignCategory(chi.URLParam(r, "ref"), req.Name, req.Score); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "assigned"})
	}
}

func handleRemoveCategory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Memory.RemoveCategory(chi.URLParam(r, "ref"), chi.URLParam(r, "name"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "removed"})
	}
}

func handleAddDialogueUnit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Prompt    string             `json:"prompt"`
			Response  string             `json:"response"`
			Intent    string             `json:"intent"`
			Topics    []string           `json:"topics"`
			Sentiment *storage.Sentiment `json:"sentiment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Prompt == "" || req.Response == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt and response are required")
			return
		}

		id, err := deps.Memory.AddDialogueUnit(req.Prompt, req.Response, req.Intent, req.Topics, req.Sentiment)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"dialogue_unit_id": id})
	}
}

func handleGetDialogueUnit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "dialogue unit id must be numeric")
			return
		}
		v, err := deps.Memory.DialogueUnitByID(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, v)
	}
}

// SearchRequest is the body of POST /search: relational filters plus an
// optional phrase for semantic ranking.
type SearchRequest struct {
	Phrase       string            `json:"phrase"`
	Topic        string            `json:"topic"`
	Sentiment    map[string]string `json:"sentiment"`
	DiscussionID string            `json:"discussion_id"`
	Intent       string            `json:"intent"`
	Prompt       string            `json:"prompt"`
	Response     string            `json:"response"`
	After        string            `json:"after"`
	Before       string            `json:"before"`
	OrderBy      string            `json:"order_by"`
	Order        string            `json:"order"`
	Limit        int               `json:"limit"`
	Page         int               `json:"page"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		f := memory.UnitFilter{
			Topic:          req.Topic,
			Sentiment:      req.Sentiment,
			DiscussionID:   req.DiscussionID,
			Intent:         req.Intent,
			Prompt:         req.Prompt,
			Response:       req.Response,
			OrderBy:        req.OrderBy,
			OrderDirection: req.Order,
			Limit:          req.Limit,
			Page:           req.Page,
		}
		var err error
		if f.After, err = parseTimeParam(req.After); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "after: %v", err)
			return
		}
		if f.Before, err = parseTimeParam(req.Before); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "before: %v", err)
			return
		}

		res, err := deps.Memory.FindDialogueUnits(r.Context(), f, req.Phrase)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := map[string]any{"dialogue_unit_ids": res.IDs}
		if res.Distances != nil {
			resp["distances"] = res.Distances
		}
		writeJSON(w, resp)
	}
}

func handleStatistics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Type     string            `json:"type"`
			Entity   string            `json:"entity"`
			Grouping string            `json:"grouping"`
			Filters  map[string]string `json:"filters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rows, err := deps.Memory.Statistics(memory.StatsParams{
			Type:     req.Type,
			Entity:   req.Entity,
			Grouping: req.Grouping,
			Filters:  req.Filters,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if rows == nil {
			rows = []memory.StatRow{}
		}
		writeJSON(w, rows)
	}
}

func handleUpdateCost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Cost float64 `json:"cost"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Memory.UpdateCurrentCost(req.Cost); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleSummaries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 1, 20)
		summaries, err := deps.Memory.LastSummaries(limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if summaries == nil {
			summaries = []string{}
		}
		writeJSON(w, summaries)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		for key, value := range fields {
			if err := deps.Profile.Set(key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "setting field %q: %v", key, err)
				return
			}
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

// writeDomainError maps facade errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrInvalidArgument), errors.Is(err, memory.ErrNoSession):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
