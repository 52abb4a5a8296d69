package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/markdave123-py/coursebot/internal/services"
)

type SearchHandler struct {
	search *services.SearchService
	logger *slog.Logger
}

func NewSearchHandler(search *services.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{search: search, logger: logger}
}

// Search handles GET /api/search?q=...&limit=n and returns the closest course chunks.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := h.search.Search(r.Context(), r.URL.Query().Get("q"), limit)
	switch {
	case errors.Is(err, services.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("SearchHandler: search failed", "err", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
