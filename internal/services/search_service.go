package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/models"
)

const (
	defaultSearchLimit = 4
	maxSearchLimit     = 20
	// minSimilarity drops matches that are unlikely to answer the query.
	minSimilarity = 0.5
)

var ErrEmptyQuery = errors.New("query is empty")

// SearchService finds the stored chunks most relevant to a free-text query.
type SearchService struct {
	store    core.SearchStore
	embedder core.EmbeddingProvider
}

func NewSearchService(store core.SearchStore, embedder core.EmbeddingProvider) *SearchService {
	return &SearchService{store: store, embedder: embedder}
}

// Search embeds query the same way chunks were embedded and returns up to limit hits, best first.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	query = strings.TrimSpace(strings.ReplaceAll(query, "\n", " "))
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.SearchEmbeddings(ctx, vec, limit, minSimilarity)
}
