package services

import (
	"context"
	"log/slog"

	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/models"
)

// ResourceService exposes read and purge access to ingested resources.
type ResourceService struct {
	store  core.QuestionStore
	logger *slog.Logger
}

func NewResourceService(store core.QuestionStore, logger *slog.Logger) *ResourceService {
	return &ResourceService{store: store, logger: logger}
}

func (s *ResourceService) List(ctx context.Context) ([]models.Resource, error) {
	return s.store.ListResources(ctx)
}

// Purge deletes every resource; embeddings and questions go with them.
func (s *ResourceService) Purge(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteAllResources(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("ResourceService: purged all resources", "deleted", n)
	return n, nil
}
