package core

import (
	"context"
	"io"

	"github.com/markdave123-py/coursebot/internal/models"
)

// ResourceStore is the durable home of resources and their embedding rows.
// It abstracts Postgres/pgvector so the reconciler never depends on a specific DB.
type ResourceStore interface {
	// ListResourceIDs returns a snapshot of every stored resource id.
	ListResourceIDs(ctx context.Context) (map[string]struct{}, error)
	// ContentHash returns the stored content hash for id, or "" when id is unknown.
	ContentHash(ctx context.Context, id string) (string, error)
	// UpdateMetadata overwrites filename, url and filepath of an existing resource when any of them differ,
	// reporting whether a row changed.
	UpdateMetadata(ctx context.Context, res *models.Resource) (bool, error)
	// InTx runs fn against a writer whose effects commit together or not at all.
	InTx(ctx context.Context, fn func(w ResourceWriter) error) error
	// DeleteResource removes a resource; its embedding rows and questions cascade.
	DeleteResource(ctx context.Context, id string) error
	// AcquireRunLock serialises ingestion runs across processes.
	AcquireRunLock(ctx context.Context) (release func(), err error)
}

// ResourceWriter holds the per-document write operations.
type ResourceWriter interface {
	// UpsertResource inserts res or overwrites every field, reporting which happened.
	UpsertResource(ctx context.Context, res *models.Resource) (models.UpsertResult, error)
	// ReplaceEmbeddings drops every prior row for resourceID, then inserts rows.
	ReplaceEmbeddings(ctx context.Context, resourceID string, rows []models.EmbeddingRow) error
	// InsertEmbeddings bulk-inserts rows for a freshly inserted resource.
	InsertEmbeddings(ctx context.Context, resourceID string, rows []models.EmbeddingRow) error
}

// QuestionStore backs the question generation job and the admin surface.
type QuestionStore interface {
	ListResources(ctx context.Context) ([]models.Resource, error)
	HasPromptQuestions(ctx context.Context, resourceID string) (bool, error)
	ReplacePromptQuestions(ctx context.Context, resourceID string, questions []models.PromptQuestion) error
	DeleteAllResources(ctx context.Context) (int64, error)
}

// SearchStore answers nearest-neighbour queries over embedding rows.
type SearchStore interface {
	SearchEmbeddings(ctx context.Context, vec []float32, limit int, minSimilarity float64) ([]models.SearchHit, error)
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
