package models

import (
	"time"
)

// Resource is one ingested course document. ID is the remote file id, never a fresh one.
type Resource struct {
	ID          string    `db:"id" json:"id"`
	Content     string    `db:"content" json:"-"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	FileName    string    `db:"filename" json:"filename"`
	URL         string    `db:"url" json:"url"`
	FilePath    string    `db:"filepath" json:"filepath"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// EmbeddingRow represents one chunk of a resource and its vector.
type EmbeddingRow struct {
	ID         string    `db:"id" json:"id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	Content    string    `db:"content" json:"content"`
	Embedding  []float32 `db:"embedding" json:"embedding"` // pgvector column
}

// PromptQuestion is a generated comprehension question about a resource.
type PromptQuestion struct {
	ID         string    `db:"id" json:"id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	Question   string    `db:"question" json:"question"`
	Topic      string    `db:"topic" json:"topic"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SearchHit is one chunk returned by a similarity search, with its resource metadata.
type SearchHit struct {
	ResourceID string  `json:"resource_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	FileName   string  `json:"filename"`
	URL        string  `json:"url"`
	FilePath   string  `json:"filepath"`
}

// UpsertResult tells the caller which conflict path an upsert took.
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}
