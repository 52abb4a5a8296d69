package core

import (
	"context"
	"iter"
	"time"
)

// DocumentExtractor defines the interface for extracting text from various document types.
type DocumentExtractor interface {
	// Supports reports whether a file name has an extension this extractor can handle.
	Supports(filename string) bool
	// ExtractText converts raw document bytes into a single text string, possibly empty.
	ExtractText(ctx context.Context, data []byte, filename string) (string, error)
}

// RemoteFile is the narrow view of a file in the learning-management system.
type RemoteFile interface {
	ID() int64
	DisplayName() string
	// FolderPath is the display path of the containing folder, without the course prefix.
	FolderPath() string
	UpdatedAt() time.Time
	// URL is the canonical access URL of the file.
	URL() string
	// Restricted reports files that exist remotely but are hidden or locked for students.
	Restricted() bool
	Fetch(ctx context.Context) ([]byte, error)
}

// FileSource lists the remote file set once per run.
type FileSource interface {
	// Files yields files lazily in listing order. A non-nil error ends the listing.
	Files(ctx context.Context) iter.Seq2[RemoteFile, error]
}
