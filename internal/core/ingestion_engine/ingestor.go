package ingestion_engine

import "context"

// Ingestor runs one reconciliation pass; the CLI and HTTP surface depend on this, not on Reconciler.
type Ingestor interface {
	Run(ctx context.Context, mode Mode) (*RunStats, error)
}

var _ Ingestor = (*Reconciler)(nil)
