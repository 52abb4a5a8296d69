package ingestion_engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/coursebot/internal/core"
)

// Mode selects how much of the remote file set a run re-ingests.
type Mode int

const (
	// Incremental ingests unknown files and files modified within StaleAfter.
	Incremental Mode = iota
	// Full re-ingests every supported file.
	Full
)

func (m Mode) String() string {
	if m == Full {
		return "full"
	}
	return "incremental"
}

// IngestConfig tunes a reconciliation run.
//
// StaleAfter:     in incremental mode, known files modified longer ago than this are skipped.
// ArchiveBucket:  S3 bucket for raw files; empty disables archiving.
// SkipRestricted: hidden or locked files are treated as absent, so stored copies of them are removed.
type IngestConfig struct {
	StaleAfter     time.Duration
	ArchiveBucket  string
	SkipRestricted bool
}

// RunStats summarises one run. Every listed file lands in exactly one outcome counter.
type RunStats struct {
	Mode        string        `json:"mode"`
	Listed      int           `json:"listed"`
	Unsupported int           `json:"unsupported"`
	Skipped     int           `json:"skipped"`
	Unchanged   int           `json:"unchanged"`
	Empty       int           `json:"empty"`
	Inserted    int           `json:"inserted"`
	Updated     int           `json:"updated"`
	Renamed     int           `json:"renamed"`
	Failed      int           `json:"failed"`
	Deleted     int           `json:"deleted"`
	Duration    time.Duration `json:"duration_ns"`
}

// outcome is the terminal classification of one remote file.
type outcome int

const (
	outcomeUnsupported outcome = iota
	outcomeSkipped
	outcomeUnchanged
	outcomeEmpty
	outcomeInserted
	outcomeUpdated
	// same text, new name, folder or url
	outcomeRenamed
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeUnsupported:
		return "unsupported"
	case outcomeSkipped:
		return "skipped"
	case outcomeUnchanged:
		return "unchanged"
	case outcomeEmpty:
		return "empty"
	case outcomeInserted:
		return "inserted"
	case outcomeUpdated:
		return "updated"
	case outcomeRenamed:
		return "renamed"
	default:
		return "failed"
	}
}

func (s *RunStats) record(o outcome) {
	switch o {
	case outcomeUnsupported:
		s.Unsupported++
	case outcomeSkipped:
		s.Skipped++
	case outcomeUnchanged:
		s.Unchanged++
	case outcomeEmpty:
		s.Empty++
	case outcomeInserted:
		s.Inserted++
	case outcomeUpdated:
		s.Updated++
	case outcomeRenamed:
		s.Renamed++
	default:
		s.Failed++
	}
}

// Reconciler keeps the resource store in line with the remote file set:
//
// store:     persistence for resources and embedding rows.
// source:    remote listing (Canvas).
// extractor: binary document to text.
// segmenter: text to chunks through the LLM.
// embedder:  chunk to vector.
// obj:       optional raw-file archive; nil disables it.
// running:   refuses overlapping runs inside this process.
type Reconciler struct {
	store     core.ResourceStore
	source    core.FileSource
	extractor core.DocumentExtractor
	segmenter *Segmenter
	embedder  core.EmbeddingProvider
	obj       core.ObjectClient
	cfg       *IngestConfig
	logger    *slog.Logger
	now       func() time.Time
	running   sync.Mutex
}

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}
