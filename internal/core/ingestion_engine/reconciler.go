package ingestion_engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/models"
)

// NewReconciler wires the collaborators of a run. obj may be nil when archiving is disabled.
func NewReconciler(
	store core.ResourceStore,
	source core.FileSource,
	extractor core.DocumentExtractor,
	segmenter *Segmenter,
	embedder core.EmbeddingProvider,
	obj core.ObjectClient,
	cfg *IngestConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:     store,
		source:    source,
		extractor: extractor,
		segmenter: segmenter,
		embedder:  embedder,
		obj:       obj,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one reconciliation pass over the remote file set.
//
// The store snapshot and the remote listing are the only inputs; the Reconciler keeps nothing between runs,
// so a crashed run is repaired by running again. Per-file failures are logged and counted. The returned
// error is reserved for run-level failures: lock, snapshot, listing, cancellation. Orphan cleanup only
// happens after a complete listing.
func (r *Reconciler) Run(ctx context.Context, mode Mode) (*RunStats, error) {
	if !r.running.TryLock() {
		return nil, core.ErrRunInProgress
	}
	defer r.running.Unlock()

	release, err := r.store.AcquireRunLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer release()

	start := r.now()
	known, err := r.store.ListResourceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot resource ids: %w", err)
	}
	r.logger.Info("Reconciler: run started", "mode", mode, "known", len(known))

	stats := &RunStats{Mode: mode.String()}
	seen := make(map[string]struct{}, len(known))

	for f, err := range r.source.Files(ctx) {
		if err != nil {
			stats.Duration = r.now().Sub(start)
			return stats, fmt.Errorf("list remote files: %w", err)
		}
		stats.Listed++

		id := strconv.FormatInt(f.ID(), 10)
		if f.Restricted() && r.cfg.SkipRestricted {
			// treated as absent remotely, so cleanup drops any stored copy
			r.logger.Debug("Reconciler: restricted file skipped", "id", id, "file", f.DisplayName())
			stats.record(outcomeSkipped)
			continue
		}
		seen[id] = struct{}{}

		o, err := r.reconcileFile(ctx, f, id, known, mode, start)
		if err != nil {
			o = outcomeFailed
			r.logger.Error("Reconciler: file failed", "id", id, "file", f.DisplayName(), "err", err)
		} else if o >= outcomeUnchanged {
			r.logger.Info("Reconciler: file reconciled", "id", id, "file", f.DisplayName(), "outcome", o)
		} else {
			r.logger.Debug("Reconciler: file skipped", "id", id, "file", f.DisplayName(), "outcome", o)
		}
		stats.record(o)
	}

	if err := ctx.Err(); err != nil {
		stats.Duration = r.now().Sub(start)
		return stats, fmt.Errorf("run interrupted: %w", err)
	}

	stats.Deleted = r.removeOrphans(ctx, known, seen)
	stats.Duration = r.now().Sub(start)

	r.logger.Info("Reconciler: run finished",
		"mode", stats.Mode,
		"listed", stats.Listed,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"renamed", stats.Renamed,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
		"unsupported", stats.Unsupported,
		"empty", stats.Empty,
		"failed", stats.Failed,
		"deleted", stats.Deleted,
		"duration", stats.Duration,
	)
	return stats, nil
}

// reconcileFile decides and applies the action for one remote file. Nothing is written unless every
// chunk was embedded, and the write itself commits as one transaction.
func (r *Reconciler) reconcileFile(
	ctx context.Context,
	f core.RemoteFile,
	id string,
	known map[string]struct{},
	mode Mode,
	runStart time.Time,
) (outcome, error) {
	name := f.DisplayName()
	if !r.extractor.Supports(name) {
		return outcomeUnsupported, nil
	}

	_, isKnown := known[id]
	if mode == Incremental && isKnown && !f.UpdatedAt().After(runStart.Add(-r.cfg.StaleAfter)) {
		return outcomeSkipped, nil
	}

	data, fromArchive, err := r.fetch(ctx, f, id, isKnown)
	if err != nil {
		return outcomeFailed, err
	}

	text, err := r.extractor.ExtractText(ctx, data, name)
	if err != nil {
		return outcomeFailed, fmt.Errorf("extract: %w", err)
	}
	text = sanitize(text)

	res := &models.Resource{
		ID:          id,
		Content:     text,
		ContentHash: contentHash(text),
		FileName:    sanitize(name),
		URL:         f.URL(),
		FilePath:    sanitize(resourcePath(f.FolderPath(), name)),
	}

	if mode == Incremental && isKnown {
		stored, err := r.store.ContentHash(ctx, id)
		if err != nil {
			return outcomeFailed, fmt.Errorf("load content hash: %w", err)
		}
		if stored == res.ContentHash {
			// same text; a rename or move still has to reach the store
			changed, err := r.store.UpdateMetadata(ctx, res)
			if err != nil {
				return outcomeFailed, err
			}
			if changed {
				return outcomeRenamed, nil
			}
			return outcomeUnchanged, nil
		}
	}

	chunks, windows, err := r.segmenter.Segment(ctx, text)
	if err != nil {
		return outcomeFailed, err
	}
	r.logChunkStats(id, name, windows, chunks)
	if len(chunks) == 0 {
		return outcomeEmpty, nil
	}

	rows := make([]models.EmbeddingRow, 0, len(chunks))
	for i, c := range chunks {
		c = sanitize(c)
		vec, err := r.embedder.Embed(ctx, strings.ReplaceAll(c, "\n", " "))
		if err != nil {
			return outcomeFailed, fmt.Errorf("embed chunk %d/%d: %w", i+1, len(chunks), err)
		}
		rows = append(rows, models.EmbeddingRow{ResourceID: id, Content: c, Embedding: vec})
	}

	var result models.UpsertResult
	err = r.store.InTx(ctx, func(w core.ResourceWriter) error {
		var err error
		result, err = w.UpsertResource(ctx, res)
		if err != nil {
			return err
		}
		if result == models.Updated {
			return w.ReplaceEmbeddings(ctx, id, rows)
		}
		return w.InsertEmbeddings(ctx, id, rows)
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("persist: %w", err)
	}

	if !fromArchive {
		r.archive(ctx, id, name, data)
	}

	if result == models.Updated {
		return outcomeUpdated, nil
	}
	return outcomeInserted, nil
}

// removeOrphans deletes every snapshot id the listing no longer contains. Failures are logged and retried
// by the next run.
func (r *Reconciler) removeOrphans(ctx context.Context, known, seen map[string]struct{}) int {
	var orphans []string
	for id := range known {
		if _, ok := seen[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)

	deleted := 0
	for _, id := range orphans {
		if err := r.store.DeleteResource(ctx, id); err != nil {
			r.logger.Error("Reconciler: orphan delete failed", "id", id, "err", err)
			continue
		}
		deleted++
		r.logger.Info("Reconciler: orphan deleted", "id", id)
		r.unarchive(ctx, id)
	}
	return deleted
}

// fetch downloads the file from the source. When that fails for a resource ingested before, the archived
// copy stands in for it.
func (r *Reconciler) fetch(ctx context.Context, f core.RemoteFile, id string, isKnown bool) ([]byte, bool, error) {
	data, err := f.Fetch(ctx)
	if err == nil {
		return data, false, nil
	}
	if !isKnown || r.obj == nil || r.cfg.ArchiveBucket == "" || ctx.Err() != nil {
		return nil, false, fmt.Errorf("fetch: %w", err)
	}

	archived, aerr := r.obj.GetFile(ctx, r.cfg.ArchiveBucket, archiveKey(id))
	if aerr != nil {
		return nil, false, fmt.Errorf("fetch: %w (archive: %v)", err, aerr)
	}
	r.logger.Warn("Reconciler: fetch failed, using archived copy", "id", id, "err", err)
	return archived, true, nil
}

func (r *Reconciler) archive(ctx context.Context, id, name string, data []byte) {
	if r.obj == nil || r.cfg.ArchiveBucket == "" {
		return
	}
	url, err := r.obj.UploadFile(ctx, r.cfg.ArchiveBucket, archiveKey(id), bytes.NewReader(data), contentType(name))
	if err != nil {
		r.logger.Warn("Reconciler: archive upload failed", "id", id, "err", err)
		return
	}
	r.logger.Debug("Reconciler: archived", "id", id, "url", url)
}

func (r *Reconciler) unarchive(ctx context.Context, id string) {
	if r.obj == nil || r.cfg.ArchiveBucket == "" {
		return
	}
	if err := r.obj.DeleteFile(ctx, r.cfg.ArchiveBucket, archiveKey(id)); err != nil {
		r.logger.Warn("Reconciler: archive delete failed", "id", id, "err", err)
	}
}

func (r *Reconciler) logChunkStats(id, name string, windows int, chunks []string) {
	if len(chunks) == 0 {
		r.logger.Info("Reconciler: no chunks in segmentation reply", "id", id, "file", name, "windows", windows)
		return
	}
	total, smallest, largest := 0, len(chunks[0]), 0
	for _, c := range chunks {
		total += len(c)
		smallest = min(smallest, len(c))
		largest = max(largest, len(c))
	}
	r.logger.Info("Reconciler: segmented",
		"id", id,
		"file", name,
		"windows", windows,
		"chunks", len(chunks),
		"chars", total,
		"min_chunk", smallest,
		"max_chunk", largest,
	)
}

func archiveKey(id string) string {
	return "resources/" + id
}

// sanitize strips NUL characters, which Postgres text columns reject.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func resourcePath(folder, name string) string {
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
