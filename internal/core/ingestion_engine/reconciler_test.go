package ingestion_engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/coursebot/internal/core"
)

var runStart = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func recent() time.Time { return runStart.Add(-time.Hour) }
func stale() time.Time  { return runStart.Add(-72 * time.Hour) }

type harness struct {
	store   *memStore
	source  *fakeSource
	llm     *echoLLM
	embed   *fakeEmbedder
	objects *fakeObjects
	rec     *Reconciler
}

func newHarness(windowTokens int, files ...*fakeFile) *harness {
	h := &harness{
		store:   newMemStore(),
		source:  &fakeSource{files: files},
		llm:     &echoLLM{},
		embed:   &fakeEmbedder{},
		objects: &fakeObjects{},
	}
	seg := NewSegmenter(h.llm, newWordTokenizer(), windowTokens)
	cfg := &IngestConfig{StaleAfter: 24 * time.Hour, ArchiveBucket: "course-archive"}
	h.rec = NewReconciler(h.store, h.source, textExtractor{}, seg, h.embed, h.objects, cfg, discardLogger())
	h.rec.now = func() time.Time { return runStart }
	return h
}

func TestReconcile_ChangedNewAndRemovedFiles(t *testing.T) {
	h := newHarness(0,
		&fakeFile{id: 2, name: "week2.pdf", folder: "Lectures", updated: recent(), body: "fresh content two"},
		&fakeFile{id: 3, name: "week3.pptx", folder: "Lectures", updated: stale(), body: "brand new three"},
	)
	h.store.seed("1", "old one", "old one")
	h.store.seed("2", "old two", "old two a", "old two b")

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Listed)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, stats.Failed)

	assert.NotContains(t, h.store.resources, "1")
	assert.Nil(t, h.store.embeddings["1"])

	assert.Equal(t, "fresh content two", h.store.resources["2"].Content)
	assert.Equal(t, []string{"fresh content two"}, h.store.chunkTexts("2"))
	assert.Equal(t, "Lectures/week2.pdf", h.store.resources["2"].FilePath)

	assert.Equal(t, "brand new three", h.store.resources["3"].Content)
	assert.Equal(t, []string{"brand new three"}, h.store.chunkTexts("3"))

	assert.Equal(t, []string{
		"upsert:2:updated", "clear:2", "insert:2",
		"upsert:3:inserted", "insert:3",
		"delete:1",
	}, h.store.ops)

	assert.Equal(t, []string{"course-archive/resources/2", "course-archive/resources/3"}, h.objects.uploads)
	assert.Equal(t, []string{"course-archive/resources/1"}, h.objects.deletes)
}

func TestReconcile_SecondRunIsNoOp(t *testing.T) {
	h := newHarness(0,
		&fakeFile{id: 10, name: "syllabus.pdf", updated: recent(), body: "course syllabus"},
		&fakeFile{id: 11, name: "notes.pdf", updated: stale(), body: "lecture notes"},
	)

	first, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	opsAfterFirst := len(h.store.ops)
	llmCalls := len(h.llm.windows)

	second, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Len(t, h.store.ops, opsAfterFirst)
	assert.Len(t, h.llm.windows, llmCalls)
	assert.Equal(t, 1, second.Unchanged)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Inserted+second.Updated+second.Deleted)
}

func TestReconcile_FullModeReingestsStaleFiles(t *testing.T) {
	f := &fakeFile{id: 5, name: "old.pdf", updated: stale(), body: "same text"}
	h := newHarness(0, f)
	h.store.seed("5", "same text", "same text")

	incr, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, incr.Skipped)
	assert.Zero(t, f.fetches)

	full, err := h.rec.Run(context.Background(), Full)
	require.NoError(t, err)
	assert.Equal(t, 1, full.Updated)
	assert.Equal(t, 1, f.fetches)
	assert.Equal(t, []string{"upsert:5:updated", "clear:5", "insert:5"}, h.store.ops)
}

func TestReconcile_StripsNullBytes(t *testing.T) {
	h := newHarness(0, &fakeFile{id: 7, name: "scan\x00.pdf", updated: recent(), body: "hel\x00lo wor\x00ld"})

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Inserted)

	res := h.store.resources["7"]
	assert.Equal(t, "hello world", res.Content)
	assert.Equal(t, "scan.pdf", res.FileName)
	assert.Equal(t, contentHash("hello world"), res.ContentHash)
	assert.Equal(t, []string{"hello world"}, h.store.chunkTexts("7"))
}

func TestReconcile_FailedFileLeavesNoTrace(t *testing.T) {
	h := newHarness(0,
		&fakeFile{id: 1, name: "a.pdf", updated: recent(), body: "first file"},
		&fakeFile{id: 2, name: "b.pdf", updated: recent(), body: "second BADEMBED file"},
		&fakeFile{id: 3, name: "c.pdf", updated: recent(), body: "third file"},
	)

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, h.store.resources, "1")
	assert.Contains(t, h.store.resources, "3")
	assert.NotContains(t, h.store.resources, "2")
	assert.Nil(t, h.store.embeddings["2"])
	assert.Len(t, h.objects.uploads, 2)
}

func TestReconcile_PerFileFailuresDoNotAbortRun(t *testing.T) {
	h := newHarness(0,
		&fakeFile{id: 1, name: "a.pdf", updated: recent(), body: "FETCH_FAIL"},
		&fakeFile{id: 2, name: "b.pdf", updated: recent(), body: "EXTRACT_FAIL"},
		&fakeFile{id: 3, name: "c.pdf", updated: recent(), body: "persist fails"},
		&fakeFile{id: 4, name: "d.pdf", updated: recent(), body: "fine"},
	)
	h.store.seed("1", "kept", "kept")
	h.store.seed("2", "kept", "kept")
	h.store.failInsert["3"] = true

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Failed)
	assert.Equal(t, 1, stats.Inserted)
	assert.Zero(t, stats.Deleted)
	// failed files were still listed, so cleanup keeps them
	assert.Equal(t, "kept", h.store.resources["1"].Content)
	assert.Equal(t, "kept", h.store.resources["2"].Content)
	assert.NotContains(t, h.store.resources, "3")
}

func TestReconcile_UpdateRollsBackOnInsertFailure(t *testing.T) {
	h := newHarness(0, &fakeFile{id: 8, name: "x.pdf", updated: recent(), body: "new version"})
	h.store.seed("8", "old version", "old chunk")
	h.store.failInsert["8"] = true

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	assert.Equal(t, "old version", h.store.resources["8"].Content)
	assert.Equal(t, []string{"old chunk"}, h.store.chunkTexts("8"))
	assert.Empty(t, h.store.ops)
}

func TestReconcile_ZeroChunksIsNotAnError(t *testing.T) {
	h := newHarness(0,
		&fakeFile{id: 1, name: "image-only.pdf", updated: recent(), body: "NOCHUNK"},
		&fakeFile{id: 2, name: "blank.pdf", updated: recent(), body: "   "},
	)
	h.store.seed("1", "previous text", "previous text")

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Empty)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, "previous text", h.store.resources["1"].Content)
	assert.NotContains(t, h.store.resources, "2")
	assert.Empty(t, h.store.ops)
	assert.Len(t, h.llm.windows, 1, "blank text must not reach the LLM")
}

func TestReconcile_UnsupportedAndRestrictedFilesCountAsSeen(t *testing.T) {
	restricted := &fakeFile{id: 2, name: "answers.pdf", updated: stale(), body: "solutions", restricted: true}
	h := newHarness(0,
		&fakeFile{id: 1, name: "roster.xlsx", updated: recent(), body: "names"},
		restricted,
	)
	h.store.seed("1", "legacy", "legacy")
	h.store.seed("2", "older answers", "older answers")

	stats, err := h.rec.Run(context.Background(), Full)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Unsupported)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Deleted)
	assert.Equal(t, 1, restricted.fetches)
	assert.Contains(t, h.store.resources, "1")
	assert.Equal(t, "solutions", h.store.resources["2"].Content)
}

func TestReconcile_SkipRestrictedRemovesStoredCopies(t *testing.T) {
	restricted := &fakeFile{id: 2, name: "answers.pdf", updated: recent(), body: "solutions", restricted: true}
	h := newHarness(0,
		&fakeFile{id: 1, name: "notes.pdf", updated: stale(), body: "notes"},
		restricted,
	)
	h.rec.cfg.SkipRestricted = true
	h.store.seed("1", "notes", "notes")
	h.store.seed("2", "older answers", "older answers")

	stats, err := h.rec.Run(context.Background(), Full)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, restricted.fetches)
	assert.NotContains(t, h.store.resources, "2")
	assert.Nil(t, h.store.embeddings["2"])
	assert.Contains(t, h.store.resources, "1")
}

func TestReconcile_RenamedFileRefreshesMetadata(t *testing.T) {
	f := &fakeFile{id: 9, name: "week1.pdf", folder: "Lectures", updated: recent(), body: "week one slides"}
	h := newHarness(0, f)

	first, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)
	llmCalls := len(h.llm.windows)

	f.name, f.folder = "week1-final.pdf", "Archive"
	second, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 1, second.Renamed)
	assert.Zero(t, second.Unchanged+second.Updated)
	assert.Len(t, h.llm.windows, llmCalls, "same text must not be segmented again")

	res := h.store.resources["9"]
	assert.Equal(t, "week1-final.pdf", res.FileName)
	assert.Equal(t, "Archive/week1-final.pdf", res.FilePath)
	assert.Equal(t, "week one slides", res.Content)
	assert.Equal(t, []string{"week one slides"}, h.store.chunkTexts("9"))

	third, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Unchanged)
	assert.Equal(t, []string{"upsert:9:inserted", "insert:9", "meta:9"}, h.store.ops)
}

func TestReconcile_FetchFailureFallsBackToArchive(t *testing.T) {
	f := &fakeFile{id: 4, name: "lab.pdf", updated: recent(), body: "lab handout"}
	h := newHarness(0, f)

	_, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	require.Len(t, h.objects.uploads, 1)

	f.body = "FETCH_FAIL"
	stats, err := h.rec.Run(context.Background(), Full)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, []string{"course-archive/resources/4"}, h.objects.gets)
	assert.Len(t, h.objects.uploads, 1, "archived bytes are not uploaded again")
	assert.Equal(t, "lab handout", h.store.resources["4"].Content)
}

func TestReconcile_ListingFailureSkipsCleanup(t *testing.T) {
	h := newHarness(0, &fakeFile{id: 3, name: "c.pdf", updated: recent(), body: "three"})
	h.source.err = errors.New("canvas: 502")
	h.store.seed("1", "one", "one")

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.Error(t, err)
	require.NotNil(t, stats)

	assert.Equal(t, 1, stats.Inserted)
	assert.Zero(t, stats.Deleted)
	assert.Contains(t, h.store.resources, "1")
}

func TestReconcile_SnapshotFailureIsFatal(t *testing.T) {
	f := &fakeFile{id: 1, name: "a.pdf", updated: recent(), body: "one"}
	h := newHarness(0, f)
	h.store.listErr = errors.New("connection refused")

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.Zero(t, f.fetches)
}

func TestReconcile_RefusesOverlappingRuns(t *testing.T) {
	h := newHarness(0)

	h.store.lockHeld = true
	_, err := h.rec.Run(context.Background(), Incremental)
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	h.store.lockHeld = false
	h.rec.running.Lock()
	_, err = h.rec.Run(context.Background(), Incremental)
	h.rec.running.Unlock()
	assert.ErrorIs(t, err, core.ErrRunInProgress)

	_, err = h.rec.Run(context.Background(), Incremental)
	assert.NoError(t, err)
	assert.False(t, h.store.lockHeld, "run lock must be released")
}

func TestReconcile_SendsEveryWindowToTheLLM(t *testing.T) {
	h := newHarness(3, &fakeFile{id: 1, name: "long.pdf", updated: recent(), body: "a b c d e f g"})

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Inserted)

	assert.Equal(t, []string{"a b c", "d e f", "g"}, h.llm.windows)
	assert.Equal(t, []string{"a b c", "d e f", "g"}, h.store.chunkTexts("1"))
	assert.Equal(t, "a b c d e f g", h.store.resources["1"].Content)
}

func TestReconcile_EmbedsFlattenedChunkButStoresOriginal(t *testing.T) {
	h := newHarness(0, &fakeFile{id: 1, name: "a.pdf", updated: recent(), body: "anything"})
	h.llm.reply = "<chunk>\n first line\nsecond line \n</chunk><chunk>  </chunk>"

	_, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)

	assert.Equal(t, []string{"first line second line"}, h.embed.inputs)
	assert.Equal(t, []string{"first line\nsecond line"}, h.store.chunkTexts("1"))
}

func TestReconcile_ArchiveFailureDoesNotFailFile(t *testing.T) {
	h := newHarness(0, &fakeFile{id: 1, name: "a.pdf", updated: recent(), body: "one"})
	h.objects.fail = true

	stats, err := h.rec.Run(context.Background(), Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Zero(t, stats.Failed)
}

func TestReconcile_CancelledRunSkipsCleanup(t *testing.T) {
	h := newHarness(0, &fakeFile{id: 2, name: "b.pdf", updated: stale(), body: "two"})
	h.store.seed("1", "one", "one")
	h.store.seed("2", "two", "two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.rec.Run(ctx, Incremental)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, h.store.resources, "1")
}
