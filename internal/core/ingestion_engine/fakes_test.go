package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/models"
)

// memStore is an in-memory ResourceStore whose InTx commits all or nothing.
type memStore struct {
	mu         sync.Mutex
	resources  map[string]models.Resource
	embeddings map[string][]models.EmbeddingRow
	ops        []string
	lockHeld   bool
	listErr    error
	failInsert map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		resources:  map[string]models.Resource{},
		embeddings: map[string][]models.EmbeddingRow{},
		failInsert: map[string]bool{},
	}
}

func (s *memStore) seed(id, content string, chunks ...string) {
	s.resources[id] = models.Resource{ID: id, Content: content, ContentHash: contentHash(content), FileName: id + ".pdf"}
	for _, c := range chunks {
		s.embeddings[id] = append(s.embeddings[id], models.EmbeddingRow{ResourceID: id, Content: c, Embedding: []float32{1}})
	}
}

func (s *memStore) chunkTexts(id string) []string {
	var out []string
	for _, row := range s.embeddings[id] {
		out = append(out, row.Content)
	}
	return out
}

func (s *memStore) ListResourceIDs(_ context.Context) (map[string]struct{}, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.resources))
	for id := range s.resources {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *memStore) ContentHash(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[id].ContentHash, nil
}

func (s *memStore) UpdateMetadata(_ context.Context, res *models.Resource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.resources[res.ID]
	if !ok || (cur.FileName == res.FileName && cur.URL == res.URL && cur.FilePath == res.FilePath) {
		return false, nil
	}
	cur.FileName, cur.URL, cur.FilePath = res.FileName, res.URL, res.FilePath
	s.resources[res.ID] = cur
	s.ops = append(s.ops, "meta:"+res.ID)
	return true, nil
}

func (s *memStore) InTx(_ context.Context, fn func(w core.ResourceWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &memWriter{
		store:      s,
		resources:  maps.Clone(s.resources),
		embeddings: maps.Clone(s.embeddings),
	}
	if err := fn(w); err != nil {
		return err
	}
	s.resources = w.resources
	s.embeddings = w.embeddings
	s.ops = append(s.ops, w.ops...)
	return nil
}

func (s *memStore) DeleteResource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, id)
	delete(s.embeddings, id)
	s.ops = append(s.ops, "delete:"+id)
	return nil
}

func (s *memStore) AcquireRunLock(_ context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHeld {
		return nil, core.ErrRunInProgress
	}
	s.lockHeld = true
	return func() {
		s.mu.Lock()
		s.lockHeld = false
		s.mu.Unlock()
	}, nil
}

type memWriter struct {
	store      *memStore
	resources  map[string]models.Resource
	embeddings map[string][]models.EmbeddingRow
	ops        []string
}

func (w *memWriter) UpsertResource(_ context.Context, res *models.Resource) (models.UpsertResult, error) {
	for _, v := range []string{res.Content, res.FileName, res.FilePath, res.URL} {
		if strings.ContainsRune(v, 0) {
			return 0, errors.New("invalid byte sequence: 0x00")
		}
	}
	result := models.Inserted
	if _, ok := w.resources[res.ID]; ok {
		result = models.Updated
	}
	w.resources[res.ID] = *res
	w.ops = append(w.ops, fmt.Sprintf("upsert:%s:%s", res.ID, result))
	return result, nil
}

func (w *memWriter) ReplaceEmbeddings(ctx context.Context, resourceID string, rows []models.EmbeddingRow) error {
	delete(w.embeddings, resourceID)
	w.ops = append(w.ops, "clear:"+resourceID)
	return w.InsertEmbeddings(ctx, resourceID, rows)
}

func (w *memWriter) InsertEmbeddings(_ context.Context, resourceID string, rows []models.EmbeddingRow) error {
	if len(w.embeddings[resourceID]) > 0 {
		return fmt.Errorf("embeddings already exist for %s", resourceID)
	}
	if w.store.failInsert[resourceID] {
		return errors.New("insert failed")
	}
	for _, r := range rows {
		if strings.ContainsRune(r.Content, 0) {
			return errors.New("invalid byte sequence: 0x00")
		}
	}
	w.embeddings[resourceID] = append([]models.EmbeddingRow(nil), rows...)
	w.ops = append(w.ops, "insert:"+resourceID)
	return nil
}

type fakeFile struct {
	id         int64
	name       string
	folder     string
	updated    time.Time
	body       string
	restricted bool
	fetches    int
}

func (f *fakeFile) ID() int64            { return f.id }
func (f *fakeFile) DisplayName() string  { return f.name }
func (f *fakeFile) FolderPath() string   { return f.folder }
func (f *fakeFile) UpdatedAt() time.Time { return f.updated }
func (f *fakeFile) URL() string          { return fmt.Sprintf("https://canvas.test/files/%d", f.id) }
func (f *fakeFile) Restricted() bool     { return f.restricted }

func (f *fakeFile) Fetch(_ context.Context) ([]byte, error) {
	f.fetches++
	if f.body == "FETCH_FAIL" {
		return nil, errors.New("connection reset")
	}
	return []byte(f.body), nil
}

type fakeSource struct {
	files []*fakeFile
	err   error
}

func (s *fakeSource) Files(_ context.Context) iter.Seq2[core.RemoteFile, error] {
	return func(yield func(core.RemoteFile, error) bool) {
		for _, f := range s.files {
			if !yield(f, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

// textExtractor treats the fetched bytes as the document text.
type textExtractor struct{}

func (textExtractor) Supports(filename string) bool { return contentType(filename) != "" }

func (textExtractor) ExtractText(_ context.Context, data []byte, _ string) (string, error) {
	if string(data) == "EXTRACT_FAIL" {
		return "", errors.New("corrupt document")
	}
	return string(data), nil
}

// wordTokenizer makes every whitespace-separated word one token.
type wordTokenizer struct {
	vocab []string
	index map[string]int
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{index: map[string]int{}}
}

func (t *wordTokenizer) Encode(text string) []int {
	var out []int
	for _, w := range strings.Fields(text) {
		id, ok := t.index[w]
		if !ok {
			id = len(t.vocab)
			t.vocab = append(t.vocab, w)
			t.index[w] = id
		}
		out = append(out, id)
	}
	return out
}

func (t *wordTokenizer) Decode(tokens []int) string {
	words := make([]string, len(tokens))
	for i, id := range tokens {
		words[i] = t.vocab[id]
	}
	return strings.Join(words, " ")
}

// echoLLM wraps every window in a single chunk unless reply is set.
type echoLLM struct {
	windows []string
	reply   string
	err     error
}

func (l *echoLLM) Generate(_ context.Context, _, userPrompt string) (string, error) {
	l.windows = append(l.windows, userPrompt)
	if l.err != nil {
		return "", l.err
	}
	if l.reply != "" {
		return l.reply, nil
	}
	if strings.Contains(userPrompt, "NOCHUNK") {
		return "I could not find any sections.", nil
	}
	return "<chunk>" + userPrompt + "</chunk>", nil
}

func (l *echoLLM) GenerateJSON(ctx context.Context, sys, user string, _ *core.JSONSchema) (string, error) {
	return l.Generate(ctx, sys, user)
}

type fakeEmbedder struct {
	inputs []string
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.inputs = append(e.inputs, text)
	if strings.Contains(text, "BADEMBED") {
		return nil, errors.New("embedding service unavailable")
	}
	return []float32{float32(len(text)), 0, 1}, nil
}

type fakeObjects struct {
	uploads []string
	deletes []string
	gets    []string
	objects map[string][]byte
	fail    bool
}

func (o *fakeObjects) UploadFile(_ context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	if o.fail {
		return "", errors.New("s3 unavailable")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if o.objects == nil {
		o.objects = map[string][]byte{}
	}
	o.objects[bucket+"/"+key] = b
	o.uploads = append(o.uploads, bucket+"/"+key)
	return "https://" + bucket + ".s3.amazonaws.com/" + key, nil
}

func (o *fakeObjects) DeleteFile(_ context.Context, bucket, key string) error {
	o.deletes = append(o.deletes, bucket+"/"+key)
	return nil
}

func (o *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	o.gets = append(o.gets, bucket+"/"+key)
	b, ok := o.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return b, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
