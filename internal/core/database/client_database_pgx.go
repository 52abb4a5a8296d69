package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/coursebot/internal/config"
	"github.com/markdave123-py/coursebot/internal/core"
	"github.com/markdave123-py/coursebot/internal/models"
)

// runLockKey identifies the ingestion run in pg_advisory_lock.
const runLockKey int64 = 0x636f757273650001

type DatabaseClient struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ core.ResourceStore  = (*DatabaseClient)(nil)
	_ core.QuestionStore  = (*DatabaseClient)(nil)
	_ core.SearchStore    = (*DatabaseClient)(nil)
	_ core.ResourceWriter = (*txWriter)(nil)
)

func NewDatabaseClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// A batch job needs few connections: one for the run lock, one for writes.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, logger: logger}, nil
}

// buildDSN appends SSL verification params when a root certificate is configured.
func buildDSN(databaseURL, sslCertPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) ListResourceIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM resources`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ContentHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := c.db.QueryRowContext(ctx, `SELECT content_hash FROM resources WHERE id = $1`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (c *DatabaseClient) UpdateMetadata(ctx context.Context, res *models.Resource) (bool, error) {
	const q = `
		UPDATE resources
		SET filename = $2, url = $3, filepath = $4, updated_at = now()
		WHERE id = $1 AND (filename, url, filepath) IS DISTINCT FROM ($2, $3, $4)
	`
	r, err := c.db.ExecContext(ctx, q, res.ID, res.FileName, res.URL, res.FilePath)
	if err != nil {
		return false, fmt.Errorf("update metadata %s: %w", res.ID, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InTx runs fn inside one transaction; any error rolls back every write fn made.
func (c *DatabaseClient) InTx(ctx context.Context, fn func(w core.ResourceWriter) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txWriter{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (c *DatabaseClient) DeleteResource(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id)
	return err
}

// AcquireRunLock holds a session-level advisory lock on a dedicated connection until release is called.
func (c *DatabaseClient) AcquireRunLock(ctx context.Context) (func(), error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, core.ErrRunInProgress
	}

	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
			c.logger.Warn("Database: advisory unlock failed", "err", err)
		}
		_ = conn.Close()
	}
	return release, nil
}

// Implementing the question store

func (c *DatabaseClient) ListResources(ctx context.Context) ([]models.Resource, error) {
	const q = `
		SELECT id, content, content_hash, filename, url, filepath, created_at, updated_at
		FROM resources
		ORDER BY id ASC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Resource
	for rows.Next() {
		var r models.Resource
		if err := rows.Scan(
			&r.ID, &r.Content, &r.ContentHash, &r.FileName, &r.URL, &r.FilePath, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) HasPromptQuestions(ctx context.Context, resourceID string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM prompt_questions WHERE resource_id = $1)`, resourceID).Scan(&exists)
	return exists, err
}

// ReplacePromptQuestions swaps a resource's question set in a single transaction.
func (c *DatabaseClient) ReplacePromptQuestions(ctx context.Context, resourceID string, questions []models.PromptQuestion) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt_questions WHERE resource_id = $1`, resourceID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO prompt_questions (id, resource_id, question, topic, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range questions {
		pq := &questions[i]
		if pq.ID == "" {
			pq.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, pq.ID, resourceID, pq.Question, pq.Topic, pq.Active); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteAllResources(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM resources`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SearchEmbeddings returns the chunks closest to vec by cosine distance, above minSimilarity.
func (c *DatabaseClient) SearchEmbeddings(ctx context.Context, vec []float32, limit int, minSimilarity float64) ([]models.SearchHit, error) {
	const q = `
		SELECT e.resource_id, e.content, 1 - (e.embedding <=> $1) AS similarity, r.filename, r.url, r.filepath
		FROM embeddings e
		JOIN resources r ON r.id = e.resource_id
		WHERE 1 - (e.embedding <=> $1) > $2
		ORDER BY e.embedding <=> $1
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vec), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	var out []models.SearchHit
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.ResourceID, &h.Content, &h.Similarity, &h.FileName, &h.URL, &h.FilePath); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// txWriter implements core.ResourceWriter on an open transaction.
type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) UpsertResource(ctx context.Context, res *models.Resource) (models.UpsertResult, error) {
	if res == nil {
		return 0, errors.New("nil resource")
	}
	// xmax is zero only for a freshly inserted tuple.
	const q = `
		INSERT INTO resources (id, content, content_hash, filename, url, filepath, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			content      = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			filename     = EXCLUDED.filename,
			url          = EXCLUDED.url,
			filepath     = EXCLUDED.filepath,
			updated_at   = now()
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	if err := w.tx.QueryRowContext(ctx, q,
		res.ID, res.Content, res.ContentHash, res.FileName, res.URL, res.FilePath,
	).Scan(&inserted); err != nil {
		return 0, err
	}
	if inserted {
		return models.Inserted, nil
	}
	return models.Updated, nil
}

func (w *txWriter) ReplaceEmbeddings(ctx context.Context, resourceID string, rows []models.EmbeddingRow) error {
	if _, err := w.tx.ExecContext(ctx, `DELETE FROM embeddings WHERE resource_id = $1`, resourceID); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return w.InsertEmbeddings(ctx, resourceID, rows)
}

// InsertEmbeddings inserts rows through one prepared statement on the transaction.
func (w *txWriter) InsertEmbeddings(ctx context.Context, resourceID string, rows []models.EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}

	const q = `
		INSERT INTO embeddings (id, resource_id, content, embedding)
		VALUES ($1, $2, $3, $4)
	`
	stmt, err := w.tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range rows {
		row := &rows[i]
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		row.ResourceID = resourceID

		if _, err := stmt.ExecContext(ctx,
			row.ID, row.ResourceID, row.Content, pgvector.NewVector(row.Embedding),
		); err != nil {
			return fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}
	return nil
}
