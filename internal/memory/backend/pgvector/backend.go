// Package pgvector provides the knowledge-base vector storage backend using
// PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/memory/backend"
	"github.com/haasonsaas/nexus-core/pkg/models"
	_ "github.com/lib/pq" // postgres driver registration
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Backend implements backend.Backend using pgvector.
type Backend struct {
	db        *sql.DB
	dimension int
	ownsDB    bool
}

// Config contains configuration for the pgvector backend.
type Config struct {
	// DSN is the PostgreSQL connection string. If empty, DB must be provided.
	DSN string

	// DB is an existing connection to reuse; if set, DSN is ignored and the
	// backend will not close the connection.
	DB *sql.DB

	Dimension     int
	RunMigrations bool
}

var _ backend.Backend = (*Backend)(nil)

// New creates a pgvector-backed knowledge-base store.
func New(cfg Config) (*Backend, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}

	var db *sql.DB
	var ownsDB bool
	var err error

	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		ownsDB = true
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	default:
		return nil, fmt.Errorf("either DSN or DB must be provided")
	}

	b := &Backend{db: db, dimension: cfg.Dimension, ownsDB: ownsDB}

	if cfg.RunMigrations {
		if err := b.runMigrations(context.Background()); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return b, nil
}

func (b *Backend) runMigrations(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kb_schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := b.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		if strings.TrimSpace(m.UpSQL) == "" {
			return fmt.Errorf("missing up migration for %s", m.ID)
		}

		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO kb_schema_migrations (id) VALUES ($1)`, m.ID); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.ID, err)
		}
	}
	return nil
}

func (b *Backend) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM kb_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query kb_schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan kb_schema_migrations: %w", err)
		}
		applied[id] = true
	}
	return applied, rows.Err()
}

// Exists reports whether sourceURL already has ingested chunks.
func (b *Backend) Exists(ctx context.Context, sourceURL string) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_chunks WHERE source_url = $1`, sourceURL).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check existing chunks: %w", err)
	}
	return count > 0, nil
}

// Upsert stores chunks, replacing rows sharing the same ID.
func (b *Backend) Upsert(ctx context.Context, chunks []*models.KBChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kb_chunks (id, source_url, title, chunk_index, total_chunks, text, embedding, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			total_chunks = EXCLUDED.total_chunks,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			ingested_at = EXCLUDED.ingested_at
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.IngestedAt.IsZero() {
			c.IngestedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourceURL, c.Title, c.ChunkIndex, c.TotalChunks,
			c.Text, encodeEmbedding(c.Embedding), c.IngestedAt); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns the topK nearest chunks by cosine distance.
func (b *Backend) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]models.KBSearchResult, error) {
	if topK <= 0 || topK > 10 {
		topK = 10
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT text, source_url, title, embedding <=> $1::vector AS distance
		FROM kb_chunks
		ORDER BY embedding <=> $1::vector ASC
		LIMIT $2
	`, encodeEmbedding(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []models.KBSearchResult
	for rows.Next() {
		var r models.KBSearchResult
		if err := rows.Scan(&r.Text, &r.SourceURL, &r.Title, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Sources lists distinct ingested documents, newest first.
func (b *Backend) Sources(ctx context.Context) ([]backend.SourceSummary, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT source_url, MAX(title), COUNT(*), MAX(ingested_at)
		FROM kb_chunks
		GROUP BY source_url
		ORDER BY MAX(ingested_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []backend.SourceSummary
	for rows.Next() {
		var s backend.SourceSummary
		var ingestedAt time.Time
		if err := rows.Scan(&s.SourceURL, &s.Title, &s.ChunkCount, &ingestedAt); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		s.IngestedAt = ingestedAt.Format(time.RFC3339)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Forget deletes every chunk for sourceURL.
func (b *Backend) Forget(ctx context.Context, sourceURL string) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM kb_chunks WHERE source_url = $1`, sourceURL)
	if err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close releases resources.
func (b *Backend) Close() error {
	if b.ownsDB && b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Migration represents an embedded migration.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

func loadMigrations() ([]Migration, error) {
	paths, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	entries := map[string]*Migration{}
	for _, path := range paths {
		base := strings.TrimPrefix(path, "migrations/")
		suffix := ""
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			suffix = ".up.sql"
		case strings.HasSuffix(base, ".down.sql"):
			suffix = ".down.sql"
		default:
			continue
		}
		id := strings.TrimSuffix(base, suffix)
		entry := entries[id]
		if entry == nil {
			entry = &Migration{ID: id}
			entries[id] = entry
		}
		data, err := migrationsFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		if suffix == ".up.sql" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	migrations := make([]Migration, 0, len(ids))
	for _, id := range ids {
		migrations = append(migrations, *entries[id])
	}
	return migrations, nil
}
