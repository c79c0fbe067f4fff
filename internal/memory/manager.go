// Package memory implements the knowledge-base manager (spec.md §4.7):
// chunking, embedding, pgvector storage, and semantic retrieval.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus-core/internal/memory/backend"
	"github.com/haasonsaas/nexus-core/internal/memory/backend/pgvector"
	"github.com/haasonsaas/nexus-core/internal/memory/embeddings"
	"github.com/haasonsaas/nexus-core/internal/memory/embeddings/openai"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Config configures the knowledge-base manager's storage and embedding model.
// Both are fixed at init, per spec.md §4.7 ("embedding model and cosine
// distance are fixed at init").
type Config struct {
	Dimension int

	Pgvector struct {
		DSN           string
		DB            *sql.DB
		RunMigrations bool
	}

	Embeddings struct {
		APIKey  string
		BaseURL string
		Model   string
	}
}

// Manager coordinates ingestion and retrieval against a single pgvector
// backend and a single embedding provider.
type Manager struct {
	backend  backend.Backend
	embedder embeddings.Provider
	cache    *embeddingCache
}

// NewManager builds a knowledge-base manager. Returns (nil, nil) when cfg is
// the zero value, matching the optional-subsystem convention used
// throughout this module's config tree.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Pgvector.DSN == "" && cfg.Pgvector.DB == nil {
		return nil, nil
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1536
	}

	b, err := pgvector.New(pgvector.Config{
		DSN:           cfg.Pgvector.DSN,
		DB:            cfg.Pgvector.DB,
		Dimension:     dimension,
		RunMigrations: cfg.Pgvector.RunMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("init pgvector backend: %w", err)
	}

	emb, err := openai.New(openai.Config{
		APIKey:  cfg.Embeddings.APIKey,
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}

	return &Manager{backend: b, embedder: emb, cache: newEmbeddingCache(1000)}, nil
}

// NewManagerWithBackend builds a Manager from an already-constructed backend
// and embedder, bypassing pgvector/openai setup. Useful for tests and for
// callers that want to share an existing backend/embedder pair.
func NewManagerWithBackend(b backend.Backend, emb embeddings.Provider) *Manager {
	return &Manager{backend: b, embedder: emb, cache: newEmbeddingCache(1000)}
}

// ErrAlreadyIngested is returned by Ingest when sourceURL has already been
// learned (spec.md §4.7: "reject if any chunk for the url already exists").
var ErrAlreadyIngested = fmt.Errorf("source url already ingested")

// Ingest chunks text, embeds each chunk in a single batch call, and upserts
// the result. title follows spec.md §4.7's fallback order: caller-supplied
// (HTML <title> or PDF metadata title) first, else the last URL path
// segment.
func (m *Manager) Ingest(ctx context.Context, sourceURL, title, text string) (int, error) {
	exists, err := m.backend.Exists(ctx, sourceURL)
	if err != nil {
		return 0, fmt.Errorf("check existing source: %w", err)
	}
	if exists {
		return 0, ErrAlreadyIngested
	}

	if strings.TrimSpace(title) == "" {
		title = fallbackTitle(sourceURL)
	}

	chunks := chunkText(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no content to ingest")
	}

	embeds, err := m.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(embeds) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(embeds), len(chunks))
	}

	urlHash := sourceHash(sourceURL)
	records := make([]*models.KBChunk, len(chunks))
	for i, c := range chunks {
		records[i] = &models.KBChunk{
			ID:          fmt.Sprintf("kb_%s_%d", urlHash, i),
			Text:        c,
			Embedding:   embeds[i],
			SourceURL:   sourceURL,
			Title:       title,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
		}
	}

	if err := m.backend.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	return len(records), nil
}

// Search embeds the query and returns up to topK nearest chunks. When no
// results are found, it falls back to a hint listing known source titles so
// the caller can refine the query (spec.md §4.7).
func (m *Manager) Search(ctx context.Context, query string, topK int) ([]models.KBSearchResult, []string, error) {
	embedding, ok := m.cache.get(query)
	if !ok {
		var err error
		embedding, err = m.embedder.Embed(ctx, query)
		if err != nil {
			return nil, nil, fmt.Errorf("embed query: %w", err)
		}
		m.cache.set(query, embedding)
	}

	results, err := m.backend.Search(ctx, embedding, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("search: %w", err)
	}
	if len(results) > 0 {
		return results, nil, nil
	}

	sources, err := m.backend.Sources(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list sources for hint: %w", err)
	}
	titles := make([]string, 0, len(sources))
	for _, s := range sources {
		titles = append(titles, s.Title)
	}
	return nil, titles, nil
}

// List returns a summary of every ingested source.
func (m *Manager) List(ctx context.Context) ([]backend.SourceSummary, error) {
	return m.backend.Sources(ctx)
}

// Forget deletes every chunk belonging to sourceURL.
func (m *Manager) Forget(ctx context.Context, sourceURL string) (int, error) {
	return m.backend.Forget(ctx, sourceURL)
}

// Close releases the backend's resources.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func sourceHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:8]
}

func fallbackTitle(sourceURL string) string {
	segment := path.Base(strings.TrimSuffix(sourceURL, "/"))
	if segment == "" || segment == "." || segment == "/" {
		return sourceURL
	}
	return segment
}

// embeddingCache is a small LRU cache for query embeddings, avoiding a
// re-embed round trip for repeated kb_search queries.
type embeddingCache struct {
	mu       sync.RWMutex
	items    map[string][]float32
	order    []string
	capacity int
}

func newEmbeddingCache(capacity int) *embeddingCache {
	return &embeddingCache{items: make(map[string][]float32), capacity: capacity}
}

func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embeddingCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
		if len(c.order) > c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
	}
	c.items[key] = value
}
