// Package backend provides the knowledge-base storage interface and its
// pgvector-backed implementation (spec.md §4.7).
package backend

import (
	"context"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Backend stores and retrieves knowledge-base chunks by embedding similarity.
type Backend interface {
	// Exists reports whether any chunk for sourceURL has already been
	// ingested, so the ingestion pipeline can reject duplicate learns.
	Exists(ctx context.Context, sourceURL string) (bool, error)

	// Upsert stores chunks, replacing any existing rows with the same ID.
	Upsert(ctx context.Context, chunks []*models.KBChunk) error

	// Search returns the topK chunks closest to queryEmbedding by cosine
	// distance.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]models.KBSearchResult, error)

	// Sources lists distinct ingested sources, newest first, for kb_list and
	// for the empty-result refinement hint.
	Sources(ctx context.Context) ([]SourceSummary, error)

	// Forget deletes every chunk belonging to sourceURL and returns how many
	// rows were removed.
	Forget(ctx context.Context, sourceURL string) (int, error)

	// Close releases resources.
	Close() error
}

// SourceSummary describes one ingested document for listing.
type SourceSummary struct {
	SourceURL  string
	Title      string
	ChunkCount int
	IngestedAt string
}

// Config contains common backend configuration.
type Config struct {
	Dimension int // Embedding dimension (e.g., 1536 for text-embedding-3-small)
}
