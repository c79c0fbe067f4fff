package models

import "time"

// KBChunk is a contiguous text window from an ingested document, stored with
// its embedding and source metadata. Chunks are deduplicated by SourceURL:
// ingesting an already-ingested URL is rejected unless preceded by a forget.
type KBChunk struct {
	ID          string
	Text        string
	Embedding   []float32
	SourceURL   string
	Title       string
	ChunkIndex  int
	TotalChunks int
	IngestedAt  time.Time
}

// KBSearchResult is one row returned from semantic retrieval.
type KBSearchResult struct {
	Text      string
	SourceURL string
	Title     string
	Distance  float32
}
