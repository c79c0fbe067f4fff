// Package messagesync implements the background migration job referenced by
// spec.md §4.6: every 15 minutes it upserts newly arrived chat messages into
// the knowledge-base vector index, so query_chat_history's semantic mode
// (spec.md §4.4) can search them alongside ingested KB chunks. The job keys
// each embedded row as "msg_<id>" and tags its SourceURL "message:<channel>",
// distinguishing message rows from kb_learn's "kb_<hash>_<idx>" rows sharing
// the same backend and table.
package messagesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-core/internal/memory/backend"
	"github.com/haasonsaas/nexus-core/internal/memory/embeddings"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// MessageSourcePrefix tags a KBChunk.SourceURL as holding an embedded
// message rather than an ingested document; query_chat_history's semantic
// mode filters on this prefix plus the channel.
const MessageSourcePrefix = "message:"

// Config tunes the job's cadence and batch size.
type Config struct {
	// InitialDelay lets the HTTP boundary start first (spec.md §4.6: "initial
	// 30s delay so the HTTP boundary starts first").
	InitialDelay time.Duration
	// Interval is the steady-state tick period. Default 15 minutes.
	Interval time.Duration
	// BatchSize caps how many messages one tick embeds.
	BatchSize int
}

// Job is the singleton message-embedding poller.
type Job struct {
	messages storage.MessageStore
	backend  backend.Backend
	embedder embeddings.Provider
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	lastID int64
}

// New builds a Job. Returns nil when b or emb is nil, matching the
// optional-subsystem convention: the message-to-vector-index sync is only
// meaningful once the knowledge base itself is configured.
func New(messages storage.MessageStore, b backend.Backend, emb embeddings.Provider, cfg Config, logger *slog.Logger) *Job {
	if b == nil || emb == nil {
		return nil
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{messages: messages, backend: b, embedder: emb, cfg: cfg, logger: logger.With("component", "message-sync")}
}

// Start begins the background loop. Calling Start twice is a no-op.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.mu.Unlock()

	j.wg.Add(1)
	go j.loop(loopCtx)
}

// Stop cancels the background loop and waits for it to exit.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	j.wg.Wait()
}

func (j *Job) loop(ctx context.Context) {
	defer j.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(j.cfg.InitialDelay):
	}

	j.tick(ctx)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

// tick embeds and upserts every message with id > the last embedded id. It
// never panics: a single bad batch must not kill the process-scoped job.
func (j *Job) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("message sync tick panicked", "recover", r)
		}
	}()

	msgs, err := j.messages.Since(ctx, j.lastID, j.cfg.BatchSize)
	if err != nil {
		j.logger.Error("fetch messages since last sync", "error", err, "after_id", j.lastID)
		return
	}
	if len(msgs) == 0 {
		return
	}

	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = formatMessage(m)
	}

	embeds, err := j.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		j.logger.Error("embed message batch", "error", err, "count", len(texts))
		return
	}
	if len(embeds) != len(texts) {
		j.logger.Error("embedding count mismatch", "got", len(embeds), "want", len(texts))
		return
	}

	chunks := make([]*models.KBChunk, len(msgs))
	for i, m := range msgs {
		chunks[i] = &models.KBChunk{
			ID:          fmt.Sprintf("msg_%d", m.ID),
			Text:        texts[i],
			Embedding:   embeds[i],
			SourceURL:   MessageSourcePrefix + m.Channel,
			Title:       m.Nick,
			ChunkIndex:  0,
			TotalChunks: 1,
		}
	}

	if err := j.backend.Upsert(ctx, chunks); err != nil {
		j.logger.Error("upsert message embeddings", "error", err, "count", len(chunks))
		return
	}

	j.lastID = msgs[len(msgs)-1].ID
	j.logger.Info("message sync tick complete", "embedded", len(chunks), "last_id", j.lastID)
}

func formatMessage(m *models.Message) string {
	return fmt.Sprintf("%s: %s", m.Nick, m.Content)
}
