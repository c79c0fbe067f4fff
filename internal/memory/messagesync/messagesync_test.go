package messagesync

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-core/internal/memory/backend"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

type fakeMessages struct {
	msgs []*models.Message
}

var _ storage.MessageStore = (*fakeMessages)(nil)
var _ backend.Backend = (*fakeBackend)(nil)

func (f *fakeMessages) Append(ctx context.Context, msg *models.Message) (int64, error) { return 0, nil }
func (f *fakeMessages) SearchKeyword(ctx context.Context, channel, like string, limit int) ([]*models.Message, error) {
	return nil, nil
}
func (f *fakeMessages) Query(ctx context.Context, q storage.MessageQuery) ([]*models.Message, int, error) {
	return nil, 0, nil
}
func (f *fakeMessages) Stats(ctx context.Context, q storage.MessageQuery) (int, []storage.NickCount, error) {
	return 0, nil, nil
}
func (f *fakeMessages) MaxID(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeMessages) Since(ctx context.Context, afterID int64, limit int) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range f.msgs {
		if m.ID > afterID {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type fakeBackend struct {
	upserted []*models.KBChunk
}

func (b *fakeBackend) Exists(ctx context.Context, sourceURL string) (bool, error) { return false, nil }
func (b *fakeBackend) Upsert(ctx context.Context, chunks []*models.KBChunk) error {
	b.upserted = append(b.upserted, chunks...)
	return nil
}
func (b *fakeBackend) Search(ctx context.Context, embedding []float32, topK int) ([]models.KBSearchResult, error) {
	return nil, nil
}
func (b *fakeBackend) Sources(ctx context.Context) ([]backend.SourceSummary, error) { return nil, nil }
func (b *fakeBackend) Forget(ctx context.Context, sourceURL string) (int, error)    { return 0, nil }
func (b *fakeBackend) Close() error                                                 { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}
func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) Dimension() int    { return 1 }
func (fakeEmbedder) MaxBatchSize() int { return 1000 }

func TestJob_TickEmbedsNewMessages(t *testing.T) {
	msgs := &fakeMessages{msgs: []*models.Message{
		{ID: 1, Channel: "#x", Nick: "alice", Content: "hello", Timestamp: time.Now()},
		{ID: 2, Channel: "#x", Nick: "bob", Content: "world", Timestamp: time.Now()},
	}}
	be := &fakeBackend{}
	job := New(msgs, be, fakeEmbedder{}, Config{}, nil)
	if job == nil {
		t.Fatal("expected non-nil job")
	}

	job.tick(context.Background())

	if len(be.upserted) != 2 {
		t.Fatalf("expected 2 upserted chunks, got %d", len(be.upserted))
	}
	if be.upserted[0].ID != "msg_1" || be.upserted[0].SourceURL != "message:#x" {
		t.Fatalf("unexpected chunk shape: %+v", be.upserted[0])
	}
	if job.lastID != 2 {
		t.Fatalf("expected lastID=2, got %d", job.lastID)
	}

	job.tick(context.Background())
	if len(be.upserted) != 2 {
		t.Fatalf("second tick with no new messages should not upsert again, got %d total", len(be.upserted))
	}
}

func TestNew_NilBackendOrEmbedder(t *testing.T) {
	if New(&fakeMessages{}, nil, fakeEmbedder{}, Config{}, nil) != nil {
		t.Fatal("expected nil job when backend is nil")
	}
	if New(&fakeMessages{}, &fakeBackend{}, nil, Config{}, nil) != nil {
		t.Fatal("expected nil job when embedder is nil")
	}
}
