package pgvector

import "testing"

func TestEncodeEmbedding(t *testing.T) {
	tests := []struct {
		name      string
		embedding []float32
		want      string
	}{
		{"empty embedding", nil, "[]"},
		{"empty slice", []float32{}, "[]"},
		{"single element", []float32{0.5}, "[0.5]"},
		{"multiple elements", []float32{0.1, 0.2, 0.3}, "[0.1,0.2,0.3]"},
		{"negative values", []float32{-0.5, 0.5, -1.0}, "[-0.5,0.5,-1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeEmbedding(tt.embedding); got != tt.want {
				t.Errorf("encodeEmbedding() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) < 1 {
		t.Fatalf("expected at least 1 migration, got %d", len(migrations))
	}
	if migrations[0].ID != "0001_kb_chunks" {
		t.Fatalf("expected first migration to be 0001_kb_chunks, got %q", migrations[0].ID)
	}
	if migrations[0].UpSQL == "" || migrations[0].DownSQL == "" {
		t.Fatal("expected both up and down migration content")
	}
}

func TestNewBackend_Errors(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error when neither DSN nor DB is provided")
	}
}

func TestNewBackend_DefaultDimension(t *testing.T) {
	_, err := New(Config{Dimension: 0})
	if err == nil {
		t.Fatal("expected error when neither DSN nor DB is provided")
	}
	if want := "either DSN or DB must be provided"; err.Error() != want {
		t.Fatalf("unexpected error: %v", err)
	}
}
