package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSentenceChunker(t *testing.T) {
	tests := []struct {
		name    string
		per     int
		overlap int
		text    string
		want    []string
	}{
		{
			name: "empty",
			per:  2,
			text: "   ",
			want: nil,
		},
		{
			name: "single window",
			per:  5,
			text: "One. Two! Three?",
			want: []string{"One. Two! Three?"},
		},
		{
			name:    "overlap",
			per:     2,
			overlap: 1,
			text:    "A. B. C. D.",
			want:    []string{"A. B.", "B. C.", "C. D."},
		},
		{
			name: "trailing fragment kept",
			per:  2,
			text: "First sentence. Second sentence. no period at the end",
			want: []string{"First sentence. Second sentence.", "no period at the end"},
		},
		{
			name:    "overlap clamped below window",
			per:     2,
			overlap: 5,
			text:    "A. B. C.",
			want:    []string{"A. B.", "B. C."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSentenceChunker(tt.per, tt.overlap).Chunk(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("Chunk() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSimilarityFromDistance(t *testing.T) {
	tests := []struct {
		d, want float64
	}{
		{0, 1},
		{0.25, 0.75},
		{1, 0},
		{1.7, 0},
		{-0.01, 1},
	}
	for _, tt := range tests {
		if got := similarityFromDistance(tt.d); got != tt.want {
			t.Errorf("similarityFromDistance(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestPassage_ImageDerived(t *testing.T) {
	tests := []struct {
		typ  string
		want bool
	}{
		{TypeImageDescription, true},
		{TypeImageOCR, true},
		{TypeImage, false},
		{TypeText, false},
		{"", false},
	}
	for _, tt := range tests {
		p := Passage{Metadata: map[string]string{MetaType: tt.typ}}
		if got := p.ImageDerived(); got != tt.want {
			t.Errorf("ImageDerived(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
	if (Passage{}).Filename() != "Unknown" {
		t.Error("expected Unknown for missing filename")
	}
}

func TestOpenAIEmbedder_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "text-embedding-3-small" || req.Input != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		io.WriteString(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(EmbedderConfig{BaseURL: srv.URL, APIKey: "k", MaxRetries: 2, Dimensions: 3})
	e.backoff = func(int) time.Duration { return time.Millisecond }

	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 3 || v[1] != 0.2 {
		t.Errorf("unexpected vector %v", v)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestOpenAIEmbedder_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(EmbedderConfig{BaseURL: srv.URL, MaxRetries: 3})
	e.backoff = func(int) time.Duration { return time.Millisecond }

	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"embedding":[0.1,0.2]}]}`)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(EmbedderConfig{BaseURL: srv.URL, Dimensions: 1536})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedEmbedder_NilRedisPassesThrough(t *testing.T) {
	fe := &fakeEmbedder{}
	c := NewCachedEmbedder(fe, nil, "m", time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := c.Embed(context.Background(), "abc"); err != nil {
			t.Fatal(err)
		}
	}
	if fe.calls != 2 {
		t.Errorf("expected 2 upstream calls without cache, got %d", fe.calls)
	}
	if !strings.HasPrefix(c.key("abc"), embeddingKeyPrefix) {
		t.Errorf("unexpected cache key %q", c.key("abc"))
	}
	if c.key("abc") == NewCachedEmbedder(fe, nil, "other", time.Hour).key("abc") {
		t.Error("cache key should depend on model")
	}
}

type fakeStore struct {
	inserted []Document
	fileID   string
	results  []Passage
	limit    int
}

func (f *fakeStore) Insert(_ context.Context, _, fileID string, docs []Document, vectors [][]float32) error {
	f.fileID = fileID
	f.inserted = append(f.inserted, docs...)
	if len(docs) != len(vectors) {
		return errors.New("mismatch")
	}
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, limit int) ([]Passage, error) {
	f.limit = limit
	return f.results, nil
}

func (f *fakeStore) DeleteFile(context.Context, string, string) error { return nil }
func (f *fakeStore) DeleteCollection(context.Context, string) error   { return nil }

type fakeDescriber struct {
	desc string
	err  error
	mime string
}

func (f *fakeDescriber) Describe(_ context.Context, _ []byte, mime string) (string, error) {
	f.mime = mime
	return f.desc, f.err
}

func newTestIngestor(store *fakeStore, d ImageDescriber) *Ingestor {
	idx := NewIndex(&fakeEmbedder{}, store)
	return NewIngestor(idx, NewSentenceChunker(2, 0), d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIngestor_TextFile(t *testing.T) {
	store := &fakeStore{}
	in := newTestIngestor(store, nil)

	n, err := in.Ingest(context.Background(), "dataset_ab12cd34", "f1", "notes.txt", []byte("One. Two. Three."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks, got %d", n)
	}
	if store.fileID != "f1" {
		t.Errorf("expected file id f1, got %q", store.fileID)
	}
	md := store.inserted[1].Metadata
	if md[MetaFilename] != "notes.txt" || md[MetaType] != TypeText || md[MetaChunkIndex] != "1" {
		t.Errorf("unexpected metadata %v", md)
	}
}

func TestIngestor_ImageDescription(t *testing.T) {
	store := &fakeStore{}
	d := &fakeDescriber{desc: "A bar chart of sales."}
	in := newTestIngestor(store, d)

	n, err := in.Ingest(context.Background(), "c", "f2", "Sales.PNG", []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 passage, got %d", n)
	}
	doc := store.inserted[0]
	if doc.Metadata[MetaType] != TypeImageDescription || doc.Metadata[MetaImageType] != ImageTypeDescription {
		t.Errorf("unexpected metadata %v", doc.Metadata)
	}
	if doc.Text != "Visual Description of Sales.PNG:\nA bar chart of sales." {
		t.Errorf("unexpected text %q", doc.Text)
	}
	if d.mime != "image/png" {
		t.Errorf("expected image/png, got %s", d.mime)
	}
}

func TestIngestor_ImageDescriptionFailureStoresPlaceholder(t *testing.T) {
	store := &fakeStore{}
	in := newTestIngestor(store, &fakeDescriber{err: errors.New("vision down")})

	if _, err := in.Ingest(context.Background(), "c", "f3", "photo.jpg", []byte("img")); err != nil {
		t.Fatal(err)
	}
	if store.inserted[0].Metadata[MetaImageType] != ImageTypePlaceholder {
		t.Errorf("expected placeholder, got %v", store.inserted[0].Metadata)
	}
}

func TestIngestor_UnsupportedType(t *testing.T) {
	in := newTestIngestor(&fakeStore{}, nil)
	_, err := in.Ingest(context.Background(), "c", "f4", "report.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
}

func TestIndex_QueryZeroTopN(t *testing.T) {
	store := &fakeStore{results: []Passage{{Text: "x"}}}
	idx := NewIndex(&fakeEmbedder{}, store)

	got, err := idx.Query(context.Background(), "c", "q", 0)
	if err != nil || got != nil {
		t.Fatalf("expected no passages for topN 0, got %v, %v", got, err)
	}

	got, err = idx.Query(context.Background(), "c", "q", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || store.limit != 3 {
		t.Errorf("expected search with limit 3, got %d passages limit %d", len(got), store.limit)
	}
}

func TestSupported(t *testing.T) {
	for name, want := range map[string]bool{
		"notes.txt":    true,
		"README.MD":    true,
		"photo.jpeg":   true,
		"diagram.webp": true,
		"report.pdf":   false,
		"archive":      false,
	} {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}
