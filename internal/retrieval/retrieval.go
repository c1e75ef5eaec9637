// Package retrieval owns the vector side of a dataset: chunking and describing uploaded files,
// embedding them, storing passages in pgvector and ranking them for a query.
package retrieval

import (
	"context"
	"fmt"
)

// Metadata keys and values carried on every stored passage.
const (
	MetaFilename   = "filename"
	MetaFileID     = "file_id"
	MetaType       = "type"
	MetaImageType  = "image_type"
	MetaChunkIndex = "chunk_index"

	TypeText             = "text"
	TypeMarkdown         = "markdown"
	TypeImage            = "image"
	TypeImageDescription = "image_description"
	TypeImageOCR         = "image_ocr"

	ImageTypeDescription = "description"
	ImageTypeOCR         = "ocr"
	ImageTypePlaceholder = "placeholder"
)

// Passage is one ranked piece of dataset text.
type Passage struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	// Similarity is cosine similarity clamped to [0,1].
	Similarity float64 `json:"similarity"`
}

func (p Passage) Filename() string {
	if name := p.Metadata[MetaFilename]; name != "" {
		return name
	}
	return "Unknown"
}

// ImageDerived reports whether the passage text came from an image (OCR or description).
func (p Passage) ImageDerived() bool {
	switch p.Metadata[MetaType] {
	case TypeImageDescription, TypeImageOCR:
		return true
	}
	return false
}

// Document is a passage waiting to be embedded and stored.
type Document struct {
	Text     string
	Metadata map[string]string
}

// Retriever returns the topN passages of a collection ranked by similarity to text.
type Retriever interface {
	Query(ctx context.Context, collection, text string, topN int) ([]Passage, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists embedded passages per collection.
type VectorStore interface {
	Insert(ctx context.Context, collection, fileID string, docs []Document, vectors [][]float32) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Passage, error)
	DeleteFile(ctx context.Context, collection, fileID string) error
	DeleteCollection(ctx context.Context, collection string) error
}

// Index combines an Embedder and a VectorStore into a Retriever that can also ingest.
type Index struct {
	embedder Embedder
	store    VectorStore
}

func NewIndex(embedder Embedder, store VectorStore) *Index {
	return &Index{embedder: embedder, store: store}
}

func (x *Index) Query(ctx context.Context, collection, text string, topN int) ([]Passage, error) {
	if topN <= 0 {
		return nil, nil
	}
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	passages, err := x.store.Search(ctx, collection, vec, topN)
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w", collection, err)
	}
	return passages, nil
}

// Add embeds docs one by one and stores them under fileID.
func (x *Index) Add(ctx context.Context, collection, fileID string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors := make([][]float32, len(docs))
	for i, d := range docs {
		v, err := x.embedder.Embed(ctx, d.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vectors[i] = v
	}
	if err := x.store.Insert(ctx, collection, fileID, docs, vectors); err != nil {
		return fmt.Errorf("store passages: %w", err)
	}
	return nil
}

func (x *Index) DeleteFile(ctx context.Context, collection, fileID string) error {
	return x.store.DeleteFile(ctx, collection, fileID)
}

func (x *Index) DeleteCollection(ctx context.Context, collection string) error {
	return x.store.DeleteCollection(ctx, collection)
}
