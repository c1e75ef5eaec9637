package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// ImageExtensions lists the image extensions the ingestor accepts, without the dot, sorted.
func ImageExtensions() []string {
	exts := make([]string, 0, len(imageExtensions))
	for ext := range imageExtensions {
		exts = append(exts, strings.TrimPrefix(ext, "."))
	}
	slices.Sort(exts)
	return exts
}

// IsImageFile reports whether filename has an image extension the ingestor can describe.
func IsImageFile(filename string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ImageMIME returns the MIME type for an image filename, sniffing data when the extension is unknown.
func ImageMIME(filename string, data []byte) string {
	if m, ok := imageExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	return http.DetectContentType(data)
}

// Supported reports whether Ingest accepts the file type.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return true
	}
	return IsImageFile(filename)
}

// ImageDescriber is the vision model used to index images.
type ImageDescriber interface {
	Describe(ctx context.Context, image []byte, mime string) (string, error)
}

// Ingestor turns an uploaded file into stored passages.
type Ingestor struct {
	index     *Index
	chunker   *SentenceChunker
	describer ImageDescriber
	logger    *slog.Logger
}

func NewIngestor(index *Index, chunker *SentenceChunker, describer ImageDescriber, logger *slog.Logger) *Ingestor {
	return &Ingestor{index: index, chunker: chunker, describer: describer, logger: logger}
}

// Ingest extracts, embeds and stores a file's passages. It returns the number of passages stored.
func (in *Ingestor) Ingest(ctx context.Context, collection, fileID, filename string, data []byte) (int, error) {
	docs, err := in.Extract(ctx, fileID, filename, data)
	if err != nil {
		return 0, err
	}
	if err := in.index.Add(ctx, collection, fileID, docs); err != nil {
		return 0, fmt.Errorf("index %s: %w", filename, err)
	}
	return len(docs), nil
}

// Extract builds the documents for a file without storing them.
func (in *Ingestor) Extract(ctx context.Context, fileID, filename string, data []byte) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".txt":
		return in.textDocuments(fileID, filename, TypeText, data)
	case ext == ".md":
		return in.textDocuments(fileID, filename, TypeMarkdown, data)
	case IsImageFile(filename):
		return []Document{in.imageDocument(ctx, fileID, filename, data)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
}

func (in *Ingestor) textDocuments(fileID, filename, kind string, data []byte) ([]Document, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8 text", filename)
	}
	chunks := in.chunker.Chunk(string(data))
	docs := make([]Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, Document{
			Text: c,
			Metadata: map[string]string{
				MetaFilename:   filename,
				MetaFileID:     fileID,
				MetaType:       kind,
				MetaChunkIndex: strconv.Itoa(i),
			},
		})
	}
	return docs, nil
}

func (in *Ingestor) imageDocument(ctx context.Context, fileID, filename string, data []byte) Document {
	meta := map[string]string{
		MetaFilename: filename,
		MetaFileID:   fileID,
	}

	if in.describer != nil {
		desc, err := in.describer.Describe(ctx, data, ImageMIME(filename, data))
		if err == nil && strings.TrimSpace(desc) != "" {
			meta[MetaType] = TypeImageDescription
			meta[MetaImageType] = ImageTypeDescription
			return Document{Text: fmt.Sprintf("Visual Description of %s:\n%s", filename, desc), Metadata: meta}
		}
		in.logger.Warn("image description failed", "filename", filename, "error", err)
	}

	meta[MetaType] = TypeImage
	meta[MetaImageType] = ImageTypePlaceholder
	return Document{Text: fmt.Sprintf("Image processed: %s (no text extracted)", filename), Metadata: meta}
}
