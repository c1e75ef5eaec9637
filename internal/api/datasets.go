package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/chorus/internal/blob"
	"github.com/af-corp/chorus/internal/httputil"
	"github.com/af-corp/chorus/internal/retrieval"
	"github.com/af-corp/chorus/internal/store"
)

type createDatasetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type datasetDetail struct {
	store.Dataset
	Files []store.DatasetFile `json:"files"`
}

// CreateDataset handles POST /api/datasets.
func (h *Handler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteBadRequestError(w, requestID(w), "name is required")
		return
	}

	d, err := h.catalog.CreateDataset(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	h.logger.Info("dataset created", "request_id", requestID(w), "dataset_id", d.ID, "collection", d.CollectionID)
	httputil.WriteJSON(w, http.StatusCreated, d)
}

// ListDatasets handles GET /api/datasets.
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	ds, err := h.catalog.ListDatasets(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ds)
}

// GetDataset handles GET /api/datasets/{datasetID}, including the dataset's files.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "datasetID")
	if !ok {
		return
	}
	d, err := h.catalog.GetDataset(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Dataset not found")
		return
	}
	files, err := h.catalog.ListFiles(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, datasetDetail{Dataset: *d, Files: files})
}

// DeleteDataset handles DELETE /api/datasets/{datasetID}. Bots using the dataset are detached.
func (h *Handler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	id, ok := idParam(w, r, "datasetID")
	if !ok {
		return
	}
	d, err := h.catalog.GetDataset(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Dataset not found")
		return
	}
	files, err := h.catalog.ListFiles(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "")
		return
	}

	if err := h.index.DeleteCollection(r.Context(), d.CollectionID); err != nil {
		h.logger.Error("delete collection failed", "request_id", reqID, "collection", d.CollectionID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to delete indexed passages")
		return
	}
	if err := h.catalog.DeleteDataset(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Dataset not found")
		return
	}
	for _, f := range files {
		if err := h.blobs.DeleteUpload(f.StoredName); err != nil {
			h.logger.Warn("delete stored file failed", "request_id", reqID, "stored_name", f.StoredName, "error", err)
		}
	}

	h.logger.Info("dataset deleted", "request_id", reqID, "dataset_id", id, "files", len(files))
	w.WriteHeader(http.StatusNoContent)
}

type uploadResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	FileID   int64  `json:"file_id,omitempty"`
	Chunks   int    `json:"chunks_count"`
	Redacted int    `json:"secrets_redacted,omitempty"`
	Error    string `json:"error,omitempty"`
}

type uploadResponse struct {
	DatasetID int64          `json:"dataset_id"`
	Files     []uploadResult `json:"files"`
}

// Upload handles POST /api/datasets/{datasetID}/upload (multipart field "files").
// Each file succeeds or fails on its own.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	id, ok := idParam(w, r, "datasetID")
	if !ok {
		return
	}
	d, err := h.catalog.GetDataset(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Dataset not found")
		return
	}

	limit := h.cfg().Storage.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(min(limit, 32<<20)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteTooLargeError(w, reqID, fmt.Sprintf("Upload exceeds %d bytes", limit))
			return
		}
		httputil.WriteBadRequestError(w, reqID, "Invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		httputil.WriteBadRequestError(w, reqID, `no files in form field "files"`)
		return
	}

	resp := uploadResponse{DatasetID: id, Files: make([]uploadResult, 0, len(headers))}
	for _, fh := range headers {
		res := h.ingestUpload(r.Context(), d, fh)
		if res.Error != "" {
			h.logger.Warn("file upload failed", "request_id", reqID, "dataset_id", id, "filename", res.Filename, "error", res.Error)
		} else {
			h.logger.Info("file ingested", "request_id", reqID, "dataset_id", id, "filename", res.Filename, "chunks", res.Chunks)
		}
		resp.Files = append(resp.Files, res)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ingestUpload(ctx context.Context, d *store.Dataset, fh *multipart.FileHeader) uploadResult {
	name := filepath.Base(fh.Filename)
	res := uploadResult{Filename: name, Status: "error"}
	if !retrieval.Supported(name) {
		res.Error = "unsupported file type " + filepath.Ext(name)
		return res
	}

	data, err := readPart(fh)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	stored, err := h.blobs.SaveUpload(name, data)
	if err != nil {
		res.Error = "could not store file"
		h.logger.Error("save upload failed", "filename", name, "error", err)
		return res
	}
	f := &store.DatasetFile{
		DatasetID:  d.ID,
		Filename:   name,
		StoredName: stored,
		FileType:   strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		SizeBytes:  int64(len(data)),
	}
	if err := h.catalog.AddFile(ctx, f); err != nil {
		h.blobs.DeleteUpload(stored)
		if errors.Is(err, store.ErrConflict) {
			res.Error = "a file with this name already exists in the dataset"
		} else {
			res.Error = "could not record file"
		}
		return res
	}
	res.FileID = f.ID

	if h.redactor != nil && h.redactor.Enabled() && !retrieval.IsImageFile(name) {
		var text string
		text, res.Redacted = h.redactor.Redact(string(data))
		data = []byte(text)
		if res.Redacted > 0 && h.metrics != nil {
			h.metrics.RecordFilterAction("secrets", "redact")
		}
	}

	chunks, err := h.ingester.Ingest(ctx, d.CollectionID, strconv.FormatInt(f.ID, 10), name, data)
	if err != nil {
		h.catalog.DeleteFile(ctx, d.ID, f.ID)
		h.blobs.DeleteUpload(stored)
		res.FileID = 0
		res.Error = "indexing failed: " + err.Error()
		return res
	}
	if err := h.catalog.SetChunkCount(ctx, f.ID, chunks); err != nil {
		h.logger.Warn("record chunk count failed", "file_id", f.ID, "error", err)
	}
	res.Status, res.Chunks = "success", chunks
	return res
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}

// DeleteFile handles DELETE /api/datasets/{datasetID}/files/{fileID}.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	datasetID, ok := idParam(w, r, "datasetID")
	if !ok {
		return
	}
	fileID, ok := idParam(w, r, "fileID")
	if !ok {
		return
	}
	d, err := h.catalog.GetDataset(r.Context(), datasetID)
	if err != nil {
		h.writeStoreError(w, err, "Dataset not found")
		return
	}
	f, err := h.catalog.GetFile(r.Context(), datasetID, fileID)
	if err != nil {
		h.writeStoreError(w, err, "File not found")
		return
	}

	if err := h.index.DeleteFile(r.Context(), d.CollectionID, strconv.FormatInt(fileID, 10)); err != nil {
		h.logger.Error("delete file passages failed", "request_id", reqID, "file_id", fileID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to delete indexed passages")
		return
	}
	if err := h.catalog.DeleteFile(r.Context(), datasetID, fileID); err != nil {
		h.writeStoreError(w, err, "File not found")
		return
	}
	if err := h.blobs.DeleteUpload(f.StoredName); err != nil {
		h.logger.Warn("delete stored file failed", "request_id", reqID, "stored_name", f.StoredName, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type fileContent struct {
	store.DatasetFile
	Content string `json:"content"`
}

// FileContent handles GET /api/datasets/{datasetID}/files/{fileID}. Text that is not valid
// UTF-8 is decoded as Latin-1. Images are served by FileImage instead.
func (h *Handler) FileContent(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	datasetID, ok := idParam(w, r, "datasetID")
	if !ok {
		return
	}
	fileID, ok := idParam(w, r, "fileID")
	if !ok {
		return
	}
	f, err := h.catalog.GetFile(r.Context(), datasetID, fileID)
	if err != nil {
		h.writeStoreError(w, err, "File not found")
		return
	}
	if retrieval.IsImageFile(f.Filename) {
		httputil.WriteBadRequestError(w, reqID, fmt.Sprintf("%s is an image, fetch it from /api/datasets/%d/files/%d/image", f.Filename, datasetID, fileID))
		return
	}
	data, err := h.blobs.ReadUpload(f.StoredName)
	if err != nil {
		h.logger.Error("read stored file failed", "request_id", reqID, "stored_name", f.StoredName, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to read file")
		return
	}

	text := decodeText(data)
	if h.redactor != nil && h.redactor.Enabled() {
		text, _ = h.redactor.Redact(text)
	}
	httputil.WriteJSON(w, http.StatusOK, fileContent{DatasetFile: *f, Content: text})
}

// decodeText returns data as a string, mapping each byte to its Latin-1 rune when data is not UTF-8.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// FileImage handles GET /api/datasets/{datasetID}/files/{fileID}/image.
func (h *Handler) FileImage(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	datasetID, ok := idParam(w, r, "datasetID")
	if !ok {
		return
	}
	fileID, ok := idParam(w, r, "fileID")
	if !ok {
		return
	}
	f, err := h.catalog.GetFile(r.Context(), datasetID, fileID)
	if err != nil {
		h.writeStoreError(w, err, "File not found")
		return
	}
	if !retrieval.IsImageFile(f.Filename) {
		httputil.WriteBadRequestError(w, reqID, f.Filename+" is not an image")
		return
	}
	path, err := h.blobs.UploadPath(f.StoredName)
	if err != nil {
		httputil.WriteNotFoundError(w, reqID, "File not found")
		return
	}
	w.Header().Set("Content-Type", retrieval.ImageMIME(f.Filename, nil))
	http.ServeFile(w, r, path)
}

// GeneratedImage handles GET /api/generated/{name}.
func (h *Handler) GeneratedImage(w http.ResponseWriter, r *http.Request) {
	path, err := h.blobs.GeneratedPath(chi.URLParam(r, "name"))
	if err != nil {
		if !errors.Is(err, blob.ErrInvalidName) {
			h.logger.Warn("resolve generated image failed", "request_id", requestID(w), "error", err)
		}
		httputil.WriteNotFoundError(w, requestID(w), "Image not found")
		return
	}
	http.ServeFile(w, r, path)
}
