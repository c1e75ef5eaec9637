package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/af-corp/chorus/internal/chat"
	"github.com/af-corp/chorus/internal/chorus"
	"github.com/af-corp/chorus/internal/provider"
	"github.com/af-corp/chorus/internal/ratelimit"
	"github.com/af-corp/chorus/internal/store"
	"github.com/af-corp/chorus/internal/types"
)

// memCatalog is an in-memory Catalog.
type memCatalog struct {
	mu       sync.Mutex
	nextID   int64
	datasets map[int64]*store.Dataset
	files    map[int64]*store.DatasetFile
	models   map[int64]*store.ChorusModel
	bots     map[int64]*store.Bot
	history  []store.HistoryEntry
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		datasets: map[int64]*store.Dataset{},
		files:    map[int64]*store.DatasetFile{},
		models:   map[int64]*store.ChorusModel{},
		bots:     map[int64]*store.Bot{},
	}
}

func (c *memCatalog) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *memCatalog) CreateDataset(_ context.Context, name, description string) (*store.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.datasets {
		if d.Name == name {
			return nil, fmt.Errorf("insert dataset %s: %w", name, store.ErrConflict)
		}
	}
	d := &store.Dataset{ID: c.id(), Name: name, Description: description, CollectionID: fmt.Sprintf("dataset_%08x", c.nextID), CreatedAt: time.Now()}
	c.datasets[d.ID] = d
	return d, nil
}

func (c *memCatalog) ListDatasets(context.Context) ([]store.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []store.Dataset{}
	for _, d := range c.datasets {
		out = append(out, *d)
	}
	return out, nil
}

func (c *memCatalog) GetDataset(_ context.Context, id int64) (*store.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.datasets[id]
	if !ok {
		return nil, fmt.Errorf("get dataset %d: %w", id, store.ErrNotFound)
	}
	cp := *d
	for _, f := range c.files {
		if f.DatasetID == id {
			cp.FileCount++
		}
	}
	return &cp, nil
}

func (c *memCatalog) DeleteDataset(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.datasets[id]; !ok {
		return store.ErrNotFound
	}
	delete(c.datasets, id)
	for fid, f := range c.files {
		if f.DatasetID == id {
			delete(c.files, fid)
		}
	}
	for _, b := range c.bots {
		if b.DatasetID != nil && *b.DatasetID == id {
			b.DatasetID = nil
		}
	}
	return nil
}

func (c *memCatalog) AddFile(_ context.Context, f *store.DatasetFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.files {
		if existing.DatasetID == f.DatasetID && existing.Filename == f.Filename {
			return store.ErrConflict
		}
	}
	f.ID = c.id()
	cp := *f
	c.files[f.ID] = &cp
	return nil
}

func (c *memCatalog) SetChunkCount(_ context.Context, fileID int64, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.files[fileID]; ok {
		f.ChunkCount = n
	}
	return nil
}

func (c *memCatalog) ListFiles(_ context.Context, datasetID int64) ([]store.DatasetFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []store.DatasetFile{}
	for _, f := range c.files {
		if f.DatasetID == datasetID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (c *memCatalog) GetFile(_ context.Context, datasetID, fileID int64) (*store.DatasetFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[fileID]
	if !ok || f.DatasetID != datasetID {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (c *memCatalog) DeleteFile(_ context.Context, datasetID, fileID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[fileID]
	if !ok || f.DatasetID != datasetID {
		return store.ErrNotFound
	}
	delete(c.files, fileID)
	return nil
}

func (c *memCatalog) CreateChorusModel(_ context.Context, name, description string, cfg types.ChorusConfig) (*store.ChorusModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &store.ChorusModel{ID: c.id(), Name: name, Description: description, Config: cfg, CreatedAt: time.Now()}
	c.models[m.ID] = m
	return m, nil
}

func (c *memCatalog) ListChorusModels(context.Context) ([]store.ChorusModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []store.ChorusModel{}
	for _, m := range c.models {
		out = append(out, *m)
	}
	return out, nil
}

func (c *memCatalog) GetChorusModel(_ context.Context, id int64) (*store.ChorusModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.models[id]
	if !ok {
		return nil, fmt.Errorf("get chorus model %d: %w", id, store.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (c *memCatalog) DeleteChorusModel(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[id]; !ok {
		return store.ErrNotFound
	}
	for _, b := range c.bots {
		if b.ChorusModelID == id {
			return fmt.Errorf("chorus model %d is used by bot %d: %w", id, b.ID, store.ErrConflict)
		}
	}
	delete(c.models, id)
	return nil
}

func (c *memCatalog) CreateBot(_ context.Context, b *store.Bot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.ID = c.id()
	cp := *b
	c.bots[b.ID] = &cp
	return nil
}

func (c *memCatalog) ListBots(context.Context) ([]store.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []store.Bot{}
	for _, b := range c.bots {
		out = append(out, *b)
	}
	return out, nil
}

func (c *memCatalog) GetBot(_ context.Context, id int64) (*store.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bots[id]
	if !ok {
		return nil, fmt.Errorf("get bot %d: %w", id, store.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (c *memCatalog) DeleteBot(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bots[id]; !ok {
		return store.ErrNotFound
	}
	delete(c.bots, id)
	return nil
}

func (c *memCatalog) History(_ context.Context, botID int64, limit int) ([]store.HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []store.HistoryEntry{}
	for _, e := range c.history {
		if e.BotID == botID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeModelCache struct {
	*memCatalog
	invalidated []int64
}

func (f *fakeModelCache) Invalidate(_ context.Context, id int64) {
	f.invalidated = append(f.invalidated, id)
}

// fakeChatter returns resp or err and remembers what it was asked.
type fakeChatter struct {
	resp   *chat.Response
	err    error
	events []chorus.Event
	bot    chat.Bot
	req    chat.Request
	calls  int
}

func (f *fakeChatter) Chat(_ context.Context, bot chat.Bot, req chat.Request, observe chorus.Observer) (*chat.Response, error) {
	f.calls++
	f.bot, f.req = bot, req
	if observe != nil {
		for _, ev := range f.events {
			observe(ev)
		}
	}
	return f.resp, f.err
}

type fakeIngester struct {
	data       map[string]string
	collection string
	err        error
}

func (f *fakeIngester) Ingest(_ context.Context, collection, _, filename string, data []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.data == nil {
		f.data = map[string]string{}
	}
	f.collection = collection
	f.data[filename] = string(data)
	return 3, nil
}

type fakeIndex struct {
	deletedFiles       []string
	deletedCollections []string
}

func (f *fakeIndex) DeleteFile(_ context.Context, collection, fileID string) error {
	f.deletedFiles = append(f.deletedFiles, collection+"/"+fileID)
	return nil
}

func (f *fakeIndex) DeleteCollection(_ context.Context, collection string) error {
	f.deletedCollections = append(f.deletedCollections, collection)
	return nil
}

// dirBlobs keeps uploads in a temp directory.
type dirBlobs struct {
	dir     string
	deleted []string
}

func (b *dirBlobs) SaveUpload(filename string, data []byte) (string, error) {
	name := "stored_" + filepath.Base(filename)
	return name, os.WriteFile(filepath.Join(b.dir, name), data, 0o644)
}

func (b *dirBlobs) ReadUpload(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.dir, name))
}

func (b *dirBlobs) DeleteUpload(name string) error {
	b.deleted = append(b.deleted, name)
	return os.Remove(filepath.Join(b.dir, name))
}

func (b *dirBlobs) UploadPath(name string) (string, error) {
	return filepath.Join(b.dir, name), nil
}

func (b *dirBlobs) GeneratedPath(name string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("generated %q: invalid", name)
	}
	return filepath.Join(b.dir, name), nil
}

type fakeQuota struct {
	allowed  bool
	checkErr error
	subject  string
	recorded int64
	records  int
}

func (q *fakeQuota) Check(_ context.Context, subject string, limit int64) (ratelimit.QuotaResult, error) {
	if q.checkErr != nil {
		return ratelimit.QuotaResult{Allowed: true, Limit: limit}, q.checkErr
	}
	return ratelimit.QuotaResult{Allowed: q.allowed, Used: limit, Limit: limit}, nil
}

func (q *fakeQuota) Record(_ context.Context, subject string, calls int64) error {
	q.subject, q.recorded = subject, q.recorded+calls
	q.records++
	return nil
}

type fakeProviders struct {
	configured []types.Provider
	health     *provider.HealthTracker
}

func (f *fakeProviders) Configured() []types.Provider    { return f.configured }
func (f *fakeProviders) Health() *provider.HealthTracker { return f.health }
