package indexer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/extract"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/metastore"
	"github.com/AvengeMedia/dankseek/internal/metrics"
	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/AvengeMedia/dankseek/internal/snapshot"
)

// Indexer owns the one shared Model. Every read and write of the model goes
// through mu; file I/O and extraction happen outside it.
type Indexer struct {
	config    *config.Config
	store     *snapshot.Store
	meta      *metastore.Store
	extractor *extract.Extractor
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	model *model.Model

	generation atomic.Uint64
	persisted  atomic.Uint64

	cycleMu sync.Mutex
	trigger chan struct{}

	statsMu sync.Mutex
	stats   config.IndexStats
}

type Option func(*Indexer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Indexer) { i.metrics = m }
}

// WithMetaStore enables the extraction-failure memo.
func WithMetaStore(s *metastore.Store) Option {
	return func(i *Indexer) { i.meta = s }
}

func WithExtractor(e *extract.Extractor) Option {
	return func(i *Indexer) { i.extractor = e }
}

// New loads the snapshot at cfg.SnapshotPath, or starts from an empty model
// when there is none. A snapshot that exists but cannot be decoded is an error.
func New(cfg *config.Config, opts ...Option) (*Indexer, error) {
	i := &Indexer{
		config:  cfg,
		store:   snapshot.New(cfg.SnapshotPath),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.metrics == nil {
		i.metrics = metrics.New()
	}
	if i.extractor == nil {
		i.extractor = extract.New(cfg)
	}

	m, err := i.store.Load()
	switch {
	case err == nil:
		log.Infof("loaded snapshot %s with %d documents", cfg.SnapshotPath, m.Len())
	case errdefs.IsType(err, errdefs.ErrTypeSnapshotNotFound):
		log.Infof("no snapshot at %s, starting with an empty index", cfg.SnapshotPath)
		m = model.New()
	default:
		return nil, err
	}

	i.model = m
	i.stats.RootDir = cfg.RootDir
	i.updateGauges()
	return i, nil
}

// Index brings a single file up to date. Unchanged files and files with no
// registered reader are left alone.
func (i *Indexer) Index(path string) error {
	if !i.config.ShouldIndexFile(path) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return errdefs.NewCustomError(errdefs.ErrTypeFileAccessDenied, path, err)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	_, err = i.indexFile(path, info)
	return err
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeAdded
	outcomeUpdated
	outcomeSkipped
	outcomeFailed
)

func (i *Indexer) indexFile(path string, info fs.FileInfo) (outcome, error) {
	mtime := info.ModTime()

	i.mu.RLock()
	_, known := i.model.Documents[path]
	stale := i.model.RequiresReindexing(path, mtime)
	i.mu.RUnlock()

	if !stale {
		return outcomeUnchanged, nil
	}

	if !i.extractor.Supports(path) {
		log.Debugf("no reader for %s, skipping", path)
		return outcomeSkipped, nil
	}

	if i.failedBefore(path, info) {
		log.Debugf("skipping %s, extraction failed before and file is unchanged", path)
		return outcomeSkipped, nil
	}

	// Extraction may be slow, so it runs without the lock.
	text, err := i.extractor.Extract(path)
	if err != nil {
		i.metrics.ExtractFailuresTotal.WithLabelValues(extLabel(path)).Inc()
		i.rememberFailure(path, info, err)
		return outcomeFailed, err
	}

	if !i.commit(path, text, mtime, known) {
		log.Debugf("%s changed while extracting, dropping stale text", path)
		return outcomeUnchanged, nil
	}

	i.generation.Add(1)
	i.metrics.DocsIndexedTotal.Inc()
	i.forgetFailure(path)

	log.Debugf("indexed %s", path)
	if known {
		return outcomeUpdated, nil
	}
	return outcomeAdded, nil
}

// commit stores text unless the model moved on during extraction: a newer
// version was indexed meanwhile, or the document known before was deleted.
func (i *Indexer) commit(path, text string, mtime time.Time, known bool) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, present := i.model.Documents[path]
	if (known && !present) || !i.model.RequiresReindexing(path, mtime) {
		return false
	}
	i.model.AddDocument(path, text, mtime)
	return true
}

// Delete removes path and, when path was a directory, every document below it.
func (i *Indexer) Delete(path string) error {
	n := i.remove(path)
	if n > 0 {
		log.Debugf("deleted %d document(s) at %s from index", n, path)
	}
	return nil
}

func (i *Indexer) remove(path string) int {
	prefix := path + string(filepath.Separator)

	i.mu.Lock()
	removed := 0
	if i.model.RemoveDocument(path) {
		removed++
	}
	for p := range i.model.Documents {
		if strings.HasPrefix(p, prefix) {
			i.model.RemoveDocument(p)
			removed++
		}
	}
	i.mu.Unlock()

	if removed > 0 {
		i.generation.Add(1)
		i.metrics.DocsRemovedTotal.Add(float64(removed))
	}
	return removed
}

// Search ranks every document against query. The returned generation
// identifies the index state the ranking was computed from.
func (i *Indexer) Search(query string) ([]model.Result, uint64) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.model.Search(query), i.generation.Load()
}

// Generation changes whenever a document is added or removed.
func (i *Indexer) Generation() uint64 {
	return i.generation.Load()
}

// RequiresReindexing is the model's staleness check under the read lock.
func (i *Indexer) RequiresReindexing(path string, lastModified time.Time) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.model.RequiresReindexing(path, lastModified)
}

// Persist writes the snapshot. Encoding happens under the read lock; the
// file write does not hold it.
func (i *Indexer) Persist() error {
	gen := i.generation.Load()

	i.mu.RLock()
	data, err := snapshot.Encode(i.model)
	i.mu.RUnlock()
	if err != nil {
		i.metrics.SnapshotWritesTotal.WithLabelValues("error").Inc()
		return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, "failed to encode snapshot", err)
	}

	if err := i.store.Write(data); err != nil {
		i.metrics.SnapshotWritesTotal.WithLabelValues("error").Inc()
		return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, "failed to write snapshot", err)
	}

	i.persisted.Store(gen)
	i.metrics.SnapshotWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Dirty reports whether the index changed since the last successful Persist.
func (i *Indexer) Dirty() bool {
	return i.generation.Load() != i.persisted.Load()
}

type FileInfo struct {
	Path         string    `json:"path"`
	Tokens       int       `json:"tokens"`
	Terms        int       `json:"terms"`
	LastModified time.Time `json:"last_modified"`
}

// ListFiles returns indexed documents whose path starts with prefix, sorted by
// path. A limit of zero or less returns all of them.
func (i *Indexer) ListFiles(prefix string, limit int) []FileInfo {
	i.mu.RLock()
	files := make([]FileInfo, 0, len(i.model.Documents))
	for path, doc := range i.model.Documents {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		files = append(files, FileInfo{
			Path:         path,
			Tokens:       doc.TotalTokens,
			Terms:        len(doc.TermFreq),
			LastModified: doc.LastModified,
		})
	}
	i.mu.RUnlock()

	slices.SortFunc(files, func(a, b FileInfo) int {
		return strings.Compare(a.Path, b.Path)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files
}

func (i *Indexer) Stats() *config.IndexStats {
	i.mu.RLock()
	docs, terms, tokens := i.model.Len(), i.model.Terms(), i.model.TotalTokens()
	i.mu.RUnlock()

	i.statsMu.Lock()
	stats := i.stats
	i.statsMu.Unlock()

	stats.TotalFiles = docs
	stats.TotalTerms = terms
	stats.TotalTokens = tokens
	return &stats
}

func (i *Indexer) updateGauges() {
	i.mu.RLock()
	docs, terms := i.model.Len(), i.model.Terms()
	i.mu.RUnlock()

	i.metrics.IndexedDocuments.Set(float64(docs))
	i.metrics.IndexedTerms.Set(float64(terms))
}

func (i *Indexer) failedBefore(path string, info fs.FileInfo) bool {
	if i.meta == nil {
		return false
	}
	f, found, err := i.meta.Lookup(path)
	if err != nil {
		log.Debugf("metastore lookup %s: %v", path, err)
		return false
	}
	return found && f.Matches(info.ModTime(), info.Size())
}

func (i *Indexer) rememberFailure(path string, info fs.FileInfo, cause error) {
	if i.meta == nil || errors.Is(cause, fs.ErrNotExist) {
		return
	}
	err := i.meta.Record(path, metastore.Failure{
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Reason:  cause.Error(),
	})
	if err != nil {
		log.Debugf("metastore record %s: %v", path, err)
	}
}

func (i *Indexer) forgetFailure(path string) {
	if i.meta == nil {
		return
	}
	if err := i.meta.Forget(path); err != nil {
		log.Debugf("metastore forget %s: %v", path, err)
	}
}

func extLabel(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "none"
	}
	return ext
}

// Close flushes unsaved changes and releases the metastore.
func (i *Indexer) Close() error {
	var errs []error
	if i.Dirty() {
		if err := i.Persist(); err != nil {
			errs = append(errs, err)
		}
	}
	if i.meta != nil {
		if err := i.meta.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard releases the metastore without writing pending changes.
func (i *Indexer) Discard() error {
	if i.meta != nil {
		return i.meta.Close()
	}
	return nil
}
