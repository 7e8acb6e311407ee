package watcher

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/log"
)

func init() {
	log.SetOutput(io.Discard)
}

type mockIndexer struct {
	indexed []string
	deleted []string
	mu      sync.Mutex
}

func (m *mockIndexer) Index(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = append(m.indexed, path)
	return nil
}

func (m *mockIndexer) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *mockIndexer) wasIndexed(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.indexed, path)
}

func (m *mockIndexer) wasDeleted(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.deleted, path)
}

func (m *mockIndexer) indexedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexed)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	if err := cfg.SetRoot(t.TempDir()); err != nil {
		t.Fatalf("SetRoot() error = %v", err)
	}
	cfg.BuildMaps()
	return cfg
}

func startWatcher(t *testing.T, idx Indexer, cfg *config.Config) *Watcher {
	t.Helper()
	w, err := New(idx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	idx := &mockIndexer{}

	w, err := New(idx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.watcher.Close()

	if w.indexer != idx {
		t.Error("indexer should match")
	}
	if w.config != cfg {
		t.Error("config should match")
	}
}

func TestWatcher_StartStop(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(&mockIndexer{}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if w.IsRunning() {
		t.Error("watcher should not be running initially")
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Start(); err != nil {
		t.Error("Start() should be idempotent")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop()")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() after restart error = %v", err)
	}
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.RootDir = filepath.Join(cfg.RootDir, "missing")

	w, err := New(&mockIndexer{}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Start(); err == nil {
		w.Stop()
		t.Fatal("Start() should fail for a missing root")
	}
	if w.IsRunning() {
		t.Error("watcher should not be running after a failed Start()")
	}
}

func TestWatcher_FileEvents(t *testing.T) {
	cfg := testConfig(t)
	idx := &mockIndexer{}
	startWatcher(t, idx, cfg)

	testFile := filepath.Join(cfg.RootDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	eventually(t, "file to be indexed", func() bool { return idx.wasIndexed(testFile) })

	before := idx.indexedCount()
	if err := os.WriteFile(testFile, []byte("world"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	eventually(t, "file to be reindexed", func() bool { return idx.indexedCount() > before })

	if err := os.Remove(testFile); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	eventually(t, "file to be deleted", func() bool { return idx.wasDeleted(testFile) })
}

func TestWatcher_Rename(t *testing.T) {
	cfg := testConfig(t)
	oldPath := filepath.Join(cfg.RootDir, "old.txt")
	newPath := filepath.Join(cfg.RootDir, "new.txt")
	if err := os.WriteFile(oldPath, []byte("moving"), 0644); err != nil {
		t.Fatal(err)
	}

	idx := &mockIndexer{}
	startWatcher(t, idx, cfg)

	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	eventually(t, "old name to be deleted", func() bool { return idx.wasDeleted(oldPath) })
	eventually(t, "new name to be indexed", func() bool { return idx.wasIndexed(newPath) })
}

func TestWatcher_NewDirectory(t *testing.T) {
	cfg := testConfig(t)
	idx := &mockIndexer{}
	startWatcher(t, idx, cfg)

	dir := filepath.Join(cfg.RootDir, "fresh")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to pick up the directory before writing into it.
	time.Sleep(100 * time.Millisecond)

	nested := filepath.Join(dir, "inside.txt")
	if err := os.WriteFile(nested, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	eventually(t, "file in new directory to be indexed", func() bool { return idx.wasIndexed(nested) })
}

func TestWatcher_ExcludedDirs(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludeHidden = false
	cfg.ExcludeDirs = []string{".git"}
	cfg.BuildMaps()
	idx := &mockIndexer{}

	excludedDir := filepath.Join(cfg.RootDir, ".git")
	if err := os.Mkdir(excludedDir, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	startWatcher(t, idx, cfg)

	testFile := filepath.Join(excludedDir, "config.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if idx.indexedCount() > 0 {
		t.Error("files in excluded directories should not be indexed")
	}
}

func TestWatcher_HiddenFilesIgnored(t *testing.T) {
	cfg := testConfig(t)
	idx := &mockIndexer{}
	startWatcher(t, idx, cfg)

	if err := os.WriteFile(filepath.Join(cfg.RootDir, ".swp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	visible := filepath.Join(cfg.RootDir, "visible.txt")
	if err := os.WriteFile(visible, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	eventually(t, "visible file to be indexed", func() bool { return idx.wasIndexed(visible) })
	if idx.wasIndexed(filepath.Join(cfg.RootDir, ".swp")) {
		t.Error("hidden files should not be indexed")
	}
}
