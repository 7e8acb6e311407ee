package metastore

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "index.json"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordLookup(t *testing.T) {
	s := openTestStore(t)
	mtime := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)

	if err := s.Record("/a/broken.pdf", Failure{ModTime: mtime, Size: 42, Reason: "malformed PDF"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	f, found, err := s.Lookup("/a/broken.pdf")
	if err != nil || !found {
		t.Fatalf("Lookup() = %v, %v", found, err)
	}
	if !f.ModTime.Equal(mtime) || f.Size != 42 || f.Reason != "malformed PDF" {
		t.Errorf("Lookup() = %+v", f)
	}

	if _, found, _ := s.Lookup("/a/other.pdf"); found {
		t.Error("unexpected entry for unknown path")
	}
}

func TestFailure_Matches(t *testing.T) {
	mtime := time.Now()
	f := Failure{ModTime: mtime, Size: 10}

	tests := []struct {
		name    string
		modTime time.Time
		size    int64
		want    bool
	}{
		{"unchanged", mtime, 10, true},
		{"newer", mtime.Add(time.Second), 10, false},
		{"resized", mtime, 11, false},
	}

	for _, tt := range tests {
		if got := f.Matches(tt.modTime, tt.size); got != tt.want {
			t.Errorf("%s: Matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStore_Forget(t *testing.T) {
	s := openTestStore(t)
	s.Record("/a/x.txt", Failure{Size: 1})

	if err := s.Forget("/a/x.txt"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if _, found, _ := s.Lookup("/a/x.txt"); found {
		t.Error("entry should be gone")
	}
	if err := s.Forget("/a/never.txt"); err != nil {
		t.Errorf("Forget() on unknown path error = %v", err)
	}
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []string{"/keep/1", "/drop/1", "/keep/2", "/drop/2", "/drop/3"} {
		s.Record(p, Failure{Size: 1})
	}

	removed, err := s.Prune(func(path string) bool {
		return strings.HasPrefix(path, "/keep/")
	})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune() removed %d, want 3", removed)
	}

	var left []string
	s.ForEach(func(path string, _ Failure) error {
		left = append(left, path)
		return nil
	})
	if len(left) != 2 || left[0] != "/keep/1" || left[1] != "/keep/2" {
		t.Errorf("remaining = %v", left)
	}

	if n, _ := s.Count(); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestDecodeFailure_Short(t *testing.T) {
	if f := decodeFailure([]byte{1, 2, 3}); f != (Failure{}) {
		t.Errorf("decodeFailure(short) = %+v, want zero", f)
	}
}
