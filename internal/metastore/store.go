// Package metastore remembers files whose content could not be extracted, so
// the reindex loop does not retry them every cycle until they change on disk.
package metastore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("failures")

type Store struct {
	db *bolt.DB
}

// Failure is what a file looked like when extraction last failed.
type Failure struct {
	ModTime time.Time
	Size    int64
	Reason  string
}

// Matches reports whether a file with the given mtime and size is unchanged
// since the failure was recorded.
func (f Failure) Matches(modTime time.Time, size int64) bool {
	return f.ModTime.Equal(modTime) && f.Size == size
}

// New opens meta.db next to the snapshot file.
func New(snapshotPath string) (*Store, error) {
	dir := filepath.Dir(snapshotPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, "meta.db"))
}

func Open(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Record(path string, f Failure) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(path), encodeFailure(f))
	})
}

func (s *Store) Lookup(path string) (Failure, bool, error) {
	var f Failure
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(path))
		if v != nil {
			f = decodeFailure(v)
			found = true
		}
		return nil
	})

	return f, found, err
}

func (s *Store) Forget(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(path))
	})
}

func (s *Store) ForEach(fn func(path string, f Failure) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			return fn(string(k), decodeFailure(v))
		})
	})
}

// Prune drops every entry for which keep returns false and reports how many went.
func (s *Store) Prune(keep func(path string) bool) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		var stale []string
		if err := b.ForEach(func(k, _ []byte) error {
			if !keep(string(k)) {
				stale = append(stale, string(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, path := range stale {
			if err := b.Delete([]byte(path)); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *Store) Count() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return count, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeFailure(f Failure) []byte {
	buf := make([]byte, 16, 16+len(f.Reason))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(f.ModTime.UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.Size))
	return append(buf, f.Reason...)
}

func decodeFailure(b []byte) Failure {
	if len(b) < 16 {
		return Failure{}
	}
	return Failure{
		ModTime: time.Unix(0, int64(binary.LittleEndian.Uint64(b[0:8]))),
		Size:    int64(binary.LittleEndian.Uint64(b[8:16])),
		Reason:  string(b[16:]),
	}
}
