package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/log"
	"golang.org/x/sync/errgroup"
)

type CycleResult struct {
	Added     int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
	Removed   int
	Duration  time.Duration
}

type tally struct {
	added, updated, unchanged, skipped, failed atomic.Int64
}

func (t *tally) count(o outcome) {
	switch o {
	case outcomeAdded:
		t.added.Add(1)
	case outcomeUpdated:
		t.updated.Add(1)
	case outcomeUnchanged:
		t.unchanged.Add(1)
	case outcomeSkipped:
		t.skipped.Add(1)
	case outcomeFailed:
		t.failed.Add(1)
	}
}

// Prune removes documents whose files no longer exist or lie outside the
// configured root, as left by a snapshot built for another folder. Paths whose
// metadata cannot be read for another reason are kept.
func (i *Indexer) Prune(ctx context.Context) (int, error) {
	i.mu.RLock()
	paths := make([]string, 0, len(i.model.Documents))
	for path := range i.model.Documents {
		paths = append(paths, path)
	}
	i.mu.RUnlock()

	var gone []string
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !i.config.InRoot(path) {
			gone = append(gone, path)
			continue
		}
		_, err := os.Stat(path)
		if err == nil {
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, path)
			continue
		}
		log.Debugf("cannot stat %s, keeping it: %v", path, err)
	}

	removed := 0
	if len(gone) > 0 {
		i.mu.Lock()
		for _, path := range gone {
			if i.model.RemoveDocument(path) {
				removed++
			}
		}
		i.mu.Unlock()
	}
	if removed > 0 {
		i.generation.Add(1)
		i.metrics.DocsRemovedTotal.Add(float64(removed))
	}

	if i.meta != nil {
		if _, err := i.meta.Prune(func(path string) bool {
			if !i.config.InRoot(path) {
				return false
			}
			_, err := os.Stat(path)
			return !errors.Is(err, fs.ErrNotExist)
		}); err != nil {
			log.Debugf("metastore prune: %v", err)
		}
	}

	return removed, nil
}

// Walk visits every file below the root and indexes the stale ones on a pool
// of WorkerCount goroutines. A single file's extraction failure is logged and
// never stops the walk. An unreadable root always fails; with strict set, any
// directory or metadata error does too.
func (i *Indexer) Walk(ctx context.Context, strict bool) (CycleResult, error) {
	root := i.config.RootDir
	if root == "" {
		return CycleResult{}, errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, "no root directory configured", nil)
	}

	info, err := os.Stat(root)
	if err != nil {
		return CycleResult{}, errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, "cannot read root "+root, err)
	}
	if !info.IsDir() {
		return CycleResult{}, errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, root+" is not a directory", nil)
	}

	var t tally
	var g errgroup.Group
	g.SetLimit(max(i.config.WorkerCount, 1))

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == root || strict {
				return ioError(path, err)
			}
			log.Warnf("skipping %s: %v", path, err)
			return nil
		}

		if d.IsDir() {
			if path != root && !i.config.ShouldIndexDir(path) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !i.config.ShouldIndexFile(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if strict {
				return ioError(path, err)
			}
			log.Warnf("cannot read metadata of %s: %v", path, err)
			return nil
		}

		g.Go(func() error {
			out, err := i.indexFile(path, fi)
			t.count(out)
			if err != nil {
				log.Warnf("failed to index %s: %v", path, err)
			}
			return nil
		})
		return nil
	})

	_ = g.Wait()

	res := CycleResult{
		Added:     int(t.added.Load()),
		Updated:   int(t.updated.Load()),
		Unchanged: int(t.unchanged.Load()),
		Skipped:   int(t.skipped.Load()),
		Failed:    int(t.failed.Load()),
	}
	if walkErr != nil {
		return res, walkErr
	}
	return res, nil
}

func ioError(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return errdefs.NewCustomError(errdefs.ErrTypeFileAccessDenied, path, err)
	}
	return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, path, err)
}

// RunCycle prunes, walks and persists, in that order. Cycles never overlap.
func (i *Indexer) RunCycle(ctx context.Context) (CycleResult, error) {
	return i.cycle(ctx, false)
}

// IndexOnce runs one strict cycle: any directory or metadata error aborts it
// before the snapshot is written.
func (i *Indexer) IndexOnce(ctx context.Context) (CycleResult, error) {
	return i.cycle(ctx, true)
}

func (i *Indexer) cycle(ctx context.Context, strict bool) (CycleResult, error) {
	i.cycleMu.Lock()
	defer i.cycleMu.Unlock()

	start := time.Now()
	res, err := i.runCycle(ctx, strict)
	res.Duration = time.Since(start)

	i.recordCycle(res, err)
	if err != nil {
		i.metrics.ReindexCyclesTotal.WithLabelValues("error").Inc()
		return res, err
	}

	i.metrics.ReindexCyclesTotal.WithLabelValues("ok").Inc()
	i.metrics.ReindexDuration.Observe(res.Duration.Seconds())
	return res, nil
}

func (i *Indexer) runCycle(ctx context.Context, strict bool) (CycleResult, error) {
	removed, err := i.Prune(ctx)
	if err != nil {
		return CycleResult{}, err
	}

	res, err := i.Walk(ctx, strict)
	res.Removed = removed
	if err != nil {
		return res, err
	}

	if err := i.Persist(); err != nil {
		return res, err
	}
	return res, nil
}

func (i *Indexer) recordCycle(res CycleResult, err error) {
	i.updateGauges()

	i.statsMu.Lock()
	defer i.statsMu.Unlock()

	i.stats.RootDir = i.config.RootDir
	i.stats.Cycles++
	i.stats.Added = res.Added
	i.stats.Updated = res.Updated
	i.stats.Removed = res.Removed
	i.stats.Failed = res.Failed
	i.stats.LastIndexTime = time.Now()
	i.stats.IndexDuration = res.Duration.Round(time.Millisecond).String()
	i.stats.LastError = ""
	if err != nil {
		i.stats.LastError = err.Error()
	}
}

// Trigger asks the loop to start a cycle now. It reports false when a request
// is already pending.
func (i *Indexer) Trigger() bool {
	select {
	case i.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run repeats RunCycle until ctx is cancelled, sleeping interval after each
// cycle or until Trigger is called. A failed cycle is logged and the loop
// carries on with the next one.
func (i *Indexer) Run(ctx context.Context, interval time.Duration) {
	log.Infof("reindex loop started for %s (interval %s)", i.config.RootDir, interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("reindex loop stopped")
			return
		case <-timer.C:
		case <-i.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		res, err := i.RunCycle(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			log.Infof("reindex loop stopped")
			return
		case err != nil:
			log.Errorf("reindex cycle failed: %v", err)
		default:
			log.Infof("reindex cycle: %s", res)
		}

		timer.Reset(interval)
	}
}

func (r CycleResult) String() string {
	return fmt.Sprintf("+%d new, ~%d updated, -%d removed, =%d unchanged, %d skipped, %d failed, took %s",
		r.Added, r.Updated, r.Removed, r.Unchanged, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
}
