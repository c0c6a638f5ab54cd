package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchQueueSize = 256

// Watcher re-indexes memory files as they change on disk.
type Watcher struct {
	m      *Manager
	scope  *Scope
	fsw    *fsnotify.Watcher
	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// WatchWorkspace starts watching root. Events for in-scope files are queued,
// debounced and coalesced, then applied in batches: existing files are
// re-indexed, removed ones retired. Stop with Close.
func (m *Manager) WatchWorkspace(ctx context.Context, root string) (*Watcher, error) {
	scope, err := LoadScope(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(scope.Root()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", scope.Root(), err)
	}

	w := &Watcher{
		m:     m,
		scope: scope,
		fsw:   fsw,
		queue: make(chan string, watchQueueSize),
	}
	if err := w.addTree(filepath.Join(scope.Root(), MemoryDir)); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.produce(ctx)
	go w.consume(ctx)

	m.logger.Info("memory watcher started", "root", scope.Root(), "debounce", m.debounce)
	return w, nil
}

// Close stops the watcher and waits for in-flight work.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

// addTree watches dir and its subdirectories. A missing dir is not an error;
// it is picked up when created.
func (w *Watcher) addTree(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if rel, relErr := w.scope.Rel(path); relErr == nil && w.scope.ignored(rel+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// produce translates fsnotify events into queued relative paths.
func (w *Watcher) produce(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, err := w.scope.Rel(ev.Name)
			if err != nil {
				continue
			}

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if rel == MemoryDir || strings.HasPrefix(rel, MemoryDir+"/") {
						if err := w.addTree(ev.Name); err != nil {
							w.m.logger.Warn("memory watcher add failed", "path", rel, "error", err)
						}
						// Files written before the watch was added.
						w.enqueueTree(ctx, ev.Name)
					}
					continue
				}
			}

			if !w.scope.Contains(rel) {
				continue
			}
			w.enqueue(ctx, rel)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.m.logger.Warn("memory watcher error", "error", err)
		}
	}
}

func (w *Watcher) enqueue(ctx context.Context, rel string) {
	select {
	case w.queue <- rel:
	case <-ctx.Done():
	}
}

func (w *Watcher) enqueueTree(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, relErr := w.scope.Rel(path); relErr == nil && w.scope.Contains(rel) {
			w.enqueue(ctx, rel)
		}
		return nil
	})
}

// consume debounces queued paths and applies them in batches.
func (w *Watcher) consume(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case rel := <-w.queue:
			pending[rel] = true
			timer.Reset(w.m.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for rel := range pending {
				batch = append(batch, rel)
			}
			pending = make(map[string]bool)
			sort.Strings(batch)
			w.apply(ctx, batch)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, batch []string) {
	var indexed, retired int
	for _, rel := range batch {
		if ctx.Err() != nil {
			return
		}
		abs := filepath.Join(w.scope.Root(), filepath.FromSlash(rel))
		info, err := os.Lstat(abs)
		if err != nil || !info.Mode().IsRegular() {
			if err := w.m.store.DeleteFile(ctx, rel, SourceMemory); err != nil {
				w.m.logger.Warn("memory watcher retire failed", "path", rel, "error", err)
				continue
			}
			retired++
			continue
		}
		out, err := w.m.IndexFile(ctx, w.scope.Root(), rel)
		if err != nil {
			w.m.logger.Warn("memory watcher index failed", "path", rel, "error", err)
			continue
		}
		if !out.Skipped {
			indexed++
		}
	}
	w.m.logger.Debug("memory watcher batch applied",
		"paths", len(batch), "indexed", indexed, "retired", retired)
}
