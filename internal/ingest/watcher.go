package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize
var ErrWatcherFailed = errors.New("failed to initialize inbox watcher")

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Ingester is the part of Service the watcher needs.
type Ingester interface {
	Supports(name string) bool
	IngestFile(ctx context.Context, path string) (*Result, error)
}

// InboxEvent reports the outcome for one inbox file.
type InboxEvent struct {
	Path   string
	Result *Result
	Err    error
}

// InboxWatcher ingests files dropped into a directory. Files are handled
// once they have been quiet for the settle delay, then moved to the
// processed or failed subdirectory.
type InboxWatcher struct {
	dir      string
	ingester Ingester
	settle   time.Duration
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	events   chan InboxEvent
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewInboxWatcher creates a watcher for dir, creating it when missing.
func NewInboxWatcher(dir string, ingester Ingester, settle time.Duration, logger *logging.Logger) (*InboxWatcher, error) {
	for _, d := range []string{dir, filepath.Join(dir, processedDir), filepath.Join(dir, failedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating inbox: %w", err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &InboxWatcher{
		dir:      dir,
		ingester: ingester,
		settle:   settle,
		logger:   logger.Named("inbox"),
		watcher:  w,
		events:   make(chan InboxEvent, 16),
		stop:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start picks up files already in the inbox and begins watching for new
// ones in a background goroutine. Call Stop to release resources.
func (w *InboxWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scanning inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.processEvents(ctx)
	w.logger.Info(ctx, "watching inbox", zap.String("dir", w.dir))
	return nil
}

// Stop stops the watcher. Pending files are left in the inbox.
func (w *InboxWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.wg.Wait()
	})
}

// Events returns the channel of ingestion outcomes. Events are dropped when
// nobody reads the channel.
func (w *InboxWatcher) Events() <-chan InboxEvent {
	return w.events
}

func (w *InboxWatcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "inbox watcher error", zap.Error(err))
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *InboxWatcher) schedule(ctx context.Context, path string) {
	if filepath.Dir(path) != filepath.Clean(w.dir) || !w.ingester.Supports(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stop:
		return
	default:
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.handle(ctx, path) })
}

func (w *InboxWatcher) handle(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	res, err := w.ingester.IngestFile(ctx, path)
	dest := processedDir
	if err != nil {
		dest = failedDir
		w.logger.Warn(ctx, "inbox file rejected", zap.String("path", path), zap.Error(err))
	}
	moved := filepath.Join(w.dir, dest, filepath.Base(path))
	if rerr := os.Rename(path, moved); rerr != nil {
		w.logger.Error(ctx, "moving inbox file", zap.String("path", path), zap.Error(rerr))
		moved = path
	}

	select {
	case w.events <- InboxEvent{Path: moved, Result: res, Err: err}:
	default:
	}
}
