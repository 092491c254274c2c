// Package watcher uploads PDFs dropped into an inbox directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

// defaultSettle is how long a file must stay unchanged before it is uploaded.
const defaultSettle = 750 * time.Millisecond

// Uploader is the slice of the session client the watcher drives.
type Uploader interface {
	SelectFile(ctx context.Context, f *chat.File)
	Upload(ctx context.Context) (chat.UploadInfo, error)
}

// Watcher feeds new files in a directory through the regular upload path.
type Watcher struct {
	uploader   Uploader
	logger     *zap.Logger
	extensions []string
	settle     time.Duration
}

// New creates a watcher for PDF files.
func New(uploader Uploader, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		uploader:   uploader,
		logger:     logger,
		extensions: []string{".pdf"},
		settle:     defaultSettle,
	}
}

// Run watches dir until ctx is done.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching upload inbox", zap.String("dir", dir))

	settled := newDebouncer(w.settle)
	defer settled.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.isWatchedExtension(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				settled.touch(event.Name)
			}
		case path := <-settled.ready:
			w.upload(ctx, path)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// debouncer emits a path on ready once it has gone untouched for delay.
// Each path is emitted at most once per quiet period.
type debouncer struct {
	delay time.Duration
	ready chan string

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		ready:   make(chan string, 16),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
}

// touch restarts the quiet period for path. A superseded timer whose
// callback is already running sees it is no longer current and does nothing.
func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.pending[path]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() { d.fire(path, t) })
	d.pending[path] = t
}

func (d *debouncer) fire(path string, t *time.Timer) {
	d.mu.Lock()
	if d.pending[path] != t {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	select {
	case d.ready <- path:
	case <-d.done:
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.pending {
		t.Stop()
		delete(d.pending, path)
	}
	close(d.done)
}

func (w *Watcher) upload(ctx context.Context, path string) {
	file, err := chat.FileFromPath(path)
	if err != nil {
		w.logger.Warn("skipping inbox file", zap.String("path", path), zap.Error(err))
		return
	}

	w.uploader.SelectFile(ctx, file)
	info, err := w.uploader.Upload(ctx)
	if err != nil {
		w.logger.Warn("inbox upload failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("inbox file uploaded", zap.String("path", path), zap.String("pdf_id", info.DocumentID))
}

func (w *Watcher) isWatchedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
