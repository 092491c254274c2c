package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

type fakeUploader struct {
	mu       sync.Mutex
	selected *chat.File
	uploads  []string
}

func (f *fakeUploader) SelectFile(_ context.Context, file *chat.File) {
	f.mu.Lock()
	f.selected = file
	f.mu.Unlock()
}

func (f *fakeUploader) Upload(context.Context) (chat.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, f.selected.Name)
	return chat.UploadInfo{DocumentID: "d1", Filename: f.selected.Name, ChunkCount: 1}, nil
}

func (f *fakeUploader) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func TestWatcherUploadsNewPDFs(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	w := New(up, nil)
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Report.PDF"), []byte("%PDF-1.4"), 0o644))

	assert.Eventually(t, func() bool {
		return len(up.names()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"Report.PDF"}, up.names())

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherMissingDir(t *testing.T) {
	w := New(&fakeUploader{}, nil)
	err := w.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDebouncerEmitsOncePerQuietPeriod(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.stop()

	d.touch("a.pdf")
	d.mu.Lock()
	superseded := d.pending["a.pdf"]
	d.mu.Unlock()
	for i := 0; i < 5; i++ {
		d.touch("a.pdf")
	}

	// A timer that already fired before being replaced must not emit.
	d.fire("a.pdf", superseded)

	select {
	case path := <-d.ready:
		assert.Equal(t, "a.pdf", path)
	case <-time.After(2 * time.Second):
		t.Fatal("settled path was not emitted")
	}

	select {
	case path := <-d.ready:
		t.Fatalf("%s emitted twice", path)
	case <-time.After(150 * time.Millisecond):
	}
}
