package chat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmptyFileName is returned when a selection has no usable name.
var ErrEmptyFileName = errors.New("file name is required")

// File is a file-picker selection. Content can be opened more than once.
type File struct {
	Name string
	Size int64
	open func() (io.ReadCloser, error)
}

// NewFile wraps an arbitrary content source.
func NewFile(name string, size int64, open func() (io.ReadCloser, error)) (*File, error) {
	if name == "" {
		return nil, ErrEmptyFileName
	}
	return &File{Name: name, Size: size, open: open}, nil
}

// FileFromPath selects a file on the local filesystem.
func FileFromPath(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return NewFile(filepath.Base(path), info.Size(), func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

// FileFromBytes selects an in-memory file, e.g. a multipart part already read.
func FileFromBytes(name string, data []byte) (*File, error) {
	return NewFile(name, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// Open returns a fresh reader over the file content.
func (f *File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no content", f.Name)
	}
	return f.open()
}
