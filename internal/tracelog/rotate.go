package tracelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an append-only file that rotates by size. On rotation
// file.N-1 shifts to file.N down to file → file.1; the oldest backup is
// overwritten. With zero backups the file is truncated in place.
type RotatingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int
	f        *os.File
	size     int64
}

// OpenRotating opens (or creates) path for appending.
func OpenRotating(path string, maxBytes int64, backups int) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace log dir: %w", err)
	}
	r := &RotatingFile{path: path, maxBytes: maxBytes, backups: backups}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat trace log: %w", err)
	}
	r.f = f
	r.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past maxBytes.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) rotate() error {
	r.f.Close()
	r.f = nil

	if r.backups <= 0 {
		if err := os.Truncate(r.path, 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate trace log: %w", err)
		}
		return r.open()
	}

	for i := r.backups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", r.path, i)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, fmt.Sprintf("%s.%d", r.path, i+1))
		}
	}
	_ = os.Rename(r.path, r.path+".1")
	return r.open()
}

// Close closes the underlying file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
