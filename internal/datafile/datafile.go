// Package datafile manages the append-only data file: a synchronous
// append path that reports the (offset, length) of each written line,
// and a read path backed by a read-only mmap of the file with a
// positioned-read fallback for bytes appended since the last mapping.
package datafile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a requested offset/length extends past
// EOF; callers use this to detect hint-file/data-file skew.
var ErrNotFound = errors.New("datafile: offset/length past EOF")

// File wraps the single on-disk data file backing an engine.
type File struct {
	path string

	mu     sync.RWMutex
	w      *os.File // append handle
	r      *os.File // positioned-read handle, always open
	mapped []byte   // read-only mmap snapshot; nil until first map
	size   int64    // size covered by mapped
}

// Open opens (creating if necessary) the data file at path.
func Open(path string) (*File, error) {
	w, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datafile: open %s for append: %w", path, err)
	}
	r, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("datafile: open %s for read: %w", path, err)
	}

	f := &File{path: path, w: w, r: r}
	if err := f.remap(); err != nil {
		logrus.Warnf("datafile: initial mmap of %s failed, falling back to positioned reads: %v", path, err)
	}
	return f, nil
}

// Append writes line followed by a newline and returns the byte offset
// and length (including the newline) of the appended record.
func (f *File) Append(line []byte) (offset int64, length int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.w.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("datafile: stat: %w", err)
	}
	offset = info.Size()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	n, err := f.w.Write(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("datafile: append: %w", err)
	}
	if err := f.w.Sync(); err != nil {
		return 0, 0, fmt.Errorf("datafile: fsync: %w", err)
	}
	return offset, n, nil
}

// ReadAt returns the length bytes at offset, stripped of their trailing
// newline. It prefers the mmap snapshot and falls back to a positioned
// read on the underlying descriptor for bytes appended since the last
// remap (see spec's mmap-growth note, option (b)).
func (f *File) ReadAt(offset int64, length int) ([]byte, error) {
	f.mu.RLock()
	mapped := f.mapped
	mappedSize := f.size
	f.mu.RUnlock()

	end := offset + int64(length)
	if end <= mappedSize && mapped != nil {
		out := make([]byte, length)
		copy(out, mapped[offset:end])
		return trimNewline(out), nil
	}

	buf := make([]byte, length)
	n, err := f.r.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil, err
		}
		// A short/EOF read past the true end of file means the caller's
		// offset/length no longer describes live data.
		if n < length {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("datafile: read at %d,%d: %w", offset, length, err)
	}
	return trimNewline(buf), nil
}

// ReadAll returns the full current contents of the data file, read
// positionally from the start. Used by index rebuild, which needs to
// walk every record in file order rather than jump to a single
// (offset, length) pair.
func (f *File) ReadAll() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("datafile: seek: %w", err)
	}
	data, err := io.ReadAll(f.r)
	if err != nil {
		return nil, fmt.Errorf("datafile: read all: %w", err)
	}
	return data, nil
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}

// Sync remaps the file so that reads observe everything written so
// far. The engine calls this after a batch of appends, not on every
// single append, to keep the mmap-refresh cost bounded.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remap()
}

// remap must be called with f.mu held for writing.
func (f *File) remap() error {
	info, err := f.r.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	if f.mapped != nil {
		if err := unix.Munmap(f.mapped); err != nil {
			return fmt.Errorf("datafile: munmap: %w", err)
		}
		f.mapped = nil
		f.size = 0
	}
	if size == 0 {
		return nil
	}

	data, err := unix.Mmap(int(f.r.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("datafile: mmap: %w", err)
	}
	f.mapped = data
	f.size = size
	return nil
}

// Size returns the current on-disk size of the data file.
func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info, err := f.w.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Path returns the file's path on disk.
func (f *File) Path() string { return f.path }

// Close releases the mmap and both file handles.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if f.mapped != nil {
		if err := unix.Munmap(f.mapped); err != nil {
			firstErr = err
		}
		f.mapped = nil
	}
	if err := f.w.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := f.r.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
