// Package walog implements the write-ahead log: callers stage lines in
// memory, append them, then flush-and-sync once. Recovery replays
// well-formed lines and discards a partial trailing line.
package walog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// WAL is an append-only, line-oriented log file.
type WAL struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// Open opens (creating if necessary) the WAL file at path.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open %s: %w", path, err)
	}
	return &WAL{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Append stages a single line for the next FlushAndSync. It does not
// itself guarantee durability.
func (w *WAL) Append(line string) error {
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("walog: append: %w", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("walog: append: %w", err)
	}
	return nil
}

// FlushAndSync flushes the buffered writer to the OS and fsyncs the
// underlying file, making every line staged since the last flush
// durable.
func (w *WAL) FlushAndSync() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("walog: fsync: %w", err)
	}
	return nil
}

// Truncate resets the WAL to empty. The engine calls it after each
// committed batch, after recovery replay, and after a successful
// compaction; Close does not call it.
func (w *WAL) Truncate() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("walog: truncate: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("walog: seek: %w", err)
	}
	w.w = bufio.NewWriter(w.f)
	return nil
}

// TruncateToOffset abandons everything appended since offset, used to
// roll back an in-progress batch that failed partway through.
func (w *WAL) TruncateToOffset(offset int64) error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush before rollback: %w", err)
	}
	if err := w.f.Truncate(offset); err != nil {
		return fmt.Errorf("walog: truncate to %d: %w", offset, err)
	}
	if _, err := w.f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("walog: seek to %d: %w", offset, err)
	}
	w.w = bufio.NewWriter(w.f)
	return nil
}

// Offset returns the current end-of-file offset, useful as a
// pre-batch checkpoint for TruncateToOffset.
func (w *WAL) Offset() (int64, error) {
	if err := w.w.Flush(); err != nil {
		return 0, fmt.Errorf("walog: flush: %w", err)
	}
	info, err := w.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("walog: stat: %w", err)
	}
	return info.Size(), nil
}

// Lines re-reads every well-formed line in the WAL for recovery. A
// non-terminated trailing line (a partial write cut short by a crash)
// is silently discarded, per spec — bufio.Scanner's default line split
// would return such a fragment as a final token, so this reads the raw
// bytes and only keeps segments that were themselves newline-terminated.
func (w *WAL) Lines() ([]string, error) {
	if err := w.w.Flush(); err != nil {
		return nil, fmt.Errorf("walog: flush: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("walog: seek: %w", err)
	}

	data, err := io.ReadAll(bufio.NewReader(w.f))
	if err != nil {
		return nil, fmt.Errorf("walog: read: %w", err)
	}

	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("walog: seek to end: %w", err)
	}

	terminated := bytes.HasSuffix(data, []byte{'\n'})
	segments := bytes.Split(bytes.TrimSuffix(data, []byte{'\n'}), []byte{'\n'})
	if len(segments) == 1 && len(segments[0]) == 0 {
		return nil, nil
	}
	if !terminated {
		// Drop the trailing, non-newline-terminated fragment.
		segments = segments[:len(segments)-1]
	}

	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, string(seg))
	}
	return lines, nil
}

// Close closes the underlying file after flushing pending writes.
func (w *WAL) Close() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush on close: %w", err)
	}
	return w.f.Close()
}
