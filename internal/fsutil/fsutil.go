// Package fsutil holds small filesystem helpers shared by the engine's
// open/snapshot/restore paths.
package fsutil

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// EnsureDir makes sure dir exists, creating it (and its parents) if
// necessary.
func EnsureDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return fmt.Errorf("fsutil: create directory %s: %w", dir, mkErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("fsutil: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fsutil: %s exists and is not a directory", dir)
	}
	return nil
}

// Exists reports whether path exists on disk. A stat error other than
// "not exist" is logged and treated as absent, since the caller has no
// way to tell an unreadable path from a missing one.
func Exists(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		logrus.Errorf("fsutil: stat %s: %v", path, err)
	}
	return false
}

// CopyFile copies src to dst, truncating dst if it exists, and fsyncs
// the destination before returning.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fsutil: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("fsutil: copy %s -> %s: %w", src, dst, err)
	}
	return out.Sync()
}
