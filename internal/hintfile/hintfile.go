// Package hintfile persists a snapshot of the primary index as CSV
// (key,offset,length) lines, so a later Open can skip a full data-file
// scan when the hint is still fresh.
package hintfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/badgerbees/slackbase/internal/index"
)

// Save writes every entry as a CSV line to path, replacing any
// existing file.
func Save(path string, entries []index.KeyEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("hintfile: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, ke := range entries {
		record := []string{
			ke.Key,
			strconv.FormatInt(ke.Entry.Offset, 10),
			strconv.Itoa(ke.Entry.Length),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("hintfile: write: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("hintfile: flush: %w", err)
	}
	return f.Sync()
}

// Load reads every CSV line from path into a key->Entry map.
func Load(path string) (map[string]index.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hintfile: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	out := make(map[string]index.Entry)
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("hintfile: read %s: %w", path, err)
		}
		offset, oerr := strconv.ParseInt(rec[1], 10, 64)
		length, lerr := strconv.Atoi(rec[2])
		if oerr != nil || lerr != nil {
			return nil, fmt.Errorf("hintfile: %s: malformed line for key %q", path, rec[0])
		}
		out[rec[0]] = index.Entry{Offset: offset, Length: length}
	}
	return out, nil
}

// IsFresh reports whether the hint file at hintPath is at least as new
// as the data file at dataPath, using modification time as the
// generation marker (spec.md leaves the exact mechanism to the
// implementation; the source engine compares mtimes the same way).
func IsFresh(dataPath, hintPath string) bool {
	dataInfo, err := os.Stat(dataPath)
	if err != nil {
		return false
	}
	hintInfo, err := os.Stat(hintPath)
	if err != nil {
		return false
	}
	return !hintInfo.ModTime().Before(dataInfo.ModTime())
}
