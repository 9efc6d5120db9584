// Package record implements the on-disk record codec: the tab-delimited
// line format shared by the data file and the write-ahead log.
package record

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
)

// Kind discriminates the two record variants a line can hold.
type Kind byte

const (
	KindPut Kind = iota
	KindDel
)

const (
	tagPut = "put"
	tagDel = "del"
	sep    = '\t'

	// MaxKeyLen is the recommended maximum key length in bytes.
	MaxKeyLen = 64 * 1024
)

var (
	// ErrInvalidKey is returned when a key contains a forbidden byte or
	// exceeds MaxKeyLen.
	ErrInvalidKey = errors.New("record: invalid key")
	// ErrMalformed is returned by Decode when a line does not parse as a
	// well-formed record.
	ErrMalformed = errors.New("record: malformed line")
)

// Record is the decoded form of a single data-file or WAL line.
type Record struct {
	Kind      Kind
	Key       []byte
	Value     []byte // only meaningful when Kind == KindPut
	Expiry    uint64 // unix seconds; only meaningful when HasExpiry
	HasExpiry bool
}

// ValidateKey rejects keys containing a tab, newline, or NUL byte, and
// keys longer than MaxKeyLen.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidKey, MaxKeyLen)
	}
	if bytes.IndexByte(key, '\t') >= 0 || bytes.IndexByte(key, '\n') >= 0 || bytes.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("%w: contains forbidden byte", ErrInvalidKey)
	}
	return nil
}

// EncodePut renders a PUT line (without a trailing newline). expiry is
// the absolute unix-seconds expiry; pass hasExpiry=false for a
// non-expiring key.
func EncodePut(key, value []byte, expiry uint64, hasExpiry bool) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(value)

	var buf bytes.Buffer
	buf.Write(key)
	buf.WriteByte(sep)
	buf.WriteString(tagPut)
	buf.WriteByte(sep)
	buf.WriteString(encoded)
	if hasExpiry {
		buf.WriteByte(sep)
		buf.WriteString(strconv.FormatUint(expiry, 10))
	}
	return buf.Bytes(), nil
}

// EncodeDel renders a DEL line (without a trailing newline).
func EncodeDel(key []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(key)
	buf.WriteByte(sep)
	buf.WriteString(tagDel)
	return buf.Bytes(), nil
}

// Decode parses a single line (without its trailing newline) into a
// Record. A blank line is treated as a tolerated trailing EOF artifact
// and reported via the ok=false, err=nil return.
func Decode(line []byte) (rec Record, ok bool, err error) {
	if len(line) == 0 {
		return Record{}, false, nil
	}

	parts := bytes.Split(line, []byte{sep})
	if len(parts) < 2 {
		return Record{}, false, fmt.Errorf("%w: too few fields", ErrMalformed)
	}

	key := parts[0]
	if err := ValidateKey(key); err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch string(parts[1]) {
	case tagDel:
		return Record{Kind: KindDel, Key: append([]byte(nil), key...)}, true, nil
	case tagPut:
		if len(parts) < 3 {
			return Record{}, false, fmt.Errorf("%w: put missing value field", ErrMalformed)
		}
		value, decErr := base64.StdEncoding.DecodeString(string(parts[2]))
		if decErr != nil {
			return Record{}, false, fmt.Errorf("%w: bad base64: %v", ErrMalformed, decErr)
		}

		rec = Record{Kind: KindPut, Key: append([]byte(nil), key...), Value: value}
		if len(parts) >= 4 && len(parts[3]) > 0 {
			expiry, perr := strconv.ParseUint(string(parts[3]), 10, 64)
			if perr != nil {
				return Record{}, false, fmt.Errorf("%w: bad expiry: %v", ErrMalformed, perr)
			}
			rec.Expiry = expiry
			rec.HasExpiry = true
		}
		return rec, true, nil
	default:
		return Record{}, false, fmt.Errorf("%w: unknown tag %q", ErrMalformed, parts[1])
	}
}
