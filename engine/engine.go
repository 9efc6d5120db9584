// Package engine orchestrates the record codec, data file, write-ahead
// log, primary index, hint file, value cache, secondary index, and
// script store into the single public storage engine.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/badgerbees/slackbase/internal/cache"
	"github.com/badgerbees/slackbase/internal/datafile"
	"github.com/badgerbees/slackbase/internal/fsutil"
	"github.com/badgerbees/slackbase/internal/hintfile"
	"github.com/badgerbees/slackbase/internal/index"
	"github.com/badgerbees/slackbase/internal/scripts"
	"github.com/badgerbees/slackbase/internal/secindex"
	"github.com/badgerbees/slackbase/internal/walog"
	"github.com/badgerbees/slackbase/record"
	"github.com/badgerbees/slackbase/serializer"
)

func walPath(prefix string) string     { return prefix + ".wal" }
func hintPath(prefix string) string    { return prefix + ".hint" }
func scriptsPath(prefix string) string { return prefix + ".scripts" }

// dataFile is the subset of *datafile.File the engine depends on. It
// exists so tests can substitute a fake that fails a specific append,
// which is otherwise impossible to provoke through the real file.
type dataFile interface {
	Append(line []byte) (offset int64, length int, err error)
	ReadAt(offset int64, length int) ([]byte, error)
	ReadAll() ([]byte, error)
	Sync() error
	Size() int64
	Close() error
}

// Engine is the scoped, single-writer storage engine handle.
type Engine struct {
	mu sync.Mutex

	prefix string
	opts   Options
	closed bool

	df      dataFile
	wal     *walog.WAL
	idx     *index.Index
	cache   *cache.Cache
	sec     *secindex.Index
	scripts *scripts.Store
	ser     serializer.Serializer
	flock   *flock.Flock

	reads, writes, hits, misses uint64
}

// KV is one key/value pair yielded by a scan.
type KV struct {
	Key   string
	Value []byte
}

// Stats reports the read counters and on-disk footprint requested by
// spec.md §4.8's stats() operation.
type Stats struct {
	Reads, Writes, Hits, Misses uint64
	IndexSize                   int
	DataFileSize                int64
	WALSize                     int64
}

// BatchKind discriminates a BatchOp's operation.
type BatchKind int

const (
	BatchPut BatchKind = iota
	BatchDel
)

// BatchOp is one operation submitted to Batch. TTLSeconds is only
// meaningful for BatchPut; 0 means no expiry.
type BatchOp struct {
	Kind       BatchKind
	Key        string
	Value      []byte
	TTLSeconds int64
}

// opRecord is the internal, already-validated form of one write, ready
// to be encoded and committed by applyBatch.
type opRecord struct {
	key          string
	kind         record.Kind
	encodedValue []byte // through the serializer; only for KindPut
	rawValue     []byte // as the caller supplied it; only for KindPut
	expiry       uint64
	hasExpiry    bool
}

// Open opens (or creates) the engine rooted at the given path prefix,
// recovering from any pending WAL and loading or rebuilding the
// primary index.
func Open(prefix string, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	if dir := filepath.Dir(prefix); dir != "." {
		if err := fsutil.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	fl := flock.New(prefix + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	e, err := newEngine(prefix, o)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	e.flock = fl

	logrus.Infof("engine: opened %s (%d keys, serializer=%s)", prefix, e.idx.Len(), o.Serializer)
	return e, nil
}

// newEngine builds every in-process component for prefix without
// touching the cross-process lock, so Restore can rebuild in place
// while already holding it.
func newEngine(prefix string, o Options) (*Engine, error) {
	df, err := datafile.Open(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	wal, err := walog.Open(walPath(prefix))
	if err != nil {
		_ = df.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	e := &Engine{
		prefix: prefix,
		opts:   o,
		df:     df,
		wal:    wal,
		cache:  cache.New(o.CacheCapacity),
		sec:    secindex.New(o.SecondaryIndexedFields),
		ser:    serializer.ByName(o.Serializer),
	}

	if err := e.recoverAndLoadIndex(); err != nil {
		_ = df.Close()
		_ = wal.Close()
		return nil, err
	}

	store, err := scripts.Open(scriptsPath(prefix))
	if err != nil {
		_ = df.Close()
		_ = wal.Close()
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	e.scripts = store

	if e.sec.Enabled() {
		e.rebuildSecondaryIndexLocked()
	}

	return e, nil
}

// recoverAndLoadIndex implements spec.md §4.8's recovery procedure:
// replay any pending WAL into the data file, then load the primary
// index from a fresh hint file or, failing that, rebuild it by a full
// scan.
func (e *Engine) recoverAndLoadIndex() error {
	lines, err := e.wal.Lines()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	for _, line := range lines {
		rec, ok, decErr := record.Decode([]byte(line))
		if decErr != nil {
			logrus.Warnf("engine: discarding malformed WAL line during recovery: %v", decErr)
			continue
		}
		if !ok {
			continue
		}

		var encoded []byte
		var encErr error
		if rec.Kind == record.KindPut {
			encoded, encErr = record.EncodePut(rec.Key, rec.Value, rec.Expiry, rec.HasExpiry)
		} else {
			encoded, encErr = record.EncodeDel(rec.Key)
		}
		if encErr != nil {
			continue
		}
		if _, _, err := e.df.Append(encoded); err != nil {
			return fmt.Errorf("%w: replaying WAL: %v", ErrIO, err)
		}
	}
	if len(lines) > 0 {
		if err := e.wal.Truncate(); err != nil {
			logrus.Warnf("engine: WAL truncate after recovery failed: %v", err)
		}
	}

	if len(lines) == 0 && hintfile.IsFresh(e.prefix, hintPath(e.prefix)) {
		entries, err := hintfile.Load(hintPath(e.prefix))
		if err == nil {
			idx := index.New()
			idx.Replace(entries)
			e.idx = idx
			return nil
		}
		logrus.Warnf("%v: hint file load failed, rescanning: %v", ErrCorrupt, err)
	}

	idx, err := e.scanIndex()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	e.idx = idx
	if err := hintfile.Save(hintPath(e.prefix), e.idx.Snapshot()); err != nil {
		logrus.Warnf("engine: writing fresh hint file failed: %v", err)
	}
	return nil
}

// scanIndex rebuilds the primary index by walking every record in the
// data file in order, applying PUT->insert and DEL->remove as it goes.
func (e *Engine) scanIndex() (*index.Index, error) {
	raw, err := e.df.ReadAll()
	if err != nil {
		return nil, err
	}

	idx := index.New()
	var offset int64
	lines := bytes.Split(raw, []byte("\n"))
	for i, line := range lines {
		hasNewline := i < len(lines)-1
		if !hasNewline && len(line) == 0 {
			break // tolerated trailing empty line at EOF
		}

		entryLen := len(line)
		if hasNewline {
			entryLen++
		}

		rec, ok, decErr := record.Decode(line)
		if !ok {
			if decErr != nil {
				logrus.Warnf("engine: skipping malformed data-file line at offset %d: %v", offset, decErr)
			}
			offset += int64(entryLen)
			continue
		}

		switch rec.Kind {
		case record.KindPut:
			idx.Insert(string(rec.Key), index.Entry{Offset: offset, Length: entryLen})
		case record.KindDel:
			idx.Remove(string(rec.Key))
		}
		offset += int64(entryLen)
	}
	return idx, nil
}

// getLocked resolves key against the index and data file, applying TTL
// and deserialization. cacheable reports whether the returned value is
// safe to install in the read cache: a value with a TTL is never
// cached, so a cache hit never needs its own expiry check.
func (e *Engine) getLocked(key string) (value []byte, cacheable bool, ok bool, err error) {
	entry, found := e.idx.Get(key)
	if !found {
		return nil, false, false, nil
	}

	raw, err := e.df.ReadAt(entry.Offset, entry.Length)
	if err != nil {
		if errors.Is(err, datafile.ErrNotFound) {
			return nil, false, false, fmt.Errorf("%w: index entry for %q past EOF: %v", ErrCorrupt, key, err)
		}
		return nil, false, false, fmt.Errorf("%w: %v", ErrIO, err)
	}

	rec, decOK, decErr := record.Decode(raw)
	if decErr != nil || !decOK || rec.Kind != record.KindPut {
		return nil, false, false, fmt.Errorf("%w: index entry for %q is not a put record", ErrCorrupt, key)
	}

	if rec.HasExpiry && isExpiredAt(rec.Expiry, time.Now().Unix()) {
		return nil, false, false, nil
	}

	val, err := e.ser.Deserialize(rec.Value)
	if err != nil {
		return nil, false, false, fmt.Errorf("%w: %v", ErrSerializer, err)
	}
	return val, !rec.HasExpiry, true, nil
}

func isExpiredAt(expiry uint64, nowUnix int64) bool {
	return nowUnix >= 0 && uint64(nowUnix) >= expiry
}

// Get returns key's current value, consulting the cache before the
// index, and treating an expired PUT as absent.
func (e *Engine) Get(key string) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, false, ErrClosed
	}
	e.reads++

	if v, ok := e.cache.Get(key); ok {
		e.hits++
		return []byte(v), true, nil
	}

	val, cacheable, ok, err := e.getLocked(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		e.misses++
		return nil, false, nil
	}
	if cacheable {
		e.cache.Put(key, string(val))
	}
	e.hits++
	return val, true, nil
}

// Put stages a non-expiring PUT.
func (e *Engine) Put(key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.mutateLocked(record.KindPut, key, value, 0, false)
}

// Putex stages a PUT with an absolute expiry of now+ttlSeconds.
func (e *Engine) Putex(key string, value []byte, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		return ErrInvalidTTL
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	expiry := uint64(time.Now().Unix()) + uint64(ttlSeconds)
	return e.mutateLocked(record.KindPut, key, value, expiry, true)
}

// Delete stages a DEL. Deleting an absent key still records a DEL, per
// spec.md §9's resolved open question.
func (e *Engine) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.mutateLocked(record.KindDel, key, nil, 0, false)
}

// mutateLocked validates and commits a single operation. Caller holds
// e.mu. Shared by Put/Putex/Delete and the script host's SET/DEL.
func (e *Engine) mutateLocked(kind record.Kind, key string, value []byte, expiry uint64, hasExpiry bool) error {
	if err := record.ValidateKey([]byte(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}

	op := opRecord{key: key, kind: kind}
	if kind == record.KindPut {
		encoded, err := e.ser.Serialize(value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerializer, err)
		}
		op.encodedValue = encoded
		op.rawValue = value
		op.expiry = expiry
		op.hasExpiry = hasExpiry
	}
	return e.applyBatch([]opRecord{op})
}

// Batch applies every op atomically with respect to WAL durability:
// either all become durable or none do.
func (e *Engine) Batch(ops []BatchOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	internal := make([]opRecord, 0, len(ops))
	for _, o := range ops {
		if err := record.ValidateKey([]byte(o.Key)); err != nil {
			return fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
		op := opRecord{key: o.Key}
		switch o.Kind {
		case BatchPut:
			op.kind = record.KindPut
			encoded, err := e.ser.Serialize(o.Value)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSerializer, err)
			}
			op.encodedValue = encoded
			op.rawValue = o.Value
			if o.TTLSeconds > 0 {
				op.hasExpiry = true
				op.expiry = uint64(time.Now().Unix()) + uint64(o.TTLSeconds)
			}
		case BatchDel:
			op.kind = record.KindDel
		default:
			return fmt.Errorf("%w: unknown batch op kind %d", ErrKeyInvalid, o.Kind)
		}
		internal = append(internal, op)
	}
	return e.applyBatch(internal)
}

// applyBatch is the write protocol of spec.md §4.8: stage lines, flush
// the WAL once, then apply each line to the data file, index, cache,
// and secondary index in order, and finally rewrite the hint file and
// truncate the WAL. Caller holds e.mu.
func (e *Engine) applyBatch(ops []opRecord) error {
	lines := make([][]byte, len(ops))
	for i, op := range ops {
		var line []byte
		var err error
		if op.kind == record.KindPut {
			line, err = record.EncodePut([]byte(op.key), op.encodedValue, op.expiry, op.hasExpiry)
		} else {
			line, err = record.EncodeDel([]byte(op.key))
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
		lines[i] = line
	}

	preOffset, err := e.wal.Offset()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	for _, line := range lines {
		if err := e.wal.Append(string(line)); err != nil {
			if terr := e.wal.TruncateToOffset(preOffset); terr != nil {
				logrus.Errorf("engine: WAL rollback failed after append error: %v", terr)
			}
			return fmt.Errorf("%w: %v", ErrBatchAborted, err)
		}
	}
	if err := e.wal.FlushAndSync(); err != nil {
		if terr := e.wal.TruncateToOffset(preOffset); terr != nil {
			logrus.Errorf("engine: WAL rollback failed after flush error: %v", terr)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	// Append every line to the data file before touching any in-memory
	// structure. If an append fails partway through, ops before it have
	// left stray unindexed bytes on disk but e.idx/e.cache/e.sec are
	// untouched, so a live Get() never observes a partial batch — only
	// once every op is durably on disk in this loop do we start
	// mutating state, and that second loop is pure in-memory work that
	// cannot itself fail.
	offsets := make([]int64, len(ops))
	lengths := make([]int, len(ops))
	for i := range ops {
		off, length, err := e.df.Append(lines[i])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		offsets[i] = off
		lengths[i] = length
	}

	for i, op := range ops {
		var oldJSON []byte
		if e.sec.Enabled() {
			if old, _, ok, _ := e.getLocked(op.key); ok {
				oldJSON = old
			}
		}

		switch op.kind {
		case record.KindPut:
			e.idx.Insert(op.key, index.Entry{Offset: offsets[i], Length: lengths[i]})
			if op.hasExpiry {
				e.cache.Remove(op.key)
			} else if decoded, err := e.ser.Deserialize(op.encodedValue); err == nil {
				// Cache the value getLocked would return on a miss (the
				// post-serializer, on-disk form), not the caller's raw
				// bytes: for the json serializer these differ after
				// canonicalization, and a cache hit must be
				// indistinguishable from a cache miss.
				e.cache.Put(op.key, string(decoded))
			} else {
				e.cache.Remove(op.key)
			}
			if e.sec.Enabled() {
				e.sec.Update(op.key, oldJSON, op.rawValue)
			}
		case record.KindDel:
			e.idx.Remove(op.key)
			e.cache.Remove(op.key)
			if e.sec.Enabled() {
				e.sec.Remove(op.key, oldJSON)
			}
		}
		e.writes++
	}

	if err := e.rewriteHintLocked(); err != nil {
		return err
	}
	if err := e.wal.Truncate(); err != nil {
		logrus.Warnf("engine: WAL truncate after commit failed: %v", err)
	}
	return nil
}

func (e *Engine) rewriteHintLocked() error {
	if err := e.df.Sync(); err != nil {
		logrus.Warnf("engine: remap after write failed: %v", err)
	}
	if err := hintfile.Save(hintPath(e.prefix), e.idx.Snapshot()); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// ScanPrefix returns every live, unexpired (key, value) pair whose key
// starts with prefix.
func (e *Engine) ScanPrefix(prefix string) ([]KV, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.materializeLocked(e.idx.ScanPrefix(prefix))
}

// ScanRange returns every live, unexpired (key, value) pair with a key
// in [lo, hi], both bounds inclusive per spec.md §9's resolved open
// question.
func (e *Engine) ScanRange(lo, hi string) ([]KV, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.materializeLocked(e.idx.ScanRange(lo, hi))
}

func (e *Engine) materializeLocked(entries []index.KeyEntry) ([]KV, error) {
	out := make([]KV, 0, len(entries))
	for _, ke := range entries {
		val, _, ok, err := e.getLocked(ke.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, KV{Key: ke.Key, Value: val})
	}
	return out, nil
}

// Find returns every live, unexpired key whose current value has field
// equal to value, per the secondary index.
func (e *Engine) Find(field, value string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if !e.sec.Enabled() {
		return nil, ErrSecondaryIndexOff
	}

	candidates := e.sec.Find(field, value)
	out := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if _, _, ok, err := e.getLocked(k); err == nil && ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stats reports read/write counters and on-disk footprint.
func (e *Engine) Stats() (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Stats{}, ErrClosed
	}

	walSize, err := e.wal.Offset()
	if err != nil {
		walSize = 0
	}
	return Stats{
		Reads:        e.reads,
		Writes:       e.writes,
		Hits:         e.hits,
		Misses:       e.misses,
		IndexSize:    e.idx.Len(),
		DataFileSize: e.df.Size(),
		WALSize:      walSize,
	}, nil
}

// Compact rewrites the data file to contain only the live, unexpired
// projection of the current index (spec.md §4.8's compaction
// algorithm), then swaps every in-memory structure in place.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	snapshot := e.idx.Snapshot()
	tmpPath := e.prefix + ".compact.tmp"
	_ = os.Remove(tmpPath)

	newDF, err := datafile.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	now := time.Now().Unix()
	newEntries := make(map[string]index.Entry, len(snapshot))

	for _, ke := range snapshot {
		raw, err := e.df.ReadAt(ke.Entry.Offset, ke.Entry.Length)
		if err != nil {
			logrus.Warnf("engine: compact skipping key %q, read failed: %v", ke.Key, err)
			continue
		}
		rec, ok, decErr := record.Decode(raw)
		if decErr != nil || !ok || rec.Kind != record.KindPut {
			logrus.Warnf("engine: compact skipping key %q, unexpected record", ke.Key)
			continue
		}
		if rec.HasExpiry && isExpiredAt(rec.Expiry, now) {
			continue
		}

		line, err := record.EncodePut(rec.Key, rec.Value, rec.Expiry, rec.HasExpiry)
		if err != nil {
			continue
		}
		off, length, err := newDF.Append(line)
		if err != nil {
			_ = newDF.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		newEntries[ke.Key] = index.Entry{Offset: off, Length: length}
	}

	if err := newDF.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmpPath, e.prefix); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	reopened, err := datafile.Open(e.prefix)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := e.df.Close(); err != nil {
		logrus.Warnf("engine: closing pre-compaction data file handle failed: %v", err)
	}
	e.df = reopened

	e.idx.Replace(newEntries)
	e.cache.Clear()
	if e.sec.Enabled() {
		e.sec.Clear()
		e.rebuildSecondaryIndexLocked()
	}

	if err := e.wal.Truncate(); err != nil {
		logrus.Warnf("engine: WAL truncate after compaction failed: %v", err)
	}
	if err := e.rewriteHintLocked(); err != nil {
		return err
	}

	logrus.Infof("engine: compaction complete for %s, %d live keys", e.prefix, len(newEntries))
	return nil
}

func (e *Engine) rebuildSecondaryIndexLocked() {
	for _, ke := range e.idx.Snapshot() {
		val, _, ok, err := e.getLocked(ke.Key)
		if err != nil || !ok {
			continue
		}
		e.sec.Update(ke.Key, nil, val)
	}
}

// Snapshot flushes pending state and copies the data/WAL/hint/scripts
// files to dir.
func (e *Engine) Snapshot(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if err := e.wal.FlushAndSync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := e.rewriteHintLocked(); err != nil {
		return err
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	base := filepath.Base(e.prefix)
	pairs := [][2]string{
		{e.prefix, filepath.Join(dir, base)},
		{walPath(e.prefix), filepath.Join(dir, base+".wal")},
		{hintPath(e.prefix), filepath.Join(dir, base+".hint")},
		{scriptsPath(e.prefix), filepath.Join(dir, base+".scripts")},
	}
	for _, p := range pairs {
		if !fsutil.Exists(p[0]) {
			continue
		}
		if err := fsutil.CopyFile(p[0], p[1]); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	logrus.Infof("engine: snapshot of %s written to %s", e.prefix, dir)
	return nil
}

// Restore closes the current on-disk resources, replaces them in place
// from a snapshot directory produced by Snapshot, and re-opens,
// triggering recovery.
func (e *Engine) Restore(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if err := e.df.Close(); err != nil {
		logrus.Warnf("engine: closing data file before restore failed: %v", err)
	}
	if err := e.wal.Close(); err != nil {
		logrus.Warnf("engine: closing WAL before restore failed: %v", err)
	}

	base := filepath.Base(e.prefix)
	pairs := [][2]string{
		{filepath.Join(dir, base), e.prefix},
		{filepath.Join(dir, base+".wal"), walPath(e.prefix)},
		{filepath.Join(dir, base+".hint"), hintPath(e.prefix)},
		{filepath.Join(dir, base+".scripts"), scriptsPath(e.prefix)},
	}
	for _, p := range pairs {
		src, dst := p[0], p[1]
		if !fsutil.Exists(src) {
			_ = os.Remove(dst)
			continue
		}
		if err := fsutil.CopyFile(src, dst); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	reopened, err := newEngine(e.prefix, e.opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	e.df = reopened.df
	e.wal = reopened.wal
	e.idx = reopened.idx
	e.cache = reopened.cache
	e.sec = reopened.sec
	e.scripts = reopened.scripts
	e.ser = reopened.ser

	logrus.Infof("engine: restored %s from %s", e.prefix, dir)
	return nil
}

// ScriptRegister compiles source (if not already known) and records it
// under name/description, returning its SHA-1 hex digest.
func (e *Engine) ScriptRegister(source, name, desc string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}

	sha, err := e.scripts.Register(source, name, desc)
	if err != nil {
		if errors.Is(err, scripts.ErrCompile) {
			return "", fmt.Errorf("%w: %v", ErrScriptCompile, err)
		}
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	return sha, nil
}

// ScriptList returns every registered script's metadata.
func (e *Engine) ScriptList() ([]scripts.Meta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.scripts.List(), nil
}

// ScriptRun executes a registered script to completion under the
// writer lock, exposing GET/SET/DEL and the KEYS/ARGV tables.
func (e *Engine) ScriptRun(nameOrSHA string, keys, argv []string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}

	host := scripts.Host{
		Get: func(key string) (string, bool) {
			val, _, ok, err := e.getLocked(key)
			if err != nil || !ok {
				return "", false
			}
			return string(val), true
		},
		Set: func(key, value string) error {
			return e.mutateLocked(record.KindPut, key, []byte(value), 0, false)
		},
		Del: func(key string) error {
			return e.mutateLocked(record.KindDel, key, nil, 0, false)
		},
	}

	out, err := e.scripts.Run(nameOrSHA, keys, argv, host)
	if err != nil {
		switch {
		case errors.Is(err, scripts.ErrNotFound):
			return "", fmt.Errorf("%w: %v", ErrScriptNotFound, err)
		case errors.Is(err, scripts.ErrRuntime):
			return "", fmt.Errorf("%w: %v", ErrScriptRuntime, err)
		default:
			return "", fmt.Errorf("%w: %v", ErrScriptRuntime, err)
		}
	}
	return out, nil
}

// ScriptRename points name oldName at the same script under newName.
func (e *Engine) ScriptRename(oldName, newName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.scripts.Rename(oldName, newName); err != nil {
		if errors.Is(err, scripts.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrScriptNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// ScriptRemove drops a script by name or SHA-1.
func (e *Engine) ScriptRemove(nameOrSHA string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.scripts.Remove(nameOrSHA); err != nil {
		if errors.Is(err, scripts.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrScriptNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Close flushes the WAL, rewrites the hint file, and releases the data
// file, WAL, and cross-process lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}

	if err := e.wal.FlushAndSync(); err != nil {
		logrus.Warnf("engine: flush on close failed: %v", err)
	}
	if err := hintfile.Save(hintPath(e.prefix), e.idx.Snapshot()); err != nil {
		logrus.Warnf("engine: hint rewrite on close failed: %v", err)
	}

	var firstErr error
	if err := e.df.Close(); err != nil {
		firstErr = err
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.flock != nil {
		if err := e.flock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.closed = true
	if firstErr != nil {
		return fmt.Errorf("%w: %v", ErrIO, firstErr)
	}
	return nil
}
