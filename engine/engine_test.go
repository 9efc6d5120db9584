package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flakyDataFile wraps a real dataFile and fails its Nth Append call,
// simulating an I/O error partway through a batch that the real data
// file has no way to provoke on demand.
type flakyDataFile struct {
	dataFile
	failAt int
	calls  int
}

func (f *flakyDataFile) Append(line []byte) (int64, int, error) {
	f.calls++
	if f.calls == f.failAt {
		return 0, 0, errors.New("injected append failure")
	}
	return f.dataFile.Append(line)
}

func openTest(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "db")
	e, err := Open(prefix, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// Scenario 1 (spec.md §8): open empty DB, two puts, two gets, stats.
func TestScenarioBasicPutGetStats(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))

	v, ok, err := e.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	v, ok, err = e.Get("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))

	stats, err := e.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.Writes)
}

// P1: round trip, then delete makes the key absent.
func TestRoundTripThenDelete(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put("k", []byte("v")))
	v, ok, err := e.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	require.NoError(t, e.Delete("k"))
	_, ok, err = e.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
}

// P2 / Scenario 2: last-writer-wins, reopen preserves the delete, and
// compaction drops all records for a fully-deleted key.
func TestLastWriterWinsAndReopenAndCompact(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "db")

	e, err := Open(prefix)
	require.NoError(t, err)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("a", []byte("2")))
	require.NoError(t, e.Delete("a"))
	require.NoError(t, e.Close())

	e2, err := Open(prefix)
	require.NoError(t, err)
	defer e2.Close()

	_, ok, err := e2.Get("a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e2.Compact())
	stats, err := e2.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.IndexSize)
}

// P3 / Scenario 3: TTL expiry, then reopen still shows absent.
func TestTTLExpiryAndReopen(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "db")

	e, err := Open(prefix)
	require.NoError(t, err)

	require.NoError(t, e.Putex("x", []byte("v"), 1))
	v, ok, err := e.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	time.Sleep(2100 * time.Millisecond)

	_, ok, err = e.Get("x")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, e.Close())

	e2, err := Open(prefix)
	require.NoError(t, err)
	defer e2.Close()

	_, ok, err = e2.Get("x")
	require.NoError(t, err)
	require.False(t, ok)
}

// P4: WAL durability across a simulated crash (close without a clean
// shutdown flag is indistinguishable from crash for this engine, since
// there is no separate dirty/clean marker; recovery always runs).
func TestReopenAfterCloseYieldsIdenticalState(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "db")

	e, err := Open(prefix)
	require.NoError(t, err)
	require.NoError(t, e.Put("k1", []byte("v1")))
	require.NoError(t, e.Put("k2", []byte("v2")))
	require.NoError(t, e.Close())

	e2, err := Open(prefix)
	require.NoError(t, err)
	defer e2.Close()

	v, ok, err := e2.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))

	v, ok, err = e2.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))
}

// P6: opening with and without a hint file yields identical reads.
func TestHintFileEquivalence(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "db")

	e, err := Open(prefix)
	require.NoError(t, err)
	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))
	require.NoError(t, e.Delete("a"))
	require.NoError(t, e.Close())

	withHint, err := Open(prefix)
	require.NoError(t, err)
	var withHintResults [2][]byte
	var withHintOK [2]bool
	withHintResults[0], withHintOK[0], err = withHint.Get("a")
	require.NoError(t, err)
	withHintResults[1], withHintOK[1], err = withHint.Get("b")
	require.NoError(t, err)
	require.NoError(t, withHint.Close())

	require.NoError(t, os.Remove(prefix+".hint"))

	withoutHint, err := Open(prefix)
	require.NoError(t, err)
	defer withoutHint.Close()

	for i, key := range []string{"a", "b"} {
		v2, ok2, err2 := withoutHint.Get(key)
		require.NoError(t, err2)
		require.Equal(t, withHintOK[i], ok2)
		require.Equal(t, withHintResults[i], v2)
	}
}

// P7 / Batch atomicity: a batch with an invalid key aborts entirely,
// leaving no partial writes.
func TestBatchAbortsEntirelyOnInvalidOp(t *testing.T) {
	e := openTest(t)

	err := e.Batch([]BatchOp{
		{Kind: BatchPut, Key: "ok1", Value: []byte("1")},
		{Kind: BatchPut, Key: "", Value: []byte("bad")},
		{Kind: BatchPut, Key: "ok2", Value: []byte("2")},
	})
	require.Error(t, err)

	_, ok, err := e.Get("ok1")
	require.NoError(t, err)
	require.False(t, ok, "no op from an aborted batch should be visible")
}

// P7: a data-file I/O failure partway through a multi-op batch must
// leave zero ops visible, not just the ones after the failure point.
func TestBatchAppliesNothingWhenAMidBatchAppendFails(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put("existing", []byte("orig")))
	e.df = &flakyDataFile{dataFile: e.df, failAt: 2}

	err := e.Batch([]BatchOp{
		{Kind: BatchPut, Key: "a", Value: []byte("1")},
		{Kind: BatchPut, Key: "b", Value: []byte("2")},
	})
	require.Error(t, err)

	_, ok, err := e.Get("a")
	require.NoError(t, err)
	require.False(t, ok, "op before the failed append must not be visible")

	_, ok, err = e.Get("b")
	require.NoError(t, err)
	require.False(t, ok, "op that failed to append must not be visible")

	v, ok, err := e.Get("existing")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "orig", string(v))
}

func TestBatchAppliesAllOnSuccess(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put("del-me", []byte("x")))
	err := e.Batch([]BatchOp{
		{Kind: BatchPut, Key: "a", Value: []byte("1")},
		{Kind: BatchPut, Key: "b", Value: []byte("2")},
		{Kind: BatchDel, Key: "del-me"},
	})
	require.NoError(t, err)

	v, ok, _ := e.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	_, ok, _ = e.Get("del-me")
	require.False(t, ok)
}

// Scenario 4: register and run a script that calls SET.
func TestScriptRegisterAndRun(t *testing.T) {
	e := openTest(t)

	sha, err := e.ScriptRegister(`return SET(KEYS[1], ARGV[1])`, "setter", "sets a key")
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	_, err = e.ScriptRun("setter", []string{"k"}, []string{"v"})
	require.NoError(t, err)

	v, ok, err := e.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	list, err := e.ScriptList()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, sha, list[0].SHA1)
	require.Equal(t, "setter", list[0].Name)
}

// Scenario 5: scan_prefix yields exactly the matching keys.
func TestScanPrefixYieldsExactSet(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put("p:1", []byte("a")))
	require.NoError(t, e.Put("p:2", []byte("b")))
	require.NoError(t, e.Put("q", []byte("c")))

	got, err := e.ScanPrefix("p:")
	require.NoError(t, err)

	keys := map[string]bool{}
	for _, kv := range got {
		keys[kv.Key] = true
	}
	require.Equal(t, map[string]bool{"p:1": true, "p:2": true}, keys)
}

func TestScanRangeInclusiveBothEnds(t *testing.T) {
	e := openTest(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Put(k, []byte(k)))
	}

	got, err := e.ScanRange("b", "c")
	require.NoError(t, err)
	keys := map[string]bool{}
	for _, kv := range got {
		keys[kv.Key] = true
	}
	require.Equal(t, map[string]bool{"b": true, "c": true}, keys)
}

// Scenario 6: secondary index tracks field updates and removal.
func TestSecondaryIndexScenario(t *testing.T) {
	e := openTest(t, WithSerializer("json"), WithSecondaryIndexedFields("name"))

	require.NoError(t, e.Put("u1", []byte(`{"name":"alice","age":30}`)))
	require.NoError(t, e.Put("u2", []byte(`{"name":"bob"}`)))

	found, err := e.Find("name", "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, found)

	require.NoError(t, e.Put("u1", []byte(`{"name":"carol"}`)))

	found, err = e.Find("name", "alice")
	require.NoError(t, err)
	require.Empty(t, found)

	found, err = e.Find("name", "carol")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, found)
}

// P9: snapshot/restore round trip.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))

	snapDir := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, e.Snapshot(snapDir))

	require.NoError(t, e.Put("a", []byte("mutated")))
	require.NoError(t, e.Delete("b"))

	require.NoError(t, e.Restore(snapDir))

	v, ok, err := e.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	v, ok, err = e.Get("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))
}

// P10: a put immediately followed by a get returns the new value even
// when the key was previously cached.
func TestCacheConsistencyOnOverwrite(t *testing.T) {
	e := openTest(t, WithCacheCapacity(8))

	require.NoError(t, e.Put("k", []byte("first")))
	_, _, err := e.Get("k") // populate cache
	require.NoError(t, err)

	require.NoError(t, e.Put("k", []byte("second")))
	v, ok, err := e.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", string(v))
}

// A cache hit and a cache miss for the same unmodified key must return
// byte-identical values under the json serializer, whose Serialize
// step re-encodes into canonical compact JSON.
func TestCacheHitMatchesCacheMissUnderJSONSerializer(t *testing.T) {
	e := openTest(t, WithSerializer("json"), WithCacheCapacity(1))

	require.NoError(t, e.Put("k", []byte(`{  "a" : 1,   "b": [1,2,3]  }`)))

	hit, ok, err := e.Get("k") // cache hit, populated by the Put above
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1,"b":[1,2,3]}`, string(hit))

	require.NoError(t, e.Put("other", []byte(`{"z":9}`))) // evicts k from the capacity-1 cache

	miss, ok, err := e.Get("k") // cache miss, decoded from disk
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hit, miss)
}

func TestKeyValidationRejectsEmptyAndForbiddenBytes(t *testing.T) {
	e := openTest(t)

	require.ErrorIs(t, e.Put("", []byte("x")), ErrKeyInvalid)
	require.ErrorIs(t, e.Put("has\ttab", []byte("x")), ErrKeyInvalid)
}

func TestJSONSerializerRejectsMalformedValue(t *testing.T) {
	e := openTest(t, WithSerializer("json"))

	err := e.Put("k", []byte("{not json"))
	require.ErrorIs(t, err, ErrSerializer)
}

func TestFindWithoutSecondaryIndexIsRejected(t *testing.T) {
	e := openTest(t)
	_, err := e.Find("name", "alice")
	require.ErrorIs(t, err, ErrSecondaryIndexOff)
}

func TestCacheDisabledStillServesCorrectValues(t *testing.T) {
	e := openTest(t, WithCacheCapacity(0))

	require.NoError(t, e.Put("k", []byte("v")))
	v, ok, err := e.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}
