package search

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/taint"
)

type fakeCounters struct {
	opens  int
	closes int
	finds  int
}

// fakeDriver serves lookups from in-memory tables, one per filename.
// Query-style use goes through the "" table.
type fakeDriver struct {
	c     *fakeCounters
	files map[string]map[string]string

	ttls      map[string]uint32 // per-key TTL override
	deferKeys map[string]bool
	failOpen  bool
}

func (d *fakeDriver) Open(filename string) (Conn, error) {
	if d.failOpen {
		return nil, errors.New("fake open failure")
	}
	d.c.opens++
	return &fakeConn{d: d}, nil
}

type fakeConn struct {
	d *fakeDriver
}

func (c *fakeConn) Find(filename, key, opts string) (string, bool, uint32, error) {
	c.d.c.finds++
	if c.d.deferKeys[key] {
		return "", false, CacheForever, errors.New("backend unavailable")
	}
	ttl := CacheForever
	if t, ok := c.d.ttls[key]; ok {
		ttl = t
	}
	v, ok := c.d.files[filename][key]
	return v, ok, ttl, nil
}

func (c *fakeConn) Close() {
	c.d.c.closes++
}

// quotingFake is the query-style variant whose presence of a Quote
// hook makes the taint policy apply.
type quotingFake struct {
	fakeDriver
}

func (d *quotingFake) Quote(s, _ string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func newTestSetup(t *testing.T, files map[string]map[string]string, opts Options) (*Dispatcher, *fakeDriver, *fakeCounters) {
	t.Helper()
	c := new(fakeCounters)
	drv := &fakeDriver{c: c, files: files, ttls: map[string]uint32{}, deferKeys: map[string]bool{}}

	reg := NewRegistry(
		Descriptor{Name: "fakefile", Style: SingleKey, FileBacked: true, Partial: true},
		Descriptor{Name: "fakequery", Style: QueryStyle},
	)
	require.NoError(t, reg.Attach("fakefile", drv))
	require.NoError(t, reg.Attach("fakequery", &quotingFake{fakeDriver{c: c, files: files,
		ttls: map[string]uint32{}, deferKeys: map[string]bool{}}}))

	opts.Registry = reg
	return NewDispatcher(opts), drv, c
}

func mustType(t *testing.T, d *Dispatcher, name string) int {
	t.Helper()
	i, err := d.Registry().FindType(name)
	require.NoError(t, err)
	return i
}

func TestFindVerbatimHitIsCached(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"data": {"foo": "bar"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	res, found, err := d.Find(h, "data", taint.Clean("foo"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bar", res.Value())
	require.True(t, res.Tainted(), "lookup results are untrusted data")
	require.Equal(t, 1, c.finds)

	// Second lookup must come from the item cache.
	res, found, err = d.Find(h, "data", taint.Clean("foo"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "bar", res.Value())
	require.Equal(t, 1, c.finds)
}

func TestFindEmptyKey(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{"data": {}}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "data", taint.Clean(""), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, d.Deferred())
	require.Equal(t, 0, c.finds, "empty key must not reach the driver")
}

type expansion struct {
	v taint.String
	n int
}

func collectInto(sink *[]expansion) ExpandSink {
	return func(v taint.String, n int) {
		*sink = append(*sink, expansion{v, n})
	}
}

func TestFindPartialFallback(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{
		"data": {"*.example.com": "wild"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	var vars []expansion
	key := taint.Untrusted("host.sub.example.com")
	res, found, err := d.Find(h, "data", key, 2, "*.", 0, collectInto(&vars), "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "wild", res.Value())

	require.Len(t, vars, 2)
	require.Equal(t, "host.sub", vars[0].v.Value()[:vars[0].n])
	require.Equal(t, 8, vars[0].n)
	require.True(t, vars[0].v.Tainted(), "wild part keeps the key's taint")
	require.Equal(t, "example.com", vars[1].v.Value())
	require.Equal(t, 11, vars[1].n)
	require.False(t, vars[1].v.Tainted(), "fixed part was validated by the lookup")
}

func TestFindPartialVerbatimHitSetsNullWild(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{
		"data": {"example.com": "direct"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	var vars []expansion
	key := taint.Untrusted("example.com")
	_, found, err := d.Find(h, "data", key, 2, "*.", 0, collectInto(&vars), "")
	require.NoError(t, err)
	require.True(t, found)

	require.Len(t, vars, 2)
	require.Equal(t, 0, vars[0].n, "wild part is empty on a non-wild match")
	require.Equal(t, "example.com", vars[1].v.Value())
	require.Equal(t, 11, vars[1].n)
	require.False(t, vars[1].v.Tainted())
}

func TestFindPartialZeroAffixTrimsOnly(t *testing.T) {
	// With an empty affix the trim attempts carry no prefix and the
	// final affix-alone lookup is skipped.
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"data": {},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "data", taint.Clean("a.b.c"), 0, "", 0, nil, "")
	require.NoError(t, err)
	require.False(t, found)
	// Attempts: "a.b.c", "b.c", "c". No affix-alone attempt.
	require.Equal(t, 3, c.finds)
}

func TestFindPartialTooFewComponents(t *testing.T) {
	// Fewer dots than the partial minimum: only the verbatim and the
	// affix-plus-key attempts run, no trimming.
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"data": {},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "data", taint.Clean("a.b"), 2, "*.", 0, nil, "")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 2, c.finds)
}

func TestFindDeferNotCached(t *testing.T) {
	d, drv, c := newTestSetup(t, map[string]map[string]string{
		"data": {"k": "v"},
	}, Options{})
	drv.deferKeys["k"] = true
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, _, err = d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.ErrorIs(t, err, ErrDefer)
	require.Equal(t, 1, c.finds)

	// Once the backend recovers, the lookup goes through: deferrals
	// leave nothing behind in the item cache.
	delete(drv.deferKeys, "k")
	res, found, err := d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", res.Value())
	require.Equal(t, 2, c.finds)
}

func TestFindPartialAffixAloneLastStep(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{
		"data": {"*": "star"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	// partial0 allows trimming all the way down to the affix itself,
	// whose trailing dot gets stripped: the final attempt is "*".
	res, found, err := d.Find(h, "data", taint.Clean("a.b"), 0, "*.", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "star", res.Value())
}

func TestFindStarAtDefault(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{
		"data": {"*@example.com": "starat"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	var vars []expansion
	key := taint.Untrusted("alice@example.com")
	res, found, err := d.Find(h, "data", key, -1, "", StarAt, collectInto(&vars), "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "starat", res.Value())

	// Wild part is everything left of the @.
	require.Len(t, vars, 2)
	require.Equal(t, "alice", vars[0].v.Value()[:vars[0].n])
	require.Equal(t, 0, vars[1].n)
}

func TestFindStarDefault(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{
		"data": {"*": "wild"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	var vars []expansion
	key := taint.Untrusted("whatever")
	res, found, err := d.Find(h, "data", key, -1, "", Star, collectInto(&vars), "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "wild", res.Value())
	require.Equal(t, []expansion{{key, key.Len()}, {key, 0}}, vars)
}

func TestFindStarAtRequiresLocalPart(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"data": {"*@example.com": "starat"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	// "@example.com" has nothing left of the @, so only the verbatim
	// attempt and the final "*" attempt run.
	_, found, err := d.Find(h, "data", taint.Clean("@example.com"), -1, "", StarAt, nil, "")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 2, c.finds)
}

func TestFindDeferAbortsWildcarding(t *testing.T) {
	d, drv, c := newTestSetup(t, map[string]map[string]string{
		"data": {"*.example.com": "wild"},
	}, Options{})
	drv.deferKeys["host.example.com"] = true
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "data", taint.Clean("host.example.com"), 2, "*.", 0, nil, "")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDefer))
	require.True(t, d.Deferred())
	require.False(t, found)
	require.Equal(t, 1, c.finds, "a deferral must abort the fallback chain")
}

func TestFindRetKeyOption(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{
		"data": {"*.example.com": "wild"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	key := taint.Untrusted("host.example.com")
	res, found, err := d.Find(h, "data", key, 2, "*.", 0, nil, "ret=key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "host.example.com", res.Value())
	require.False(t, res.Tainted(), "ret=key returns a detainted key")
}

func TestFindCacheNoRdOption(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"data": {"k": "v"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, found, err := d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "cache=no_rd")
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, 2, c.finds, "cache=no_rd skips the read probe")

	// The second write still installed the entry.
	_, found, err := d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, c.finds)
}

func TestFindOptionsFingerprint(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"data": {"k": "v"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, _, err = d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "flavor=1")
	require.NoError(t, err)
	require.Equal(t, 1, c.finds)

	// Same key, different driver options: the cached entry must not
	// answer.
	_, _, err = d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "flavor=2")
	require.NoError(t, err)
	require.Equal(t, 2, c.finds)

	_, _, err = d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "flavor=2")
	require.NoError(t, err)
	require.Equal(t, 2, c.finds)
}

func TestFindTTLExpiry(t *testing.T) {
	d, drv, c := newTestSetup(t, map[string]map[string]string{
		"data": {"k": "v1"},
	}, Options{})
	drv.ttls["k"] = 1
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, c.finds)

	// Within the TTL: served from cache.
	res, found, err := d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", res.Value())
	require.Equal(t, 1, c.finds)

	time.Sleep(1100 * time.Millisecond)

	_, found, err = d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, c.finds, "expiry is a miss, not a refresh")
}

func TestFindCacheNeverDropsItemCache(t *testing.T) {
	d, drv, c := newTestSetup(t, map[string]map[string]string{
		"data": {"k": "v", "other": "o"},
	}, Options{})
	h, err := d.Open(mustType(t, d, "fakefile"), taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)

	_, _, err = d.Find(h, "data", taint.Clean("other"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, c.finds)

	// The driver signals a mutation: everything cached for this
	// handle is dropped.
	drv.ttls["k"] = CacheNever
	_, _, err = d.Find(h, "data", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.Equal(t, 2, c.finds)

	_, _, err = d.Find(h, "data", taint.Clean("other"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.Equal(t, 3, c.finds, "previously cached entries must be gone")
}

func TestOpenHandleCacheIdempotent(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{"data": {}}, Options{})
	idx := mustType(t, d, "fakefile")

	h1, err := d.Open(idx, taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)
	h2, err := d.Open(idx, taint.Clean("data"), filecheck.Constraints{})
	require.NoError(t, err)
	require.Same(t, h1, h2)
	require.Equal(t, 1, c.opens)
}

func TestOpenTaintedFilenameRejected(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{"data": {}}, Options{})

	h, err := d.Open(mustType(t, d, "fakefile"), taint.Untrusted("data"), filecheck.Constraints{})
	require.Error(t, err)
	require.Nil(t, h)
	require.NotEmpty(t, d.LastError())
	require.Equal(t, 0, c.opens)
}

func TestOpenFilenameKeyTruncation(t *testing.T) {
	files := map[string]map[string]string{}
	long254 := strings.Repeat("a", 254)
	long255 := long254 + "b"
	files[long254] = map[string]string{}
	files[long255] = map[string]string{}

	d, _, _ := newTestSetup(t, files, Options{})
	idx := mustType(t, d, "fakefile")

	h1, err := d.Open(idx, taint.Clean(long254), filecheck.Constraints{})
	require.NoError(t, err)
	h2, err := d.Open(idx, taint.Clean(long255), filecheck.Constraints{})
	require.NoError(t, err)

	// The key is truncated at 254 bytes, so the longer name lands on
	// the same slot.
	require.Same(t, h1, h2)
}

func TestLRUEvictionAndReopen(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"a": {"k": "va"},
		"b": {"k": "vb"},
		"c": {"k": "vc"},
	}, Options{OpenMax: 2})
	idx := mustType(t, d, "fakefile")

	ha, err := d.Open(idx, taint.Clean("a"), filecheck.Constraints{})
	require.NoError(t, err)
	hb, err := d.Open(idx, taint.Clean("b"), filecheck.Constraints{})
	require.NoError(t, err)
	_, err = d.Open(idx, taint.Clean("c"), filecheck.Constraints{})
	require.NoError(t, err)

	// Opening c evicted a, the LRU tail. The slot survives.
	require.Nil(t, ha.conn)
	require.Equal(t, 1, c.closes)
	require.Equal(t, 2, d.OpenFileCount())

	// A find on the evicted handle reopens it, which in turn evicts b.
	res, found, err := d.Find(ha, "a", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "va", res.Value())
	require.NotNil(t, ha.conn)
	require.Nil(t, hb.conn)
	require.Equal(t, 2, d.OpenFileCount())
	require.Equal(t, 4, c.opens)
}

func TestLRUEvictionKeepsItemCache(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"a": {"k": "va"},
		"b": {"k": "vb"},
	}, Options{OpenMax: 1})
	idx := mustType(t, d, "fakefile")

	ha, err := d.Open(idx, taint.Clean("a"), filecheck.Constraints{})
	require.NoError(t, err)
	_, found, err := d.Find(ha, "a", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, c.finds)

	_, err = d.Open(idx, taint.Clean("b"), filecheck.Constraints{})
	require.NoError(t, err)
	require.Nil(t, ha.conn)

	// The reopen revives the slot with its item cache intact: the
	// cached result answers without a driver call.
	_, found, err = d.Find(ha, "a", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, c.finds)
}

func TestLRUNoVictimLogsAndProceeds(t *testing.T) {
	d, _, _ := newTestSetup(t, map[string]map[string]string{"a": {}}, Options{OpenMax: 1})
	idx := mustType(t, d, "fakefile")

	// Force the inconsistent state the cap check can meet: the count
	// says full but the chain has no victim.
	d.openFileCount = 1

	h, err := d.Open(idx, taint.Clean("a"), filecheck.Constraints{})
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, 2, d.OpenFileCount(), "the open proceeds, transiently over the cap")
}

func TestOpenCapInvariant(t *testing.T) {
	files := map[string]map[string]string{}
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("f%d", i)] = map[string]string{}
	}
	d, _, _ := newTestSetup(t, files, Options{OpenMax: 3})
	idx := mustType(t, d, "fakefile")

	for i := 0; i < 10; i++ {
		_, err := d.Open(idx, taint.Clean(fmt.Sprintf("f%d", i)), filecheck.Constraints{})
		require.NoError(t, err)
		require.LessOrEqual(t, d.OpenFileCount(), 3)
	}
}

func TestTidyClosesEverything(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"a": {}, "b": {},
	}, Options{})
	idx := mustType(t, d, "fakefile")

	_, err := d.Open(idx, taint.Clean("a"), filecheck.Constraints{})
	require.NoError(t, err)
	_, err = d.Open(idx, taint.Clean("b"), filecheck.Constraints{})
	require.NoError(t, err)

	d.Tidy()
	require.Equal(t, 2, c.closes)
	require.Equal(t, 0, d.OpenFileCount())

	// A fresh open after tidy is a fresh slot.
	h, err := d.Open(idx, taint.Clean("a"), filecheck.Constraints{})
	require.NoError(t, err)
	require.NotNil(t, h.conn)
	require.Equal(t, 3, c.opens)
}

func TestTaintedQueryStrictDefers(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"": {"GET k": "v"},
	}, Options{})
	idx := mustType(t, d, "fakequery")

	h, err := d.Open(idx, taint.Clean(""), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "", taint.Untrusted("GET k"), -1, "", 0, nil, "")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDefer))
	require.True(t, d.Deferred())
	require.False(t, found)
	require.Equal(t, 0, c.finds, "the unquoted query must not reach the driver")
}

func TestTaintedQueryQuotedProceeds(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"": {"GET k": "v"},
	}, Options{})
	idx := mustType(t, d, "fakequery")

	h, err := d.Open(idx, taint.Clean(""), filecheck.Constraints{})
	require.NoError(t, err)

	q, err := d.Quote(idx, taint.Untrusted("GET k"), "")
	require.NoError(t, err)
	require.True(t, q.QuotedFor(idx))

	res, found, err := d.Find(h, "", q, -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", res.Value())
	require.Equal(t, 1, c.finds)
}

func TestTaintedQueryLaxWarnsAndProceeds(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"": {"GET k": "v"},
	}, Options{LaxQuoting: true})
	idx := mustType(t, d, "fakequery")

	h, err := d.Open(idx, taint.Clean(""), filecheck.Constraints{})
	require.NoError(t, err)

	_, found, err := d.Find(h, "", taint.Untrusted("GET k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, c.finds)
}

func TestInvalidateFile(t *testing.T) {
	d, _, c := newTestSetup(t, map[string]map[string]string{
		"a": {"k": "v"},
	}, Options{})
	idx := mustType(t, d, "fakefile")

	h, err := d.Open(idx, taint.Clean("a"), filecheck.Constraints{})
	require.NoError(t, err)
	_, _, err = d.Find(h, "a", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, c.finds)

	d.InvalidateFile("a")
	require.Nil(t, h.conn)
	require.Equal(t, 0, d.OpenFileCount())

	// Both the backend and the cached items are gone: the next find
	// reopens and hits the driver.
	_, _, err = d.Find(h, "a", taint.Clean("k"), -1, "", 0, nil, "")
	require.NoError(t, err)
	require.Equal(t, 2, c.finds)
	require.Equal(t, 2, c.opens)
}
