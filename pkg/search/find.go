package search

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openmta/searchx/pkg/taint"
)

// ErrDefer marks a lookup that could not be answered because the
// backend was temporarily unusable. Test with errors.Is; the
// Deferred accessor reports the same condition.
var ErrDefer = errors.New("lookup deferred")

// ExpandSink collects the expansion variables a successful wildcard
// lookup produces: first the wild part, then the fixed part. The
// value is the string to take n leading bytes of. After a partial or
// verbatim match the fixed part arrives detainted because the lookup
// validated it; the "*@" and "*" defaults pass the original key with
// length 0 as the fixed part.
type ExpandSink func(v taint.String, n int)

// internalFind runs one key through the item cache and, on a miss,
// the driver, applying the taint-quoting policy and the driver's
// cache directives.
func (d *Dispatcher) internalFind(h *Handle, filename string, key taint.String, cacheRD bool, opts string) (taint.String, bool, error) {
	// Insurance: an empty key always fails, without a driver call.
	if key.Len() == 0 {
		return taint.String{}, false, nil
	}

	d.m.lookupTotal.Inc()
	desc := d.reg.Get(h.driver)

	// The backend may have been closed under open-file pressure.
	// Reopen it with the constraints remembered from the first open.
	if h.conn == nil {
		if err := d.connect(desc, h); err != nil {
			d.deferred = true
			d.lastErr = err.Error()
			return taint.String{}, false, fmt.Errorf("%w: %s", ErrDefer, err)
		}
	}

	if cacheRD {
		if it, ok := h.items.get(key.Value(), opts); ok {
			d.m.itemCacheHit.Inc()
			d.logger.Debug("cached data used for lookup",
				zap.String("key", key.Value()), zap.String("filename", filename))
			return taint.Untrusted(it.data), it.found, nil
		}
	}

	// A tainted query against a quoting backend must carry that
	// backend's quoting. Strict mode defers; lax mode logs and goes
	// ahead for compatibility with older configurations.
	if _, quoting := desc.driver.(Quoter); quoting && desc.Style != SingleKey &&
		key.Tainted() && !key.QuotedFor(h.driver) {
		if !d.lax {
			d.deferred = true
			d.lastErr = fmt.Sprintf("tainted search query is not properly quoted: %s", key.Value())
			return taint.String{}, false, fmt.Errorf("%w: tainted search query is not properly quoted: %s",
				ErrDefer, key.Value())
		}
		d.logger.Warn("tainted search query is not properly quoted",
			zap.String("type", desc.Name), zap.String("key", key.Value()))
	}

	d.m.driverCall.Inc()
	result, found, ttl, err := h.conn.Find(filename, key.Value(), opts)
	if err != nil {
		d.m.driverDefer.Inc()
		d.deferred = true
		d.lastErr = err.Error()
		return taint.String{}, false, fmt.Errorf("%w: %s", ErrDefer, err)
	}

	// Cache the answer, negative answers included, unless the driver
	// signalled a mutation: then everything previously cached on this
	// handle is suspect and gets dropped.
	if ttl != CacheNever {
		h.items.put(key.Value(), cachedItem{data: result, found: found, opts: opts}, ttl)
	} else {
		d.logger.Debug("lookup forced cache cleanup", zap.String("type", desc.Name))
		h.items.flush()
	}

	if !found {
		return taint.String{}, false, nil
	}
	return taint.Untrusted(result), true, nil
}

// Find looks up key on an open handle, wildcarding as the type spec
// requested: the verbatim key first, then partial-match fallbacks,
// then the "*@" and "*" defaults. A deferral at any step aborts the
// sequence.
//
// partial is the minimum number of non-wild components, or -1 to
// disable partial matching; affix is the wildcard prefix. sink, when
// non-nil, receives the expansion variables of a wildcard hit.
func (d *Dispatcher) Find(h *Handle, filename string, key taint.String, partial int, affix string, stars StarFlags, sink ExpandSink, opts string) (taint.String, bool, error) {
	d.clearErr()

	// Dispatcher-level options never reach the driver and stay out
	// of the cache fingerprint.
	retKey, cacheRD := false, true
	if opts != "" {
		var kept []string
		for _, ele := range strings.Split(opts, ",") {
			switch ele {
			case "ret=key":
				retKey = true
			case "cache=no_rd":
				cacheRD = false
			default:
				kept = append(kept, ele)
			}
		}
		opts = strings.Join(kept, ",")
	}

	d.promote(h)

	// Attempt 1: the key as given. A hit that could have been
	// partial still populates the expansion variables, with an empty
	// wild part.
	yield, found, err := d.internalFind(h, filename, key, cacheRD, opts)
	if err != nil {
		return taint.String{}, false, err
	}
	setNullWild := found && partial >= 0

	keyStr := key.Value()

	// Attempt 2: partial matching. First the affix glued onto the
	// whole key, then left-trimming one dotted component at a time
	// while enough non-wild components remain.
	if !found && partial >= 0 {
		if len(affix) > 0 {
			cand := taint.Concat(taint.Clean(affix), key)
			yield, found, err = d.internalFind(h, filename, cand, cacheRD, opts)
			if err != nil {
				return taint.String{}, false, err
			}
			setNullWild = found
		}

		if !found {
			dotcount := strings.Count(keyStr, ".")
			i := 0 // start of the remaining fixed part of the key

			for ; dotcount >= partial; dotcount-- {
				j := strings.IndexByte(keyStr[i:], '.')

				var cand taint.String
				var fixedlen int
				if j < 0 {
					// Ran off the end. Without an affix that is the
					// end of the line; otherwise try the affix by
					// itself, dropping a trailing dot from affixes
					// longer than one character.
					if len(affix) < 1 {
						break
					}
					a := affix
					if len(a) > 1 && a[len(a)-1] == '.' {
						a = a[:len(a)-1]
					}
					cand = taint.Clean(a)
					fixedlen = 0
					i = len(keyStr)
				} else {
					i += j + 1
					cand = taint.Concat(taint.Clean(affix), key.Slice(i, key.Len()))
					fixedlen = len(keyStr) - i
				}

				yield, found, err = d.internalFind(h, filename, cand, cacheRD, opts)
				if err != nil {
					return taint.String{}, false, err
				}
				if found {
					// Wild part first, fixed part second; the fixed
					// part is detainted since the lookup validated it.
					if sink != nil {
						wildlen := len(keyStr) - fixedlen - 1
						sink(key, wildlen)
						sink(key.Slice(wildlen+1, wildlen+1+fixedlen).Detaint(), fixedlen)
					}
					break
				}
			}
		}
	}

	// Attempt 3: the *@ default. Everything left of the rightmost @
	// collapses to a single *; there must be something to collapse.
	if !found && stars&StarAt != 0 {
		if at := strings.LastIndexByte(keyStr, '@'); at > 0 {
			cand := taint.Concat(taint.Clean("*"), key.Slice(at, key.Len()))
			yield, found, err = d.internalFind(h, filename, cand, cacheRD, opts)
			if err != nil {
				return taint.String{}, false, err
			}
			if found && sink != nil {
				sink(key, at)
				sink(key, 0)
			}
		}
	}

	// Attempt 4: the bare * default, for both star flavours.
	if !found && stars&(Star|StarAt) != 0 {
		yield, found, err = d.internalFind(h, filename, taint.Clean("*"), cacheRD, opts)
		if err != nil {
			return taint.String{}, false, err
		}
		if found && sink != nil {
			sink(key, key.Len())
			sink(key, 0)
		}
	}

	// A potentially-partial lookup that matched without any
	// wildcarding reports an empty wild part and the whole key,
	// validated, as the fixed part.
	if setNullWild && sink != nil {
		sink(key, 0)
		sink(key.Detaint(), key.Len())
	}

	if found && retKey {
		yield = key.Detaint()
	}

	if !found {
		return taint.String{}, false, nil
	}
	return yield, true, nil
}
