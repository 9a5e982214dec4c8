package search

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openmta/searchx/mlog"
	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/list"
	"github.com/openmta/searchx/pkg/taint"
)

// DefaultOpenMax bounds how many file-backed handles may be open at
// once before the least recently used one gets closed.
const DefaultOpenMax = 25

// handleKeyMax truncates the filename part of a handle cache key.
// Keys stay short and two opens of the same overlong path still land
// on the same slot.
const handleKeyMax = 254

// Handle is a slot in the handle cache: one per (driver, resource).
// The backend connection may be closed under open-file pressure and
// reopened transparently; the slot itself, including its item cache,
// lives until Tidy.
type Handle struct {
	driver      int
	key         string
	filename    string
	constraints filecheck.Constraints

	conn  Conn // nil while the slot is closed
	items *itemCache
	elem  *list.Elem[*Handle] // LRU position; nil unless file-backed and open
}

// Options configures a Dispatcher. The zero value is usable: default
// registry, default open-file cap, strict quoting, no metrics.
type Options struct {
	Logger   *zap.Logger
	Registry *Registry

	// OpenMax caps concurrently open file-backed handles.
	// 0 means DefaultOpenMax.
	OpenMax int

	// LaxQuoting downgrades the unquoted-tainted-query check from a
	// deferral to a logged warning.
	LaxQuoting bool

	// Metrics, when set, receives the dispatcher's collectors.
	Metrics prometheus.Registerer
}

// Dispatcher multiplexes lookups over the registered drivers and owns
// the two cache levels. It is single-threaded: callers that share one
// across goroutines must serialize access themselves.
type Dispatcher struct {
	logger  *zap.Logger
	reg     *Registry
	openMax int
	lax     bool
	m       *metrics

	handles       map[string]*Handle
	chain         *list.List[*Handle] // front = most recently used
	openFileCount int

	// Most recent failure, mirrored for call sites that inspect
	// state after the fact instead of the returned error.
	lastErr  string
	deferred bool
}

func NewDispatcher(opts Options) *Dispatcher {
	lg := opts.Logger
	if lg == nil {
		lg = mlog.Nop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = Default
	}
	openMax := opts.OpenMax
	if openMax <= 0 {
		openMax = DefaultOpenMax
	}
	return &Dispatcher{
		logger:  lg,
		reg:     reg,
		openMax: openMax,
		lax:     opts.LaxQuoting,
		m:       newMetrics(opts.Metrics),
		handles: make(map[string]*Handle),
		chain:   list.New[*Handle](),
	}
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// LastError returns the message of the most recent failure in any
// public entry point, or "".
func (d *Dispatcher) LastError() string { return d.lastErr }

// Deferred reports whether the most recent failure was a deferral
// rather than a plain miss or hard error.
func (d *Dispatcher) Deferred() bool { return d.deferred }

// OpenFileCount returns the number of file-backed handles currently
// holding an open backend.
func (d *Dispatcher) OpenFileCount() int { return d.openFileCount }

// ParseType resolves a full decorated lookup-type string against the
// dispatcher's registry.
func (d *Dispatcher) ParseType(name string) (TypeSpec, error) {
	d.clearErr()
	spec, err := d.reg.ParseType(name)
	if err != nil {
		d.lastErr = err.Error()
	}
	return spec, err
}

// SplitArgs splits the raw search argument per the driver's style.
func (d *Dispatcher) SplitArgs(driver int, key, arg, opts string) (filename, keyquery string) {
	return d.reg.SplitArgs(driver, key, arg, opts)
}

// Open returns the handle for (driver, filename), opening the backend
// if no live handle is cached. The constraints are checked on a fresh
// open and remembered for transparent reopens.
//
// Tainted filenames are rejected outright.
func (d *Dispatcher) Open(driver int, filename taint.String, c filecheck.Constraints) (*Handle, error) {
	d.clearErr()

	desc := d.reg.Get(driver)
	if filename.Tainted() {
		err := fmt.Errorf("tainted filename for lookup: %q", filename.Value())
		d.lastErr = err.Error()
		d.logger.DPanic("tainted filename for lookup",
			zap.String("type", desc.Name), zap.String("filename", filename.Value()))
		return nil, err
	}
	if desc.driver == nil {
		err := fmt.Errorf("%w: %q", ErrNotAvailable, desc.Name)
		d.lastErr = err.Error()
		return nil, err
	}

	key := handleKey(driver, filename.Value())
	h, cached := d.handles[key]
	if cached && h.conn != nil {
		d.m.handleReuse.Inc()
		d.logger.Debug("lookup handle reused",
			zap.String("type", desc.Name), zap.String("filename", filename.Value()))
		return h, nil
	}

	if !cached {
		h = &Handle{
			driver:   driver,
			key:      key,
			filename: filename.Value(),
			items:    newItemCache(),
		}
	}
	h.constraints = c

	if err := d.connect(desc, h); err != nil {
		d.lastErr = err.Error()
		return nil, err
	}

	if !cached {
		d.handles[key] = h
	}
	return h, nil
}

// connect runs the open protocol for a slot with no live backend:
// LRU admission, the driver's open hook, then the optional ownership
// check. On success the slot is live and, for file-backed types, at
// the most-recently-used end of the chain.
func (d *Dispatcher) connect(desc *Descriptor, h *Handle) error {
	if desc.FileBacked && d.openFileCount >= d.openMax {
		d.evictOldest()
	}

	conn, err := desc.driver.Open(h.filename)
	if err != nil {
		return fmt.Errorf("failed to open %s lookup: %w", desc.Name, err)
	}

	if ck, ok := desc.driver.(Checker); ok {
		if err := ck.Check(conn, h.filename, h.constraints); err != nil {
			conn.Close()
			return fmt.Errorf("%s lookup file check failed: %w", desc.Name, err)
		}
	}

	h.conn = conn
	if desc.FileBacked {
		h.elem = list.NewElem(h)
		d.chain.PushFront(h.elem)
		d.openFileCount++
		d.m.openFileCount.Set(float64(d.openFileCount))
	}
	return nil
}

// evictOldest closes the least recently used file-backed handle. The
// slot stays in the handle cache with its item cache intact, so a
// later find can revive it. A missing victim means the cap and the
// chain disagree; log it and carry on, transiently over the cap.
func (d *Dispatcher) evictOldest() {
	e := d.chain.Back()
	if e == nil {
		d.logger.DPanic("too many lookups open, but can't find one to close")
		return
	}
	h := e.Value
	d.logger.Debug("too many lookup files open, closing LRU",
		zap.String("type", d.reg.Get(h.driver).Name), zap.String("filename", h.filename))
	d.chain.PopElem(e)
	h.elem = nil
	h.conn.Close()
	h.conn = nil
	d.openFileCount--
	d.m.openFileCount.Set(float64(d.openFileCount))
	d.m.lruEviction.Inc()
}

// promote moves a file-backed handle to the most-recently-used end of
// the chain.
func (d *Dispatcher) promote(h *Handle) {
	if h.elem == nil || d.chain.Front() == h.elem {
		return
	}
	d.chain.MoveToFront(h.elem)
}

// Quote runs the driver's quote hook over s and marks the result as
// quoted for that driver, which is what the taint policy checks. A
// driver with no quoting convention returns s unchanged and unmarked.
func (d *Dispatcher) Quote(driver int, s taint.String, opts string) (taint.String, error) {
	d.clearErr()
	desc := d.reg.Get(driver)
	if desc.driver == nil {
		err := fmt.Errorf("%w: %q", ErrNotAvailable, desc.Name)
		d.lastErr = err.Error()
		return s, err
	}
	q, ok := desc.driver.(Quoter)
	if !ok {
		return s, nil
	}
	return s.MarkQuoted(driver, q.Quote(s.Value(), opts)), nil
}

// InvalidateFile drops the cached state of every handle backed by the
// named file: the item cache goes, and a live backend is closed so the
// next find reopens the file fresh. Used when an external watcher sees
// the file change.
func (d *Dispatcher) InvalidateFile(path string) {
	for _, h := range d.handles {
		if h.filename != path {
			continue
		}
		if h.items != nil {
			d.logger.Debug("dropping cached results",
				zap.String("filename", path), zap.Int("items", h.items.len()))
			h.items.flush()
		}
		if h.conn != nil {
			if h.elem != nil {
				d.chain.PopElem(h.elem)
				h.elem = nil
				d.openFileCount--
				d.m.openFileCount.Set(float64(d.openFileCount))
			}
			h.conn.Close()
			h.conn = nil
		}
		d.logger.Info("lookup file invalidated", zap.String("filename", path))
	}
}

// Tidy closes every live handle, runs the drivers' process-wide tidy
// hooks and resets the dispatcher to its initial state. All cached
// items go with the handles.
func (d *Dispatcher) Tidy() {
	d.logger.Debug("lookup tidyup", zap.Int("handles", len(d.handles)))

	for _, h := range d.handles {
		if h.conn != nil {
			h.conn.Close()
			h.conn = nil
		}
		h.elem = nil
		h.items = nil
	}
	d.handles = make(map[string]*Handle)
	d.chain = list.New[*Handle]()
	d.openFileCount = 0
	d.m.openFileCount.Set(0)

	for i := 0; i < d.reg.Len(); i++ {
		if t, ok := d.reg.Get(i).Driver().(Tidier); ok {
			t.Tidy()
		}
	}
}

func (d *Dispatcher) clearErr() {
	d.lastErr = ""
	d.deferred = false
}

// handleKey builds the cache key for a slot: the driver index as one
// character so keys from different drivers never collide, then the
// filename truncated to keep keys bounded.
func handleKey(driver int, filename string) string {
	if len(filename) > handleKeyMax {
		filename = filename[:handleKeyMax]
	}
	return string(rune(driver+'0')) + filename
}
