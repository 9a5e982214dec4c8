package search

import (
	"math"

	"github.com/openmta/searchx/pkg/filecheck"
)

// Style classifies how a lookup type is addressed.
type Style int

const (
	// SingleKey lookups are addressed by (filename, key), e.g. a
	// linear-search file or an indexed key-value file.
	SingleKey Style = iota

	// QueryStyle lookups carry the whole request in one query string
	// and have no filename. All queries for a driver share one handle.
	QueryStyle

	// AbsFileQuery lookups are query-style but name the backing file
	// inside the argument (a leading absolute path token) or via a
	// file= option. SQL-file engines use this.
	AbsFileQuery
)

// Cache TTLs returned by Conn.Find, in seconds.
const (
	// CacheForever keeps the result until the dispatcher is tidied.
	CacheForever uint32 = math.MaxUint32

	// CacheNever signals that the backend mutated state and every
	// previous result cached for this handle is now suspect. The
	// dispatcher drops the handle's whole item cache.
	CacheNever uint32 = 0
)

// Driver opens backend resources for one lookup type. Implementations
// register themselves into the Default registry from an init function.
type Driver interface {
	// Open opens the backend resource. filename is empty for
	// query-style drivers.
	Open(filename string) (Conn, error)
}

// Conn is an open backend resource.
type Conn interface {
	// Find looks up one key (or runs one query). A miss is
	// found == false with a nil error; a non-nil error means the
	// lookup deferred (backend temporarily unusable).
	//
	// ttl controls the dispatcher's item cache: CacheForever (the
	// common case), a bounded lifetime in seconds, or CacheNever to
	// invalidate everything cached for this handle.
	Find(filename, key, opts string) (result string, found bool, ttl uint32, err error)

	Close()
}

// Checker is implemented by drivers that validate ownership and mode
// of the file they just opened.
type Checker interface {
	Check(conn Conn, filename string, c filecheck.Constraints) error
}

// Tidier is implemented by drivers with process-wide state to release
// when the dispatcher is tidied.
type Tidier interface {
	Tidy()
}

// Quoter is implemented by drivers whose query syntax requires
// escaping. Presence of this interface is what makes a driver
// "quoting" for the taint policy.
type Quoter interface {
	// Quote escapes s for safe embedding in this driver's queries.
	Quote(s, opts string) string
}
