// Package wildlsearch implements the "wildlsearch" lookup type: the
// lsearch file format, but entry keys are glob patterns matched
// against the search key. The first matching entry wins. Because the
// wildcarding lives in the file, its registry descriptor leaves
// Partial unset; the type parser does not read that field, so a
// "partial" prefix on this type is still accepted.
package wildlsearch

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"

	"github.com/openmta/searchx/lookup/lsearch"
	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/search"
)

const Type = "wildlsearch"

func init() {
	search.Attach(Type, Driver{})
}

type Driver struct{}

func (Driver) Open(filename string) (search.Conn, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for wild linear search: %w", filename, err)
	}
	return &conn{f: f}, nil
}

func (Driver) Check(c search.Conn, filename string, cs filecheck.Constraints) error {
	return filecheck.Check(c.(*conn).f, filename, cs)
}

type conn struct {
	f *os.File
}

func (c *conn) Find(_, key, _ string) (string, bool, uint32, error) {
	lower := strings.ToLower(key)
	data, found, err := lsearch.Scan(c.f, func(pattern string) bool {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			// A malformed pattern only skips its own entry.
			return false
		}
		return g.Match(lower)
	})
	if err != nil {
		return "", false, search.CacheForever, err
	}
	return data, found, search.CacheForever, nil
}

func (c *conn) Close() {
	c.f.Close()
}
