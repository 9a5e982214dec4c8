// Package lsearch implements the "lsearch" lookup type: a linear
// search over a flat text file of "key: data" lines. Keys may be
// double-quoted with backslash escapes; data continues onto following
// lines that start with white space; blank lines and lines whose
// first character is # are ignored. Key comparison ignores case.
package lsearch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/search"
)

const Type = "lsearch"

func init() {
	search.Attach(Type, Driver{})
}

type Driver struct{}

func (Driver) Open(filename string) (search.Conn, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for linear search: %w", filename, err)
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
	data, found, err := Scan(c.f, func(k string) bool {
		return strings.EqualFold(k, key)
	})
	if err != nil {
		return "", false, search.CacheForever, err
	}
	return data, found, search.CacheForever, nil
}

func (c *conn) Close() {
	c.f.Close()
}

// Scan rewinds f and walks it line by line, handing each entry key to
// match. It returns the data of the first matching entry, with
// continuation lines joined by newlines. A read error defers the
// lookup. Shared with the wild variant of this driver.
func Scan(f io.ReadSeeker, match func(key string) bool) (string, bool, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", false, fmt.Errorf("linear search seek: %w", err)
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var b strings.Builder
	inItem := false
	for sc.Scan() {
		line := sc.Text()

		if inItem {
			if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				b.WriteByte('\n')
				b.WriteString(strings.TrimLeft(line, " \t"))
				continue
			}
			return b.String(), true, nil
		}

		if len(line) == 0 || line[0] == '#' {
			continue
		}
		// Continuation of an entry we are not interested in.
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}

		k, rest, ok := splitEntry(line)
		if !ok || !match(k) {
			continue
		}
		inItem = true
		b.WriteString(rest)
	}
	if err := sc.Err(); err != nil {
		return "", false, fmt.Errorf("linear search read: %w", err)
	}
	if inItem {
		return b.String(), true, nil
	}
	return "", false, nil
}

// splitEntry separates a file line into its key and its data. The key
// ends at a colon, white space or the end of line; a leading double
// quote makes it a quoted key with backslash escapes.
func splitEntry(line string) (key, data string, ok bool) {
	if line[0] == '"' {
		var b strings.Builder
		i := 1
		for i < len(line) && line[i] != '"' {
			c := line[i]
			if c == '\\' && i+1 < len(line) {
				i++
				c = unescape(line[i])
			}
			b.WriteByte(c)
			i++
		}
		if i >= len(line) {
			return "", "", false // unterminated quote
		}
		return b.String(), trimData(line[i+1:]), true
	}

	i := strings.IndexAny(line, ": \t")
	if i < 0 {
		return line, "", true
	}
	return line[:i], trimData(line[i:]), true
}

// trimData strips the key terminator and surrounding white space from
// the start of the data.
func trimData(s string) string {
	s = strings.TrimLeft(s, " \t")
	if len(s) > 0 && s[0] == ':' {
		s = strings.TrimLeft(s[1:], " \t")
	}
	return s
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}
