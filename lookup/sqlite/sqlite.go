// Package sqlite implements the "sqlite" lookup type: an SQL query
// against a database file named at open time, via a file= option, or
// as a leading absolute-path token in the argument. Single-column
// rows yield the bare value; multi-column rows yield name=value
// pairs. Rows are newline-joined.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/openmta/searchx/pkg/search"
)

const Type = "sqlite"

func init() {
	search.Attach(Type, Driver{})
}

type Driver struct{}

func (Driver) Open(filename string) (search.Conn, error) {
	if filename == "" {
		// No file known yet; it arrives per query. Find opens a
		// transient database for each call.
		return &conn{}, nil
	}
	db, err := open(filename)
	if err != nil {
		return nil, err
	}
	return &conn{db: db}, nil
}

// Quote doubles single quotes, the SQL string-literal escape.
func (Driver) Quote(s, _ string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func open(filename string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", filename, err)
	}
	return db, nil
}

type conn struct {
	db *sql.DB // nil when the file is named per query
}

func (c *conn) Find(filename, query, _ string) (string, bool, uint32, error) {
	db := c.db
	if db == nil {
		if filename == "" {
			return "", false, search.CacheForever,
				fmt.Errorf("no sqlite database file given (use file= or a leading path)")
		}
		tdb, err := open(filename)
		if err != nil {
			return "", false, search.CacheForever, err
		}
		defer tdb.Close()
		db = tdb
	}

	ttl := search.CacheForever
	if mutates(query) {
		ttl = search.CacheNever
		res, err := db.Exec(query)
		if err != nil {
			return "", false, search.CacheForever, fmt.Errorf("sqlite exec: %w", err)
		}
		n, _ := res.RowsAffected()
		return fmt.Sprintf("%d", n), true, ttl, nil
	}

	rows, err := db.Query(query)
	if err != nil {
		return "", false, search.CacheForever, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", false, search.CacheForever, fmt.Errorf("sqlite columns: %w", err)
	}

	var out []string
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", false, search.CacheForever, fmt.Errorf("sqlite scan: %w", err)
		}
		if len(cols) == 1 {
			out = append(out, vals[0].String)
			continue
		}
		pairs := make([]string, len(cols))
		for i, c := range cols {
			pairs[i] = c + "=" + vals[i].String
		}
		out = append(out, strings.Join(pairs, " "))
	}
	if err := rows.Err(); err != nil {
		return "", false, search.CacheForever, fmt.Errorf("sqlite rows: %w", err)
	}

	if len(out) == 0 {
		return "", false, ttl, nil
	}
	return strings.Join(out, "\n"), true, ttl, nil
}

func (c *conn) Close() {
	if c.db != nil {
		c.db.Close()
	}
}

func mutates(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, kw := range []string{"insert", "update", "delete", "replace", "create", "drop", "alter"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return false
}
