// Package bdb implements the "bdb" lookup type: an indexed key-value
// file in bbolt format, opened read-only. The bucket defaults to
// "data" and can be chosen per query with a bucket=NAME option.
package bdb

import (
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/openmta/searchx/pkg/filecheck"
	"github.com/openmta/searchx/pkg/search"
)

const (
	Type = "bdb"

	defaultBucket = "data"
)

func init() {
	search.Attach(Type, Driver{})
}

type Driver struct{}

func (Driver) Open(filename string) (search.Conn, error) {
	db, err := bolt.Open(filename, 0o400, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s as bdb file: %w", filename, err)
	}
	return &conn{db: db}, nil
}

// Check validates by path: bbolt owns the underlying descriptor, so
// the open-file form of the check is not available here.
func (Driver) Check(_ search.Conn, filename string, cs filecheck.Constraints) error {
	return filecheck.Path(filename, cs)
}

type conn struct {
	db *bolt.DB
}

func (c *conn) Find(_, key, opts string) (string, bool, uint32, error) {
	bucket := defaultBucket
	if opts != "" {
		for _, o := range strings.Split(opts, ",") {
			if strings.HasPrefix(o, "bucket=") {
				bucket = o[len("bucket="):]
			}
		}
	}

	var data string
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("no bucket %q in %s", bucket, c.db.Path())
		}
		if v := b.Get([]byte(key)); v != nil {
			data = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, search.CacheForever, err
	}
	return data, found, search.CacheForever, nil
}

func (c *conn) Close() {
	c.db.Close()
}
