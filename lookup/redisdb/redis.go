// Package redisdb implements the "redis" lookup type. The query is a
// redis command with whitespace-separated, optionally double-quoted
// arguments, e.g.
//
//	GET mailhost:example.com
//	HGET routes "user@example.com"
//
// Read commands cache their result; anything that can mutate the
// database invalidates everything previously cached on the handle.
package redisdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openmta/searchx/pkg/search"
)

const Type = "redis"

func init() {
	search.Attach(Type, &Driver{})
}

// Driver connects to one redis server. Zero values mean
// localhost:6379, db 0, 50ms per-command timeout.
type Driver struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Configure sets the connection parameters on the registered driver
// instance before any lookup runs.
func Configure(addr, password string, db int, timeout time.Duration) {
	i, err := search.Default.FindType(Type)
	if err != nil {
		panic(err)
	}
	d := search.Default.Get(i).Driver().(*Driver)
	d.Addr, d.Password, d.DB, d.Timeout = addr, password, db, timeout
}

func (d *Driver) Open(string) (search.Conn, error) {
	addr := d.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: d.Password,
		DB:       d.DB,
	})
	return &conn{client: client, timeout: timeout}, nil
}

// Quote escapes backslashes and double quotes so a tainted value can
// be embedded in a quoted command argument.
func (d *Driver) Quote(s, _ string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

type conn struct {
	client  *redis.Client
	timeout time.Duration
}

// readCommands answer without touching server state, so their results
// are safe to keep until the dispatcher is tidied.
var readCommands = map[string]bool{
	"exists":   true,
	"get":      true,
	"hget":     true,
	"hgetall":  true,
	"lrange":   true,
	"smembers": true,
	"type":     true,
}

func (c *conn) Find(_, query, _ string) (string, bool, uint32, error) {
	argv, err := splitCommand(query)
	if err != nil {
		return "", false, search.CacheForever, err
	}
	if len(argv) == 0 {
		return "", false, search.CacheForever, nil
	}

	ttl := search.CacheForever
	if !readCommands[strings.ToLower(argv[0])] {
		ttl = search.CacheNever
	}

	args := make([]interface{}, len(argv))
	for i, a := range argv {
		args[i] = a
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	v, err := c.client.Do(ctx, args...).Result()
	if err == redis.Nil {
		return "", false, ttl, nil
	}
	if err != nil {
		return "", false, search.CacheForever, fmt.Errorf("redis %s: %w", argv[0], err)
	}
	return formatReply(v), true, ttl, nil
}

func (c *conn) Close() {
	c.client.Close()
}

// splitCommand splits on white space, honoring double quotes with
// backslash escapes (the form the Quote hook produces).
func splitCommand(s string) ([]string, error) {
	var argv []string
	var b strings.Builder
	inQuote, inArg := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case c == '"':
			inQuote = !inQuote
			inArg = true
		case !inQuote && (c == ' ' || c == '\t'):
			if inArg {
				argv = append(argv, b.String())
				b.Reset()
				inArg = false
			}
		default:
			b.WriteByte(c)
			inArg = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in redis query %q", s)
	}
	if inArg {
		argv = append(argv, b.String())
	}
	return argv, nil
}

func formatReply(v interface{}) string {
	switch r := v.(type) {
	case string:
		return r
	case int64:
		return strconv.FormatInt(r, 10)
	case []interface{}:
		rows := make([]string, 0, len(r))
		for _, e := range r {
			rows = append(rows, formatReply(e))
		}
		return strings.Join(rows, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprint(r)
	}
}
