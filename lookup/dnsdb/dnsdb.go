// Package dnsdb implements the "dnsdb" lookup type: queries of the
// form "type=name" (a, aaaa, mx, ns, ptr, txt; txt when the type is
// omitted) answered by a DNS server. Answer records are returned
// newline-joined, and the record TTL bounds how long the dispatcher
// may cache the result.
package dnsdb

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/openmta/searchx/pkg/search"
)

const Type = "dnsdb"

// negativeTTL caches misses briefly so a burst of lookups for an
// absent name does not hammer the server.
const negativeTTL uint32 = 30

func init() {
	search.Attach(Type, &Driver{})
}

// Driver queries one DNS server. An empty Server falls back to the
// first resolver in /etc/resolv.conf.
type Driver struct {
	Server  string
	Timeout time.Duration
}

// Configure points the registered driver instance at a server.
// Called by configuration loading before any lookup runs.
func Configure(server string, timeout time.Duration) {
	d := search.Default.Get(mustIndex()).Driver().(*Driver)
	d.Server = server
	d.Timeout = timeout
}

func mustIndex() int {
	i, err := search.Default.FindType(Type)
	if err != nil {
		panic(err)
	}
	return i
}

func (d *Driver) Open(string) (search.Conn, error) {
	server := d.Server
	if server == "" {
		cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(cc.Servers) == 0 {
			return nil, fmt.Errorf("no DNS server configured and resolv.conf unusable: %w", err)
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	client := new(dns.Client)
	if d.Timeout > 0 {
		client.Timeout = d.Timeout
	}
	return &conn{client: client, server: server}, nil
}

type conn struct {
	client *dns.Client
	server string
}

func (c *conn) Find(_, query, _ string) (string, bool, uint32, error) {
	qtype, name, err := parseQuery(query)
	if err != nil {
		return "", false, search.CacheForever, err
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)

	r, _, err := c.client.Exchange(m, c.server)
	if err != nil {
		return "", false, search.CacheForever, fmt.Errorf("dnsdb query %q: %w", query, err)
	}

	switch r.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", false, negativeTTL, nil
	default:
		return "", false, search.CacheForever,
			fmt.Errorf("dnsdb query %q: rcode %s", query, dns.RcodeToString[r.Rcode])
	}

	var rows []string
	ttl := search.CacheForever
	for _, rr := range r.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		rows = append(rows, formatRR(rr))
		if t := rr.Header().Ttl; t < ttl {
			ttl = t
		}
	}
	if len(rows) == 0 {
		return "", false, negativeTTL, nil
	}
	if ttl == 0 {
		// A zero record TTL means "don't cache", which in dispatcher
		// convention would drop the whole item cache instead.
		ttl = 1
	}
	return strings.Join(rows, "\n"), true, ttl, nil
}

func (c *conn) Close() {}

// parseQuery splits "type=name"; a bare name queries TXT.
func parseQuery(q string) (uint16, string, error) {
	if i := strings.IndexByte(q, '='); i >= 0 {
		t, ok := map[string]uint16{
			"a":     dns.TypeA,
			"aaaa":  dns.TypeAAAA,
			"cname": dns.TypeCNAME,
			"mx":    dns.TypeMX,
			"ns":    dns.TypeNS,
			"ptr":   dns.TypePTR,
			"srv":   dns.TypeSRV,
			"txt":   dns.TypeTXT,
		}[strings.ToLower(strings.TrimSpace(q[:i]))]
		if !ok {
			return 0, "", fmt.Errorf("unsupported dnsdb record type %q", q[:i])
		}
		return t, strings.TrimSpace(q[i+1:]), nil
	}
	return dns.TypeTXT, strings.TrimSpace(q), nil
}

func formatRR(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.CNAME:
		return strings.TrimSuffix(v.Target, ".")
	case *dns.MX:
		return fmt.Sprintf("%d %s", v.Preference, strings.TrimSuffix(v.Mx, "."))
	case *dns.NS:
		return strings.TrimSuffix(v.Ns, ".")
	case *dns.PTR:
		return strings.TrimSuffix(v.Ptr, ".")
	case *dns.SRV:
		return fmt.Sprintf("%d %d %d %s", v.Priority, v.Weight, v.Port, strings.TrimSuffix(v.Target, "."))
	case *dns.TXT:
		return strings.Join(v.Txt, "")
	default:
		return rr.String()
	}
}
