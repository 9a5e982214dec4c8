// Package taint carries the trust marker for strings that cross the
// lookup layer. A tainted string originated outside the trust boundary
// (user input, network data, file contents) and must not be used as a
// filename, and must be quoted before reaching a quoting backend.
package taint

// String is a string plus its trust state. The zero value is an empty
// untainted string.
type String struct {
	s       string
	tainted bool

	// quotedBy is the registry index of the driver whose Quote hook
	// produced this string, offset by one so the zero value means
	// "not quoted".
	quotedBy int
}

// Clean wraps a string that is known to be trusted (program literals,
// validated configuration).
func Clean(s string) String {
	return String{s: s}
}

// Untrusted wraps a string that crossed the trust boundary.
func Untrusted(s string) String {
	return String{s: s, tainted: true}
}

func (t String) Value() string { return t.s }

func (t String) Len() int { return len(t.s) }

func (t String) Tainted() bool { return t.tainted }

// QuotedFor reports whether this string was produced by the Quote hook
// of the driver at the given registry index.
func (t String) QuotedFor(driver int) bool {
	return t.quotedBy == driver+1
}

// Detaint returns an untainted copy. Call it only at a trust boundary,
// after the value has been validated (e.g. it matched a lookup).
func (t String) Detaint() String {
	return String{s: t.s}
}

// MarkQuoted records that the driver at the given registry index quoted
// this string. The taint bit is kept: quoting makes a string safe to
// hand to that one driver, it does not make it trusted.
func (t String) MarkQuoted(driver int, quoted string) String {
	return String{s: quoted, tainted: t.tainted, quotedBy: driver + 1}
}

// Slice returns t[from:to] with the trust state preserved.
func (t String) Slice(from, to int) String {
	n := t
	n.s = t.s[from:to]
	return n
}

// Concat joins two strings; the result is tainted if either part is.
// Quote marks do not survive concatenation.
func Concat(a, b String) String {
	return String{s: a.s + b.s, tainted: a.tainted || b.tainted}
}
