package search

import (
	"fmt"
	"strings"
)

// StarFlags request the "*@" and "*" default lookups that run when
// everything else missed.
type StarFlags uint8

const (
	// Star tries the literal key "*" as a last resort.
	Star StarFlags = 1 << iota

	// StarAt first tries the key with everything left of the last
	// "@" replaced by "*", then falls through to the "*" lookup.
	StarAt
)

// TypeSpec is the parse of a full decorated lookup-type string such
// as "partial2(*.)lsearch*@,ret=key".
type TypeSpec struct {
	// Driver is the registry index of the base type.
	Driver int

	// Partial is the minimum number of non-wild components for
	// partial matching, or -1 when partial matching is off.
	Partial int

	// Affix is the wildcard prefix for partial matching ("*." by
	// default). Meaningless when Partial < 0.
	Affix string

	// Stars holds the default-lookup flags.
	Stars StarFlags

	// Opts is everything after the first comma, untouched. Empty
	// when no options were given.
	Opts string
}

// ParseType parses a full lookup-type string: an optional
// "partial[N]" prefix with its affix, the base type name, an optional
// "*" or "*@" suffix, and options after a comma.
func (r *Registry) ParseType(name string) (TypeSpec, error) {
	spec := TypeSpec{Driver: -1, Partial: -1}
	ss := name

	// "partial", optional digits, then either "(AFFIX)" or "-" for
	// the default "*." affix. Affix characters are punctuation other
	// than the closing paren.
	if strings.HasPrefix(ss, "partial") {
		ss = ss[7:]
		pv := 2
		if len(ss) > 0 && isDigit(ss[0]) {
			pv = 0
			for len(ss) > 0 && isDigit(ss[0]) {
				pv = pv*10 + int(ss[0]-'0')
				ss = ss[1:]
			}
		}

		switch {
		case len(ss) > 0 && ss[0] == '(':
			ss = ss[1:]
			i := 0
			for i < len(ss) && isPunct(ss[i]) && ss[i] != ')' {
				i++
			}
			if i >= len(ss) || ss[i] != ')' {
				return spec, fmt.Errorf("format error in lookup type %q", name)
			}
			spec.Affix = ss[:i]
			ss = ss[i+1:]
		case len(ss) > 0 && ss[0] == '-':
			spec.Affix = "*."
			ss = ss[1:]
		default:
			return spec, fmt.Errorf("format error in lookup type %q", name)
		}
		spec.Partial = pv
	}

	// The base name runs to a "*" or "," whichever comes first.
	// Options start after the first comma, searched from the star so
	// a comma inside an affix cannot confuse it.
	namelen := len(ss)
	after := 0
	if i := strings.IndexByte(ss, '*'); i >= 0 {
		namelen = i
		if i+1 < len(ss) && ss[i+1] == '@' {
			spec.Stars |= StarAt
		} else {
			spec.Stars |= Star
		}
		after = i
	}
	if j := strings.IndexByte(ss[after:], ','); j >= 0 {
		l := after + j
		if l < namelen {
			namelen = l
		}
		spec.Opts = ss[after+j+1:]
	}

	stype, err := r.FindType(ss[:namelen])
	if err != nil {
		return spec, err
	}

	// Partial matching and the star defaults only make sense for
	// single-key types.
	if r.list[stype].Style != SingleKey {
		if spec.Partial >= 0 {
			return spec, fmt.Errorf("\"partial\" is not permitted for lookup type %q", ss[:namelen])
		}
		if spec.Stars != 0 {
			return spec, fmt.Errorf("defaults using \"*\" or \"*@\" are not permitted for lookup type %q", ss[:namelen])
		}
	}

	spec.Driver = stype
	return spec, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isPunct mirrors C ispunct in the POSIX locale: printable, not
// alphanumeric, not space.
func isPunct(c byte) bool {
	return c > ' ' && c < 0x7f && !isDigit(c) &&
		!(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z')
}
