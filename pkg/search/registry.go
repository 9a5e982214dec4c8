package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownType reports a lookup-type name that no descriptor
	// matches.
	ErrUnknownType = errors.New("unknown lookup type")

	// ErrNotAvailable reports a known lookup type whose driver
	// package is not linked into this binary.
	ErrNotAvailable = errors.New("lookup type not available")
)

// Descriptor describes one lookup type. The capability fields are
// static; the driver itself is attached at init time by the driver
// package, and stays nil for types this binary was built without.
type Descriptor struct {
	Name       string
	Style      Style
	FileBacked bool // open handles count against the open-file cap
	Partial    bool // partial (wildcard) matching is meaningful

	driver Driver
}

// Driver returns the attached driver, or nil if the type is not
// linked in.
func (d *Descriptor) Driver() Driver { return d.driver }

// Registry is a sorted table of lookup-type descriptors. The zero
// value is unusable; construct with NewRegistry.
type Registry struct {
	list []*Descriptor
}

// NewRegistry builds a registry from descriptors. Names must be
// unique; the table is sorted so FindType can binary-search it.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{list: make([]*Descriptor, 0, len(descs))}
	seen := make(map[string]struct{}, len(descs))
	for i := range descs {
		d := descs[i]
		if _, dup := seen[d.Name]; dup {
			panic(fmt.Sprintf("duplicated lookup type %q", d.Name))
		}
		seen[d.Name] = struct{}{}
		r.list = append(r.list, &d)
	}
	sort.Slice(r.list, func(i, j int) bool { return r.list[i].Name < r.list[j].Name })
	return r
}

// Attach binds a driver implementation to a known type name. Driver
// packages call this (via the package-level Attach) from init.
func (r *Registry) Attach(name string, drv Driver) error {
	for _, d := range r.list {
		if d.Name == name {
			if d.driver != nil {
				return fmt.Errorf("lookup type %q already has a driver", name)
			}
			d.driver = drv
			return nil
		}
	}
	return fmt.Errorf("%w %q", ErrUnknownType, name)
}

func (r *Registry) Len() int { return len(r.list) }

// Get returns the descriptor at a registry index. It panics on an
// out-of-range index, which can only come from caller corruption.
func (r *Registry) Get(i int) *Descriptor {
	return r.list[i]
}

// FindType resolves a plain lookup-type name to its registry index by
// binary search. A name that resolves to a descriptor without an
// attached driver fails with ErrNotAvailable, distinguishable from
// ErrUnknownType.
func (r *Registry) FindType(name string) (int, error) {
	for bot, top := 0, len(r.list); top > bot; {
		mid := (top + bot) / 2
		stored := r.list[mid].Name
		c := typeCompare(name, stored)

		// c == 0 means name matched a prefix of the stored name.
		// Types can be substrings of others (nis, nisplus), so an
		// exact hit also needs equal lengths. A true prefix sorts
		// before the stored name, which the c > 0 test below gets
		// right by leaving c == 0.
		if c == 0 && len(stored) == len(name) {
			if r.list[mid].driver != nil {
				return mid, nil
			}
			return -1, fmt.Errorf("%w: lookup type %q is not available (not linked into this binary - check the lookup driver imports)",
				ErrNotAvailable, name)
		}

		if c > 0 {
			bot = mid + 1
		} else {
			top = mid
		}
	}
	return -1, fmt.Errorf("%w %q", ErrUnknownType, name)
}

// typeCompare compares name against the first len(name) bytes of
// stored, with a shorter stored name ordering before a name that
// extends it.
func typeCompare(name, stored string) int {
	if len(stored) < len(name) {
		if c := strings.Compare(name[:len(stored)], stored); c != 0 {
			return c
		}
		return 1
	}
	return strings.Compare(name, stored[:len(name)])
}

// Default is the registry the driver packages attach themselves to.
// It lists every lookup type this project knows about; the reserved
// names keep "unknown type" and "not in this binary" distinguishable.
var Default = NewRegistry(
	Descriptor{Name: "bdb", Style: SingleKey, FileBacked: true, Partial: true},
	Descriptor{Name: "dnsdb", Style: QueryStyle},
	Descriptor{Name: "ldap", Style: QueryStyle},
	Descriptor{Name: "lsearch", Style: SingleKey, FileBacked: true, Partial: true},
	Descriptor{Name: "mysql", Style: QueryStyle},
	Descriptor{Name: "nis", Style: SingleKey, Partial: true},
	Descriptor{Name: "nisplus", Style: QueryStyle},
	Descriptor{Name: "redis", Style: QueryStyle},
	Descriptor{Name: "sqlite", Style: AbsFileQuery},
	Descriptor{Name: "wildlsearch", Style: SingleKey, FileBacked: true},
)

// Attach binds a driver to a type name in the Default registry. It
// panics on error since it only runs from driver init functions.
func Attach(name string, drv Driver) {
	if err := Default.Attach(name, drv); err != nil {
		panic(err)
	}
}
