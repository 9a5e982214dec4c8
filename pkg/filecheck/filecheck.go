// Package filecheck validates the mode and ownership of files that
// back lookups. Checking happens on the already-open file so the
// status cannot change between the check and the reads.
package filecheck

import (
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Constraints describes what an opened lookup file must satisfy.
type Constraints struct {
	// ModeMask holds permission bits that must NOT be set,
	// e.g. 0022 forbids group/other write. Zero disables the check.
	ModeMask fs.FileMode

	// Owners lists acceptable owning uids. Empty allows any.
	Owners []uint32

	// Groups lists acceptable owning gids. Empty allows any.
	Groups []uint32
}

// Zero reports whether c imposes no constraints at all.
func (c Constraints) Zero() bool {
	return c.ModeMask == 0 && len(c.Owners) == 0 && len(c.Groups) == 0
}

// Check validates an open file against c. The filename is only used in
// error messages.
func Check(f *os.File, filename string, c Constraints) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat open file %s: %w", filename, err)
	}

	if m := fi.Mode().Perm() & c.ModeMask; m != 0 {
		return fmt.Errorf("%s (%s): wrong mode bits %04o set", filename, fi.Mode().Perm(), m)
	}

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		if len(c.Owners) > 0 || len(c.Groups) > 0 {
			return fmt.Errorf("%s: ownership check not supported on this platform", filename)
		}
		return nil
	}

	if len(c.Owners) > 0 && !contains(c.Owners, st.Uid) {
		return fmt.Errorf("%s: file has wrong owner (uid %d)", filename, st.Uid)
	}
	if len(c.Groups) > 0 && !contains(c.Groups, st.Gid) {
		return fmt.Errorf("%s: file has wrong group (gid %d)", filename, st.Gid)
	}
	return nil
}

// Path validates by filename for backends that own their descriptor
// and cannot hand out the open file. Racier than Check; use that one
// where possible.
func Path(filename string, c Constraints) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s for checking: %w", filename, err)
	}
	defer f.Close()
	return Check(f, filename, c)
}

func contains(set []uint32, id uint32) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
