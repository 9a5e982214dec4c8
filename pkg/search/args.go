package search

import "strings"

const spaceChars = " \t\n\v\f\r"

// SplitArgs derives the (filename, keyquery) pair for one lookup from
// the key and the raw search argument, according to the driver style:
//
//   - single-key: the argument is the filename, the key is the query;
//   - absfile-query: the filename comes from a file= option, or from
//     a leading absolute-path token on the argument, or is absent;
//   - query: no filename, the argument is the query.
func (r *Registry) SplitArgs(driver int, key, arg, opts string) (filename, keyquery string) {
	arg = strings.TrimLeft(arg, spaceChars)

	switch r.list[driver].Style {
	case AbsFileQuery:
		if opts != "" {
			for _, o := range strings.Split(opts, ",") {
				if strings.HasPrefix(o, "file=") {
					return o[5:], arg
				}
			}
		}
		if strings.HasPrefix(arg, "/") {
			i := strings.IndexAny(arg, spaceChars)
			if i < 0 {
				return arg, ""
			}
			return arg[:i], strings.TrimLeft(arg[i:], spaceChars)
		}
		return "", arg

	case QueryStyle:
		return "", arg

	default: // single-key
		return arg, key
	}
}
