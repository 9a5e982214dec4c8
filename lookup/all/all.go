// Package all links every lookup driver into the binary.
package all

import (
	_ "github.com/openmta/searchx/lookup/bdb"
	_ "github.com/openmta/searchx/lookup/dnsdb"
	_ "github.com/openmta/searchx/lookup/lsearch"
	_ "github.com/openmta/searchx/lookup/redisdb"
	_ "github.com/openmta/searchx/lookup/sqlite"
	_ "github.com/openmta/searchx/lookup/wildlsearch"
)
