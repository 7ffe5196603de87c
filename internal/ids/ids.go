package ids

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for storage keys.
// Token and user ids double as opaque public identifiers, so entropy comes
// from crypto/rand.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Valid reports whether s parses as an identifier produced by New.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
