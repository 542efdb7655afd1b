// Package ids generates identifiers used on the wire.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a time-sortable ULID encoded as a 26-character string.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Short returns a compact identity in the form XXXX-XXXX built from the
// random part of a fresh ULID. It is used to tag connections, not as a key.
func Short() string {
	id := New()
	// the last 16 characters are entropy
	r := id[len(id)-8:]
	return strings.ToUpper(r[:4] + "-" + r[4:])
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
