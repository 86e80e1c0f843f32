// Package identity generates collision-resistant identifiers for agents and
// work items. IDs combine a caller-supplied prefix, a nanosecond wall-clock
// reading, and a random suffix, so two calls in the same tick on the same
// host still diverge. Pure computation: safe for concurrent use without
// external locking.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// suffixBytes is the length of the random suffix. Four bytes gives 2^32
// values per nanosecond per host, negligible collision probability at the
// expected operation rate.
const suffixBytes = 4

var seq atomic.Uint64

// New returns an identifier of the form <prefix>_<unix-nanos>_<hex-suffix>.
// The suffix is drawn from crypto/rand; if the system entropy source fails
// (it does not on any supported platform) a process-local sequence counter
// keeps IDs unique within the process.
func New(prefix string) string {
	var buf [suffixBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%s_%d_seq%d", prefix, time.Now().UnixNano(), seq.Add(1))
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}

// NewToken returns a bare random hex token of n bytes, used for span IDs.
func NewToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", seq.Add(1)^uint64(time.Now().UnixNano())) //nolint:gosec // fallback only
	}
	return hex.EncodeToString(buf)
}
