package op

import (
	"strings"

	"github.com/google/uuid"
)

// ID is the stable identity of a queued operation. IDs are always engine generated.
type ID string

// idNamespace scopes DeriveID so derived ids never collide with ids from other UUIDv5 users.
var idNamespace = uuid.MustParse("6f6b1c52-8f0c-4b8e-9a53-3c1d2f7e5a10")

// NewID returns a random id for externally enqueued work.
func NewID() ID {
	return ID(uuid.NewString())
}

// DeriveID returns a deterministic id for engine-synthesized work, so that
// replaying the same inputs produces the same ids.
func DeriveID(parts ...string) ID {
	return ID(uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x00"))).String())
}

func (id ID) String() string {
	return string(id)
}
