package domain

import (
	"fmt"
	"math/rand/v2"
)

// anonSpace bounds generated display names. Collisions within a room are
// possible and accepted; identities are display names, not credentials.
const anonSpace = 10000

// AnonymousIdentity returns a generated display name of the form "anon-NNNN".
func AnonymousIdentity() string {
	return fmt.Sprintf("anon-%d", rand.IntN(anonSpace))
}
