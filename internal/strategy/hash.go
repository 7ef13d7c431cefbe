package strategy

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// hashKey is the stable 64-bit string hash shared by the ring-hash and
// maglev strategies. Consistency within a run is all the protocol needs,
// but the mapping must be uniform and stable across rebuilds.
func hashKey(s string) uint64 {
	return xxhash.Sum64String(s)
}

// hashRequest hashes an L7 identifier the same way the virtual-node keys
// are hashed: through its decimal string form.
func hashRequest(l7ID uint64) uint64 {
	return hashKey(strconv.FormatUint(l7ID, 10))
}
