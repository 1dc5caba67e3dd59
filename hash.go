// Hash algorithm implementations for composite keys.
//
// Composites (locator+key[+value] tuples, see composite.go) are hashed
// down to a 64-bit digest for the bloom filter and for the secondary
// hash source double-hashing relies on. Three algorithms are supported,
// selectable via EngineConfig.HashAlgorithm.
package triadb

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Hash algorithm constants.
const (
	AlgXXHash3 = 1 // Default, fastest
	AlgFNV1a   = 2 // No external dependencies
	AlgBlake2b = 3 // Best distribution
)

// digest64 reduces a composite's bytes to a 64-bit digest using the
// configured algorithm.
func digest64(b []byte, alg int) uint64 {
	switch alg {
	case AlgFNV1a:
		h := fnv.New64a()
		h.Write(b)
		return h.Sum64()
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
		h.Write(b)
		return binary.BigEndian.Uint64(h.Sum(nil))
	case AlgXXHash3:
		fallthrough
	default:
		return xxh3.Hash(b)
	}
}
