// Composite canonical keys.
//
// A Composite is the canonical byte-key formed from an ordered list of
// byteable entities — the lookup key a BlockIndex and a
// BloomFilter both index on. Composites are compared and hashed by their
// concatenated bytes, so two composites built from the same ordered
// entities are always equal regardless of which entities' types they mix.
package triadb

// Byteable is anything that can contribute to a Composite's canonical
// byte representation. Value, Text, Identifier, and Position all satisfy
// it.
type Byteable interface {
	Bytes() []byte
}

// Composite is the concatenation of each entity's Bytes(), in order. It
// is comparable and safe to use as a map key directly — no further
// hashing is required for exact-match lookups; BlockIndex and record
// caches key on Composite itself, while BloomFilter additionally digests
// it down to fixed-width probe positions.
type Composite string

// NewComposite builds a canonical key from an ordered list of byteable
// entities.
func NewComposite(parts ...Byteable) Composite {
	total := 0
	encoded := make([][]byte, len(parts))
	for i, p := range parts {
		encoded[i] = p.Bytes()
		total += len(encoded[i])
	}
	buf := make([]byte, 0, total)
	for _, e := range encoded {
		buf = append(buf, e...)
	}
	return Composite(buf)
}

// Bytes returns the composite's canonical byte representation.
func (c Composite) Bytes() []byte { return []byte(c) }
