// Approximate membership filter over composite keys.
//
// Both a Block (over its locator, (locator,key) and (locator,key,value)
// composites, built once at sync from the final revision count) and a Page (over (record,key,value)
// composites, pre-sized for the page's configured capacity) use the same
// filter. Negative answers are definitive; positive answers require a
// follow-up lookup against the structure the filter guards.
package triadb

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/zeebo/xxh3"
)

// BloomFilter is a double-hashed bit-set sized for a target false
// positive rate at a given expected entry count. xxh3 serves as the
// primary hash source, since it is already the default composite hash
// algorithm (hash.go) and reusing it avoids a second hash family doing
// the same job; FNV-1a provides the independent second source.
type BloomFilter struct {
	bits []byte
	k    int
	bits64
}

// bits64 memoizes the bit-count, avoiding a recompute per Add/Contains.
type bits64 struct {
	n uint64
}

// defaultFPRate targets ~1% false positives at the expected entry count.
const defaultFPRate = 0.01

// NewBloomFilter returns a filter sized for expectedEntries at the
// default false positive rate. expectedEntries <= 0 falls back to a
// floor of 1024 entries to keep the filter meaningfully sized.
func NewBloomFilter(expectedEntries int) *BloomFilter {
	return NewBloomFilterRate(expectedEntries, defaultFPRate)
}

// NewBloomFilterRate returns a filter sized for expectedEntries at the
// given false positive rate.
func NewBloomFilterRate(expectedEntries int, fpRate float64) *BloomFilter {
	n := expectedEntries
	if n <= 0 {
		n = 1024
	}
	// Round up to whole bytes so the probe modulus equals len(bits)*8,
	// the bit count LoadBloomFilter reconstructs from the persisted bits.
	m := (optimalBits(n, fpRate) + 7) / 8 * 8
	k := optimalK(m, n)
	return &BloomFilter{
		bits:   make([]byte, m/8),
		k:      k,
		bits64: bits64{n: uint64(m)},
	}
}

func optimalBits(n int, p float64) int {
	m := -1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return int(math.Ceil(m))
}

func optimalK(m, n int) int {
	if n == 0 {
		return 1
	}
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	return k
}

// Add inserts a composite's bytes into the filter.
func (b *BloomFilter) Add(composite []byte) {
	h1, h2 := b.seeds(composite)
	nbits := b.bits64.n
	for i := 0; i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % nbits
		b.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MightContain returns false only when composite is definitely absent.
func (b *BloomFilter) MightContain(composite []byte) bool {
	h1, h2 := b.seeds(composite)
	nbits := b.bits64.n
	for i := 0; i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % nbits
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// seeds derives the two independent hash sources double hashing combines
// into b.k probe positions: xxh3 (already the engine's default composite
// hash) as the primary source, FNV-1a as the secondary.
func (b *BloomFilter) seeds(composite []byte) (uint64, uint64) {
	h1 := xxh3.Hash(composite)
	h2 := digest64(composite, AlgFNV1a)
	if h2 == 0 {
		h2 = 1 // avoid degenerating to a single probe position
	}
	return h1, h2
}

// Bytes returns the filter's serialized bit-set, for Block.sync.
func (b *BloomFilter) Bytes() []byte {
	return b.bits
}

// LoadBloomFilter reconstructs a filter from previously serialized bits
// and the k used to build it, for Block load.
func LoadBloomFilter(bits []byte, k int) *BloomFilter {
	return &BloomFilter{bits: bits, k: k, bits64: bits64{n: uint64(len(bits) * 8)}}
}

// K reports the number of hash functions, persisted alongside Bytes so
// LoadBloomFilter can reconstruct an equivalent filter.
func (b *BloomFilter) K() int { return b.k }

// writeFilterFile persists a bloom filter to a block's .fltr file as
// [k:u8][bitsLen:u32][bits...], fsyncing before returning.
func writeFilterFile(path string, b *BloomFilter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("triadb: filter sync: %w", err)
	}
	defer f.Close()

	bits := b.Bytes()
	hdr := make([]byte, 5)
	hdr[0] = byte(b.K())
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(bits)))
	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("triadb: filter sync: %w", err)
	}
	if _, err := f.Write(bits); err != nil {
		return fmt.Errorf("triadb: filter sync: %w", err)
	}
	return f.Sync()
}

// readFilterFile loads a bloom filter previously written by
// writeFilterFile.
func readFilterFile(path string) (*BloomFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrMalformedBlock, err)
	}
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: filter: truncated header", ErrMalformedBlock)
	}
	k := int(data[0])
	bitsLen := int(binary.BigEndian.Uint32(data[1:5]))
	if len(data) != 5+bitsLen {
		return nil, fmt.Errorf("%w: filter: length mismatch", ErrMalformedBlock)
	}
	return LoadBloomFilter(data[5:], k), nil
}
