// EngineConfig: immutable configuration passed into the database at
// construction — a plain struct carrying both tuning knobs and the
// injected logger, passed by value into the constructor rather than
// read from package state. No package-level mutable configuration
// exists anywhere in the tree.
package triadb

import "go.uber.org/zap"

// defaultStopWords mirrors the scale and register of lists shipped by
// real infix-search engines; data, not code, fully overridable.
var defaultStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

const (
	defaultPageSize         = 16 << 20 // 16 MiB, thousands of writes per page
	defaultMaxSubstringLen  = 25
	defaultIndexCacheBytes  = 64 << 20
	defaultRecordCacheBytes = 128 << 20
)

// EngineConfig holds every tunable the engine needs, constructed once
// and never mutated afterward.
type EngineConfig struct {
	// HashAlgorithm selects the composite/identifier hash family
	// (AlgXXHash3 by default; see hash.go).
	HashAlgorithm int

	// PageSize bounds a single buffer page's memory-mapped capacity.
	PageSize int64

	// StopWords are excluded from corpus indexing and from search
	// query tokenization.
	StopWords map[string]struct{}

	// MaxSubstringLen bounds enumerated corpus substrings; <= 0 means
	// unbounded.
	MaxSubstringLen int

	// IndexCacheBytes / PrimaryFullCacheBytes / PrimaryPartialCacheBytes /
	// SecondaryCacheBytes bound the byte-bounded LRU caches.
	IndexCacheBytes          int
	PrimaryFullCacheBytes    int
	PrimaryPartialCacheBytes int
	SecondaryCacheBytes      int

	// Logger receives structured diagnostics for errors that are
	// logged and skipped rather than surfaced (segment loading
	// failures, malformed blocks). Nil disables logging.
	Logger *zap.SugaredLogger
}

// DefaultEngineConfig returns a config with the engine's documented
// defaults.
func DefaultEngineConfig() EngineConfig {
	sw := make(map[string]struct{}, len(defaultStopWords))
	for w := range defaultStopWords {
		sw[w] = struct{}{}
	}
	logger, _ := zap.NewProduction()
	return EngineConfig{
		HashAlgorithm:            AlgXXHash3,
		PageSize:                 defaultPageSize,
		StopWords:                sw,
		MaxSubstringLen:          defaultMaxSubstringLen,
		IndexCacheBytes:          defaultIndexCacheBytes,
		PrimaryFullCacheBytes:    defaultRecordCacheBytes,
		PrimaryPartialCacheBytes: defaultRecordCacheBytes,
		SecondaryCacheBytes:      defaultRecordCacheBytes,
		Logger:                   logger.Sugar(),
	}
}

// isStopWord reports whether token is excluded from corpus indexing.
func (c EngineConfig) isStopWord(token string) bool {
	_, ok := c.StopWords[token]
	return ok
}

// workerCount is the corpus indexing pool size: max(3, ceil(0.5*cores)).
func (c EngineConfig) workerCount(cores int) int {
	n := (cores + 1) / 2
	if n < 3 {
		n = 3
	}
	return n
}
