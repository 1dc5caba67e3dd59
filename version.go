// The commit-version generator.
//
// A commit version is a monotonic, per-process-unique nanosecond-scale
// counter: the wall clock gives rough global ordering across
// restarts, while bumping past the last issued version guarantees two
// writes accepted in the same nanosecond still compare distinct and
// strictly increasing.
package triadb

import (
	"sync"
	"time"
)

var versionGen struct {
	mu   sync.Mutex
	last int64
}

// nextVersion returns a strictly increasing commit version.
func nextVersion() int64 {
	versionGen.mu.Lock()
	defer versionGen.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= versionGen.last {
		now = versionGen.last + 1
	}
	versionGen.last = now
	return now
}
