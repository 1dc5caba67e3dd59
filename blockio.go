package triadb

import (
	"encoding/binary"
	"fmt"
	"os"
)

// readBlockRange reads the byte span [start, end+entrySize) out of a
// synced block file, where entrySize is the declared size of the final
// revision entry at offset end (its own [entrySize:u32] prefix, read
// first to learn how far the range actually extends). Re-reading via
// ReadAt stands in for the "memory-map (or re-read)" alternative a
// block's read side is permitted; Page, which is reopened far
// more often, uses an actual mmap (see mmap_unix.go/mmap_windows.go).
func readBlockRange(path string, start, end int32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("triadb: read block range: %w", err)
	}
	defer f.Close()

	var sizeHdr [4]byte
	if _, err := f.ReadAt(sizeHdr[:], int64(end)); err != nil {
		return nil, fmt.Errorf("triadb: read block range: %w", err)
	}
	bodyLen := binary.BigEndian.Uint32(sizeHdr[:])

	total := int64(end) + 4 + int64(bodyLen) - int64(start)
	if total < 0 {
		return nil, fmt.Errorf("triadb: read block range: negative span")
	}

	buf := make([]byte, total)
	if _, err := f.ReadAt(buf, int64(start)); err != nil {
		return nil, fmt.Errorf("triadb: read block range: %w", err)
	}
	return buf, nil
}
