// Record inventory: the durable set of record identifiers the buffer
// has ever seen a write for, fsynced alongside the current page on
// every buffer sync. Append-only: membership never shrinks, so eight
// bytes per newly seen identifier is the whole write amplification.
package triadb

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

type inventory struct {
	mu    sync.Mutex
	f     *os.File
	known map[Identifier]struct{}
}

// loadInventory opens (creating if absent) the inventory file at path
// and replays its entries into memory.
func loadInventory(path string) (*inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("triadb: load inventory: %w", err)
	}

	known := make(map[Identifier]struct{}, len(data)/8)
	for off := 0; off+8 <= len(data); off += 8 {
		known[Identifier(binary.BigEndian.Uint64(data[off:off+8]))] = struct{}{}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("triadb: load inventory: %w", err)
	}
	return &inventory{f: f, known: known}, nil
}

// Add records id if not already known, appending it to the file. The
// caller decides when to Sync (batched with the owning page's fsync).
func (inv *inventory) Add(id Identifier) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, ok := inv.known[id]; ok {
		return nil
	}
	if _, err := inv.f.Write(id.Bytes()); err != nil {
		return fmt.Errorf("triadb: inventory add: %w", err)
	}
	inv.known[id] = struct{}{}
	return nil
}

// Contains reports whether id has ever been recorded.
func (inv *inventory) Contains(id Identifier) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	_, ok := inv.known[id]
	return ok
}

// Sync fsyncs the inventory file.
func (inv *inventory) Sync() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.f.Sync()
}

// Close closes the underlying file.
func (inv *inventory) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.f.Close()
}
