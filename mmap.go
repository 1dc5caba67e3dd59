// Memory-mapped backing for Buffer pages. Platform-specific mapping
// lives in mmap_unix.go / mmap_windows.go, split by build tag the same
// way lock.go splits flock from LockFileEx.
package triadb

import (
	"fmt"
	"os"
)

// mappedFile is a fixed-size file mapped read-write into the process's
// address space. The byte slice returned by Bytes is valid until Close
// or Remap.
type mappedFile struct {
	f    *os.File
	data []byte
}

// openMappedFile creates (or truncates) path to exactly size bytes and
// maps it.
func openMappedFile(path string, size int64) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("triadb: open mapped file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("triadb: open mapped file: %w", err)
	}
	data, err := mmapFile(f, size)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("triadb: open mapped file: %w", err)
	}
	return &mappedFile{f: f, data: data}, nil
}

// Bytes returns the mapped region.
func (m *mappedFile) Bytes() []byte { return m.data }

// Sync flushes the mapped pages and the file metadata to disk.
func (m *mappedFile) Sync() error {
	if err := msyncFile(m.data); err != nil {
		return fmt.Errorf("triadb: mapped file sync: %w", err)
	}
	return m.f.Sync()
}

// Remap grows or shrinks the mapping in place: unmaps, truncates the
// underlying file to newSize, and remaps. Used for the corner case
// where a single write exceeds the page's current capacity and
// the page is still empty — the page is remapped to exactly that
// write's size rather than rotated.
func (m *mappedFile) Remap(newSize int64) error {
	if err := munmapFile(m.data); err != nil {
		return fmt.Errorf("triadb: remap: %w", err)
	}
	if err := m.f.Truncate(newSize); err != nil {
		return fmt.Errorf("triadb: remap: %w", err)
	}
	data, err := mmapFile(m.f, newSize)
	if err != nil {
		return fmt.Errorf("triadb: remap: %w", err)
	}
	m.data = data
	return nil
}

// Close unmaps and closes the backing file.
func (m *mappedFile) Close() error {
	if err := munmapFile(m.data); err != nil {
		m.f.Close()
		return fmt.Errorf("triadb: close mapped file: %w", err)
	}
	return m.f.Close()
}
