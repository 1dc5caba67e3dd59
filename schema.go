// Schema version markers: exactly 4 bytes, big-endian, one under
// buffer/ and one under segments/. A freestanding file because the
// layout has no single-file header to bundle a schema tag into.
package triadb

import (
	"encoding/binary"
	"fmt"
	"os"
)

const currentSchemaVersion uint32 = 1

// readOrInitSchemaVersion reads path's 4-byte schema version, creating it
// with currentSchemaVersion if absent.
func readOrInitSchemaVersion(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, fmt.Errorf("triadb: schema version: %w", err)
		}
		if err := writeSchemaVersion(path, currentSchemaVersion); err != nil {
			return 0, err
		}
		return currentSchemaVersion, nil
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: schema file wrong size %d", ErrCorruptHeader, len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

func writeSchemaVersion(path string, version uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("triadb: schema version: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf[:]); err != nil {
		return fmt.Errorf("triadb: schema version: %w", err)
	}
	return f.Sync()
}
