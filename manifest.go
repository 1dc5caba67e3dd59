// Segment manifest: a small JSON marker file written last during
// Segment.Sync — a segment counts as present on load only if its
// manifest exists, regardless of whether its three block files made it
// to disk beforehand. A crash mid-sync leaves orphaned block files and
// no manifest; the next open simply never lists that segment id.
//
// The manifest is a small struct marshaled with goccy/go-json rather
// than hand-rolled binary framing: it is metadata read once per
// segment at startup, not a byte-indexed structure under the hot
// write path.
package triadb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

const manifestName = "manifest"

// manifestInfo is the manifest file's JSON payload: enough to sanity
// check a segment directory against its own loaded blocks without
// re-deriving MinMaxVersion from the block stats first.
type manifestInfo struct {
	SchemaVersion uint32 `json:"schema"`
	MinVersion    int64  `json:"min_version"`
	MaxVersion    int64  `json:"max_version"`
}

// writeManifest creates dir's manifest file and fsyncs both the file
// and its containing directory, so the marker's durability doesn't
// depend on a later, unrelated fsync happening to cover it.
func writeManifest(dir string, minVersion, maxVersion int64) error {
	payload, err := json.Marshal(manifestInfo{
		SchemaVersion: currentSchemaVersion,
		MinVersion:    minVersion,
		MaxVersion:    maxVersion,
	})
	if err != nil {
		return fmt.Errorf("triadb: write manifest: %w", err)
	}

	path := filepath.Join(dir, manifestName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("triadb: write manifest: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("triadb: write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("triadb: write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("triadb: write manifest: %w", err)
	}

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("triadb: write manifest: %w", err)
	}
	defer d.Close()
	return d.Sync()
}

// manifestPresent reports whether dir's manifest marker exists.
func manifestPresent(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifestName))
	return err == nil
}

// readManifest parses dir's manifest payload, for diagnostics and for
// LoadSegment's cross-check against the blocks it actually loaded.
func readManifest(dir string) (manifestInfo, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return manifestInfo{}, fmt.Errorf("triadb: read manifest: %w", err)
	}
	var info manifestInfo
	if err := json.Unmarshal(bytes.TrimSpace(raw), &info); err != nil {
		return manifestInfo{}, fmt.Errorf("%w: manifest: %w", ErrCorruptHeader, err)
	}
	return info, nil
}
