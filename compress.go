// Compression for transaction backup payloads.
//
// A transaction backup (txn/<id>.txn, see transaction.go) is read wholesale
// on recovery — never byte-indexed the way block and buffer files are — so
// it is safe to wrap the whole payload in zstd, unlike the byte-indexed
// block and page formats. The on-disk shape becomes
// [compressedSize:i32][zstd-compressed payload].
package triadb

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Shared encoder/decoder — both are documented as safe for concurrent use.
// Allocated once because construction is expensive (internal state
// tables). SpeedFastest matches the hot path: every commit compresses a
// backup synchronously before replying to the caller, while decompression
// only runs during the comparatively rare startup recovery scan.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressBackup(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompressBackup(compressed []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("triadb: decompress backup: %w", err)
	}
	return out, nil
}
