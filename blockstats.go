// BlockStats: the per-block summary persisted to a block's .stat
// file: min/max version seen, revision count, and a checksum.
package triadb

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// BlockStats summarizes a block's contents for chronological segment
// ordering (segments sort by their (minVersion, maxVersion) span) and
// load-time integrity checking.
type BlockStats struct {
	MinVersion int64
	MaxVersion int64
	Count      int64
	Checksum   uint32
}

// Observe folds one more revision's version and encoded bytes into the
// running stats. Called once per revision during Block.sync's sorted
// pass.
func (s *BlockStats) Observe(version int64, encoded []byte) {
	if s.Count == 0 || version < s.MinVersion {
		s.MinVersion = version
	}
	if s.Count == 0 || version > s.MaxVersion {
		s.MaxVersion = version
	}
	s.Count++
	s.Checksum = crc32.Update(s.Checksum, crc32.IEEETable, encoded)
}

// Encode serializes stats as four big-endian fields:
// [minVersion:i64][maxVersion:i64][count:i64][checksum:u32].
func (s *BlockStats) Encode() []byte {
	buf := make([]byte, 8+8+8+4)
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.MinVersion))
	binary.BigEndian.PutUint64(buf[8:16], uint64(s.MaxVersion))
	binary.BigEndian.PutUint64(buf[16:24], uint64(s.Count))
	binary.BigEndian.PutUint32(buf[24:28], s.Checksum)
	return buf
}

// WriteTo persists the stats to path, fsyncing before returning.
func (s *BlockStats) WriteTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("triadb: block stats: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(s.Encode()); err != nil {
		return fmt.Errorf("triadb: block stats: %w", err)
	}
	return f.Sync()
}

// LoadBlockStats reads a .stat file written by WriteTo.
func LoadBlockStats(path string) (*BlockStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %w", ErrMalformedBlock, err)
	}
	if len(data) != 28 {
		return nil, fmt.Errorf("%w: stats: wrong size %d", ErrMalformedBlock, len(data))
	}
	return &BlockStats{
		MinVersion: int64(binary.BigEndian.Uint64(data[0:8])),
		MaxVersion: int64(binary.BigEndian.Uint64(data[8:16])),
		Count:      int64(binary.BigEndian.Uint64(data[16:24])),
		Checksum:   binary.BigEndian.Uint32(data[24:28]),
	}, nil
}
