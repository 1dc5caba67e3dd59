//go:build unix || linux || darwin

// mmap(2)/munmap(2)/msync(2) via golang.org/x/sys/unix
// (PROT_READ|PROT_WRITE, MAP_SHARED), preferred over stdlib syscall
// for the wider and more actively maintained platform coverage within
// the unix family.
package triadb

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmapFile(f *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

func msyncFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}
