package dmp

import (
	"errors"

	"github.com/absfs/absfs"
	"golang.org/x/sys/unix"
)

// discard punches a hole when the device is backed by a host file
// descriptor. Filesystems and devices without hole support ignore it.
func discard(file absfs.File, off int64, length uint64) error {
	fder, ok := file.(interface{ Fd() uintptr })
	if !ok || length == 0 {
		return nil
	}

	err := unix.Fallocate(int(fder.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, int64(length))
	if errors.Is(err, unix.EOPNOTSUPP) {
		return nil
	}
	return err
}
