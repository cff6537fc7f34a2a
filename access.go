package dmp

import (
	"context"
	"syscall"
)

// Access constants for checking file permissions
const (
	F_OK = 0 // Test for existence
	X_OK = 1 // Test for execute permission
	W_OK = 2 // Test for write permission
	R_OK = 4 // Test for read permission
)

// Access implements access(2) for the statistics tree.
//
// Everything is readable, directories are searchable, and nothing is
// writable, regardless of the caller. A node that has left the namespace
// no longer exists.
func (n *rootNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	if n.sfs.checkUnmounting() {
		return syscall.ENOTCONN
	}
	return checkAccess(mask, true)
}

func (n *statsNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	if n.sfs.checkUnmounting() {
		return syscall.ENOTCONN
	}
	if !n.exists() {
		return syscall.ENOENT
	}
	return checkAccess(mask, true)
}

func (n *attrNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	if n.sfs.checkUnmounting() {
		return syscall.ENOTCONN
	}
	if !n.sfs.nodeExists(n.node) {
		return syscall.ENOENT
	}
	return checkAccess(mask, false)
}

// checkAccess applies mode 0555 for directories and 0444 for files
func checkAccess(mask uint32, dir bool) syscall.Errno {
	if mask&W_OK != 0 {
		return syscall.EACCES
	}
	if mask&X_OK != 0 && !dir {
		return syscall.EACCES
	}
	return 0
}
