package dmp

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Statfs describes the statistics tree: no data blocks, one inode per
// node directory and attribute file plus the root.
func (n *rootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	if n.sfs.checkUnmounting() {
		return syscall.ENOTCONN
	}

	nodes := uint64(n.sfs.ns.Len())
	out.Blocks = 0
	out.Bfree = 0
	out.Bavail = 0
	out.Files = 1 + nodes*(1+uint64(numAttrs))
	out.Ffree = 0
	out.Bsize = 4096
	out.NameLen = 255
	out.Frsize = 4096

	return 0
}
