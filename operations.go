package dmp

import (
	"context"
	"os"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// attrFileSize is the size reported for attribute files, as sysfs does.
// Reads use direct I/O so the real content length is what gets returned.
const attrFileSize = 4096

// Lookup resolves a namespace node
func (n *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.sfs.checkUnmounting() {
		return nil, syscall.ENOTCONN
	}

	if !n.sfs.nodeExists(name) {
		return nil, syscall.ENOENT
	}

	ino := n.sfs.inodes.Ino(nodePath(name))
	n.sfs.fillDirAttr(&out.Attr, ino)
	out.SetEntryTimeout(n.sfs.opts.EntryTimeout)
	out.SetAttrTimeout(n.sfs.opts.AttrTimeout)

	child := &statsNode{sfs: n.sfs, name: name}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: ino}), 0
}

// Readdir lists namespace nodes
func (n *rootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if n.sfs.checkUnmounting() {
		return nil, syscall.ENOTCONN
	}

	names := n.sfs.ns.Names()
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Ino:  n.sfs.inodes.Ino(nodePath(name)),
			Mode: syscall.S_IFDIR,
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Getattr reports the root directory
func (n *rootNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.sfs.fillDirAttr(&out.Attr, n.sfs.inodes.Ino("/"))
	out.SetTimeout(n.sfs.opts.AttrTimeout)
	return 0
}

// Lookup resolves an attribute file
func (n *statsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.sfs.checkUnmounting() {
		return nil, syscall.ENOTCONN
	}

	attr, ok := ParseAttr(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	if !n.exists() {
		return nil, syscall.ENOENT
	}

	ino := n.sfs.inodes.Ino(attrPath(n.name, attr))
	n.sfs.fillFileAttr(&out.Attr, ino)
	out.SetEntryTimeout(n.sfs.opts.EntryTimeout)
	out.SetAttrTimeout(n.sfs.opts.AttrTimeout)

	child := &attrNode{sfs: n.sfs, node: n.name, attr: attr}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG, Ino: ino}), 0
}

// Readdir lists the attributes of a node
func (n *statsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if n.sfs.checkUnmounting() {
		return nil, syscall.ENOTCONN
	}
	if !n.exists() {
		return nil, syscall.ENOENT
	}

	attrs := Attrs()
	entries := make([]fuse.DirEntry, 0, len(attrs))
	for _, attr := range attrs {
		entries = append(entries, fuse.DirEntry{
			Name: attr.String(),
			Ino:  n.sfs.inodes.Ino(attrPath(n.name, attr)),
			Mode: syscall.S_IFREG,
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Getattr reports the node directory, or ENOENT once the node is gone
func (n *statsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if !n.exists() {
		return syscall.ENOENT
	}
	n.sfs.fillDirAttr(&out.Attr, n.sfs.inodes.Ino(nodePath(n.name)))
	out.SetTimeout(n.sfs.opts.AttrTimeout)
	return 0
}

func (n *statsNode) exists() bool {
	return n.sfs.nodeExists(n.name)
}

// Open pins the counter for the lifetime of the handle. Opening for
// writing is allowed, as on sysfs; the write itself fails.
func (n *attrNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.sfs.checkUnmounting() {
		return nil, 0, syscall.ENOTCONN
	}

	s, ok := n.sfs.ns.Acquire(n.node)
	if !ok {
		return nil, 0, syscall.ENOENT
	}

	n.sfs.openHandles.Add(1)
	return &attrHandle{sfs: n.sfs, stats: s, attr: n.attr}, fuse.FOPEN_DIRECT_IO, 0
}

// Getattr reports a read-only regular file
func (n *attrNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	// an open handle keeps the counter readable after its node is removed
	if _, open := f.(*attrHandle); !open && !n.sfs.nodeExists(n.node) {
		return syscall.ENOENT
	}
	n.sfs.fillFileAttr(&out.Attr, n.sfs.inodes.Ino(attrPath(n.node, n.attr)))
	out.SetTimeout(n.sfs.opts.AttrTimeout)
	return 0
}

// Setattr rejects truncation through the attribute store path and every
// other change with EPERM
func (n *attrNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if _, ok := in.GetSize(); ok {
		s, found := n.sfs.ns.Acquire(n.node)
		if !found {
			return syscall.ENOENT
		}
		defer s.Release()
		return mapError(Store(s, n.attr, nil))
	}
	return syscall.EPERM
}

// attrHandle is an open attribute file holding a counter reference
type attrHandle struct {
	sfs   *StatFS
	stats *Stats
	attr  Attr
}

// Read renders the current value
func (h *attrHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	content := Show(h.stats, h.attr)
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	n := copy(dest, content[off:])
	return fuse.ReadResultData(dest[:n]), 0
}

// Write always fails; statistics are read-only
func (h *attrHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	return 0, mapError(Store(h.stats, h.attr, data))
}

// Flush has nothing to flush
func (h *attrHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release drops the counter reference taken by Open
func (h *attrHandle) Release(ctx context.Context) syscall.Errno {
	if h.stats != nil {
		h.stats.Release()
		h.stats = nil
		h.sfs.openHandles.Add(-1)
	}
	return 0
}

// fillDirAttr fills attributes for a read-only directory
func (f *StatFS) fillDirAttr(attr *fuse.Attr, ino uint64) {
	attr.Ino = ino
	attr.Mode = syscall.S_IFDIR | 0555
	attr.Nlink = 2
	f.fillCommonAttr(attr)
}

// fillFileAttr fills attributes for a read-only attribute file
func (f *StatFS) fillFileAttr(attr *fuse.Attr, ino uint64) {
	attr.Ino = ino
	attr.Mode = syscall.S_IFREG | 0444
	attr.Nlink = 1
	attr.Size = attrFileSize
	attr.Blocks = (attr.Size + 511) / 512
	f.fillCommonAttr(attr)
}

func (f *StatFS) fillCommonAttr(attr *fuse.Attr) {
	attr.Mtime = uint64(f.started.Unix())
	attr.Mtimensec = uint32(f.started.Nanosecond())
	attr.Ctime = attr.Mtime
	attr.Ctimensec = attr.Mtimensec
	attr.Blksize = 4096

	// Set UID/GID from options if provided
	if f.opts.UID != 0 {
		attr.Uid = f.opts.UID
	} else {
		attr.Uid = uint32(os.Getuid())
	}

	if f.opts.GID != 0 {
		attr.Gid = f.opts.GID
	} else {
		attr.Gid = uint32(os.Getgid())
	}
}

func (f *StatFS) nodeExists(name string) bool {
	s, ok := f.ns.Acquire(name)
	if ok {
		s.Release()
	}
	return ok
}

func nodePath(node string) string {
	return path.Join("/", node)
}

func attrPath(node string, attr Attr) string {
	return path.Join("/", node, attr.String())
}
