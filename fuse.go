package dmp

import (
	"sync/atomic"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

// StatFS serves a Namespace as a read-only FUSE tree:
//
//	<mountpoint>/<node>/read_reqs
//	<mountpoint>/<node>/write_reqs
//	...
//
// Every attribute read renders the live counter value.
type StatFS struct {
	// ns is the namespace being exposed
	ns *Namespace

	// opts contains mount options
	opts *MountOptions

	// server is the FUSE server instance, nil until the mount completes
	server atomic.Pointer[fuse.Server]

	// inodes assigns stable inode numbers to tree paths
	inodes *InodeManager

	// openHandles counts attribute files currently open
	openHandles atomic.Int64

	// unmounting indicates if the tree is being unmounted
	unmounting atomic.Bool

	// unsubscribe stops namespace event delivery
	unsubscribe func()

	log     *zap.Logger
	started time.Time

	root *rootNode
}

// rootNode lists one directory per namespace node
type rootNode struct {
	fs.Inode
	sfs *StatFS
}

// statsNode is the directory of one counter
type statsNode struct {
	fs.Inode
	sfs  *StatFS
	name string
}

// attrNode is one read-only attribute file
type attrNode struct {
	fs.Inode
	sfs  *StatFS
	node string
	attr Attr
}

// Ensure nodes implement required interfaces
var (
	_ fs.NodeLookuper  = (*rootNode)(nil)
	_ fs.NodeReaddirer = (*rootNode)(nil)
	_ fs.NodeGetattrer = (*rootNode)(nil)
	_ fs.NodeStatfser  = (*rootNode)(nil)
	_ fs.NodeAccesser  = (*rootNode)(nil)
	_ fs.NodeLookuper  = (*statsNode)(nil)
	_ fs.NodeReaddirer = (*statsNode)(nil)
	_ fs.NodeGetattrer = (*statsNode)(nil)
	_ fs.NodeAccesser  = (*statsNode)(nil)
	_ fs.NodeOpener    = (*attrNode)(nil)
	_ fs.NodeGetattrer = (*attrNode)(nil)
	_ fs.NodeSetattrer = (*attrNode)(nil)
	_ fs.NodeAccesser  = (*attrNode)(nil)
	_ fs.FileReader    = (*attrHandle)(nil)
	_ fs.FileWriter    = (*attrHandle)(nil)
	_ fs.FileReleaser  = (*attrHandle)(nil)
	_ fs.FileFlusher   = (*attrHandle)(nil)
	_ Notifier         = (*StatFS)(nil)
)

// newStatFS creates the tree for ns without mounting it
func newStatFS(ns *Namespace, opts *MountOptions) *StatFS {
	sfs := &StatFS{
		ns:      ns,
		opts:    opts,
		inodes:  NewInodeManager(),
		log:     orNop(opts.Logger).With(zap.String("mountpoint", opts.Mountpoint)),
		started: time.Now(),
	}
	sfs.root = &rootNode{sfs: sfs}
	return sfs
}

// Notify drops kernel and inode state for nodes leaving the namespace
func (f *StatFS) Notify(ev Event) error {
	if ev.Kind != EventRemove {
		return nil
	}

	f.inodes.Forget(ev.Node)
	if f.server.Load() != nil && !f.unmounting.Load() {
		// ENOENT just means the kernel never looked the entry up
		_ = f.root.NotifyEntry(ev.Node)
	}
	return nil
}

// OpenHandles returns the number of attribute files currently open
func (f *StatFS) OpenHandles() int {
	return int(f.openHandles.Load())
}

// checkUnmounting reports whether the tree is being unmounted
func (f *StatFS) checkUnmounting() bool {
	return f.unmounting.Load()
}
