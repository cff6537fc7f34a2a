package dmp

import (
	"strings"
	"sync"
)

// rootIno is the inode number of the tree root
const rootIno = 1

// InodeManager assigns stable inode numbers to paths in the statistics
// tree. A path keeps its number until it is forgotten, so a node that is
// removed and created again gets a fresh one.
type InodeManager struct {
	mu          sync.Mutex
	pathToInode map[string]uint64
	nextInode   uint64
}

// NewInodeManager creates a manager with the root already allocated
func NewInodeManager() *InodeManager {
	return &InodeManager{
		pathToInode: map[string]uint64{"/": rootIno},
		nextInode:   rootIno,
	}
}

// Ino returns the inode number for path, allocating one if needed
func (im *InodeManager) Ino(path string) uint64 {
	im.mu.Lock()
	defer im.mu.Unlock()

	if ino, ok := im.pathToInode[path]; ok {
		return ino
	}

	im.nextInode++
	im.pathToInode[path] = im.nextInode
	return im.nextInode
}

// Forget drops the inode numbers of a node directory and its attributes
func (im *InodeManager) Forget(node string) {
	im.mu.Lock()
	defer im.mu.Unlock()

	dir := nodePath(node)
	for p := range im.pathToInode {
		if p == dir || strings.HasPrefix(p, dir+"/") {
			delete(im.pathToInode, p)
		}
	}
}

// Len returns the number of allocated paths, the root included
func (im *InodeManager) Len() int {
	im.mu.Lock()
	defer im.mu.Unlock()

	return len(im.pathToInode)
}

// Clear forgets everything but the root
func (im *InodeManager) Clear() {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.pathToInode = map[string]uint64{"/": rootIno}
}
