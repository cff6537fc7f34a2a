package dmp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// fuseMount is replaced in tests
var fuseMount = fs.Mount

// Mount serves ns read-only at opts.Mountpoint. The tree follows the
// namespace: nodes appear and disappear as counters are created and
// destroyed.
func Mount(ns *Namespace, opts *MountOptions) (*StatFS, error) {
	if opts == nil || opts.Mountpoint == "" {
		return nil, errors.New("mount: no mountpoint given")
	}
	if err := prepareMountpoint(opts.Mountpoint); err != nil {
		return nil, fmt.Errorf("mount %s: %w", opts.Mountpoint, err)
	}

	sfs := newStatFS(ns, opts)

	// Subscribe first so nodes destroyed while the kernel mount is in
	// progress are still forgotten.
	sfs.unsubscribe = ns.Subscribe(sfs)

	mopts := fuse.MountOptions{
		Name:          opts.FSName,
		FsName:        opts.FSName,
		Debug:         opts.Debug,
		AllowOther:    opts.AllowOther,
		Options:       append([]string{"ro"}, opts.Options...),
		MaxBackground: 12,
	}
	server, err := fuseMount(opts.Mountpoint, sfs.root, &fs.Options{
		MountOptions: mopts,
		AttrTimeout:  &opts.AttrTimeout,
		EntryTimeout: &opts.EntryTimeout,
		UID:          opts.UID,
		GID:          opts.GID,
	})
	if err != nil {
		sfs.unsubscribe()
		return nil, fmt.Errorf("mount %s: %w", opts.Mountpoint, err)
	}

	sfs.server.Store(server)

	sfs.log.Info("statistics tree mounted", zap.String("namespace", ns.Name()))
	return sfs, nil
}

// prepareMountpoint creates dir if needed and insists it is an empty
// directory that nothing is mounted on yet
func prepareMountpoint(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	mounted, err := IsMounted(dir)
	if err != nil {
		return err
	}
	if mounted {
		return errors.New("already a mountpoint")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return fmt.Errorf("not empty (%d entries)", len(entries))
	}
	return nil
}

// Unmount detaches the tree. Attribute files that are still open keep
// their counters until the kernel releases them.
func (f *StatFS) Unmount() error {
	if !f.unmounting.CompareAndSwap(false, true) {
		return nil
	}

	if f.unsubscribe != nil {
		f.unsubscribe()
	}
	f.inodes.Clear()

	server := f.server.Load()
	if server == nil {
		return nil
	}
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", f.opts.Mountpoint, err)
	}

	f.log.Info("statistics tree unmounted")
	return nil
}

// Wait blocks until the kernel drops the mount
func (f *StatFS) Wait() error {
	server := f.server.Load()
	if server == nil {
		return errors.New("statistics tree not mounted")
	}
	server.Wait()
	return nil
}

// IsMounted reports whether path is the root of a mounted filesystem,
// judged by its device number differing from its parent's.
func IsMounted(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	if abs == "/" {
		return true, nil
	}

	var self, parent unix.Stat_t
	if err := unix.Stat(abs, &self); err != nil {
		return false, &os.PathError{Op: "stat", Path: abs, Err: err}
	}
	if err := unix.Stat(filepath.Dir(abs), &parent); err != nil {
		return false, &os.PathError{Op: "stat", Path: filepath.Dir(abs), Err: err}
	}
	return self.Dev != parent.Dev, nil
}
