package dmp

import (
	"os"
	"path/filepath"

	"github.com/absfs/absfs"
	"golang.org/x/sys/unix"
)

// OSOpener opens host block devices and regular (image) files.
// Paths are resolved relative to Root when it is set.
type OSOpener struct {
	Root string
}

// OpenFile opens name and verifies it is something requests can be
// dispatched to. Directories, sockets and character devices fail with
// ENOTBLK.
func (o OSOpener) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	f, err := os.OpenFile(o.path(name), flag, perm)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, &os.PathError{Op: "fstat", Path: name, Err: err}
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK, unix.S_IFREG:
		return f, nil
	default:
		f.Close()
		return nil, &os.PathError{Op: "open", Path: name, Err: unix.ENOTBLK}
	}
}

func (o OSOpener) path(name string) string {
	if o.Root == "" || o.Root == "/" {
		return name
	}
	return filepath.Join(o.Root, name)
}
