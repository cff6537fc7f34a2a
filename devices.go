package dmp

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/absfs/absfs"
	"go.uber.org/multierr"
)

// Opener opens underlying devices. It is the OpenFile subset of
// absfs.FileSystem, so any absfs filesystem can back a Devices table.
type Opener interface {
	OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error)
}

// Device is a shared, reference-counted handle to an underlying device
type Device struct {
	path string
	mode int
	file absfs.File

	// refs is guarded by the owning Devices.mu
	refs int32
}

// Path returns the identifier the device was opened with
func (d *Device) Path() string { return d.path }

// Name returns the last element of the device path
func (d *Device) Name() string { return filepath.Base(d.path) }

// Mode returns the open flags (os.O_RDONLY or os.O_RDWR)
func (d *Device) Mode() int { return d.mode }

// File returns the open handle requests are dispatched to
func (d *Device) File() absfs.File { return d.file }

type deviceKey struct {
	path string
	mode int
}

// Devices manages open underlying devices.
//
// It provides:
//   - Sharing of one handle between all users of the same path and mode
//   - Reference counting with close on last Put
//   - Bulk cleanup on shutdown
//
// All methods are thread-safe and can be called concurrently.
type Devices struct {
	mu     sync.Mutex
	opener Opener
	open   map[deviceKey]*Device
}

// NewDevices creates a device table that opens devices through opener
func NewDevices(opener Opener) *Devices {
	return &Devices{
		opener: opener,
		open:   make(map[deviceKey]*Device),
	}
}

// Get opens path with the given mode, or takes another reference on an
// already open handle. Failures wrap ErrDeviceLookup.
func (ds *Devices) Get(path string, mode int) (*Device, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty device path", ErrDeviceLookup)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	key := deviceKey{path: path, mode: mode}
	if dev := ds.open[key]; dev != nil {
		dev.refs++
		return dev, nil
	}

	file, err := ds.opener.OpenFile(path, mode, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceLookup, path, err)
	}

	dev := &Device{
		path: path,
		mode: mode,
		file: file,
		refs: 1,
	}
	ds.open[key] = dev
	return dev, nil
}

// Put drops a reference and closes the device when it was the last one
func (ds *Devices) Put(dev *Device) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	key := deviceKey{path: dev.path, mode: dev.mode}
	if ds.open[key] != dev {
		return fmt.Errorf("put %s: %w", dev.path, os.ErrClosed)
	}

	dev.refs--
	if dev.refs > 0 {
		return nil
	}

	delete(ds.open, key)
	if err := dev.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dev.path, err)
	}
	return nil
}

// CloseAll closes every open device regardless of outstanding references
func (ds *Devices) CloseAll() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var err error
	for key, dev := range ds.open {
		err = multierr.Append(err, dev.file.Close())
		delete(ds.open, key)
	}
	return err
}

// Count returns the number of open device handles
func (ds *Devices) Count() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	return len(ds.open)
}
