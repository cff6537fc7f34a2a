package dmp

import (
	"errors"
	"io"
	"os"
	"syscall"
)

var (
	// ErrInvalidArgument is returned when a target gets the wrong number of arguments
	ErrInvalidArgument = errors.New("invalid argument count")

	// ErrDeviceLookup is returned when the underlying device cannot be opened
	ErrDeviceLookup = errors.New("device lookup failed")

	// ErrAllocation is returned when a counter or context cannot be allocated
	ErrAllocation = errors.New("cannot allocate")

	// ErrNamespaceRegistration is returned when a node cannot be added to a namespace
	ErrNamespaceRegistration = errors.New("namespace registration failed")

	// ErrAttributeWriteRejected is returned for any write to a statistics attribute
	ErrAttributeWriteRejected = errors.New("statistics attributes are read-only")

	ErrTargetExists  = errors.New("target type already registered")
	ErrUnknownTarget = errors.New("unknown target type")
	ErrTargetBusy    = errors.New("target type in use")
	ErrDeviceExists  = errors.New("mapped device already exists")
	ErrNoDevice      = errors.New("no such mapped device")
)

// mapError translates package errors to errno values for the FUSE layer
func mapError(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, ErrAttributeWriteRejected):
		return syscall.EIO
	case errors.Is(err, ErrAllocation):
		return syscall.ENOMEM
	case errors.Is(err, ErrTargetExists), errors.Is(err, ErrDeviceExists):
		return syscall.EEXIST
	case errors.Is(err, ErrTargetBusy):
		return syscall.EBUSY
	case errors.Is(err, ErrNoDevice):
		return syscall.ENXIO
	case errors.Is(err, ErrUnknownTarget):
		return syscall.ENOENT
	}

	// Device lookup and registration failures carry the cause when there is one
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrClosed):
		return syscall.EBADF
	case errors.Is(err, os.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, io.EOF):
		return 0
	case errors.Is(err, ErrDeviceLookup):
		return syscall.ENODEV
	case errors.Is(err, ErrNamespaceRegistration):
		return syscall.ENOMEM
	}

	return syscall.EIO
}
