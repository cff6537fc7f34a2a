package dmp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/absfs/absfs"
)

// MaxIOSize is the largest request ReadAt, WriteAt and write-zeroes
// dispatch issue
const MaxIOSize = 128 * 1024

// MappedDevice is a named device whose requests are handled by a target
type MappedDevice struct {
	name   string
	tt     *TargetType
	ti     *Instance
	target Target

	// removing is guarded by the registry lock. The name stays taken until
	// the target is destroyed.
	removing bool

	// mu is held shared by Submit and exclusively by destroy, so a target
	// is never destroyed while a request is inside Map.
	mu      sync.RWMutex
	removed bool
}

// Interface guards
var (
	_ io.ReaderAt = (*MappedDevice)(nil)
	_ io.WriterAt = (*MappedDevice)(nil)
)

// Name returns the mapped device name
func (md *MappedDevice) Name() string { return md.name }

// TargetType returns the target type the device was built from
func (md *MappedDevice) TargetType() *TargetType { return md.tt }

// Target returns the constructed target
func (md *MappedDevice) Target() Target { return md.target }

// ReadOnly reports whether the device rejects writes
func (md *MappedDevice) ReadOnly() bool { return md.ti.readOnly }

// Submit passes req through the target and, when it is remapped, performs
// it against the device the target chose.
func (md *MappedDevice) Submit(ctx context.Context, req *Request) error {
	_, err := md.submit(ctx, req)
	return err
}

// submit is Submit reporting how many bytes of req.Data were transferred
func (md *MappedDevice) submit(ctx context.Context, req *Request) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	md.mu.RLock()
	defer md.mu.RUnlock()

	if md.removed {
		return 0, fmt.Errorf("%s: %w", md.name, ErrNoDevice)
	}
	if md.ti.readOnly && req.Op != OpRead && req.Op != OpFlush {
		return 0, &os.PathError{Op: req.Op.String(), Path: md.name, Err: syscall.EROFS}
	}

	switch md.target.Map(req) {
	case MapRemapped:
		return md.dispatch(req)
	case MapSubmitted:
		return len(req.Data), nil
	default:
		return 0, fmt.Errorf("%s: %s at %d: %w", md.name, req.Op, req.Offset, syscall.EIO)
	}
}

// ReadAt reads through the target in requests of at most MaxIOSize bytes
func (md *MappedDevice) ReadAt(p []byte, off int64) (int, error) {
	return md.split(OpRead, p, off)
}

// WriteAt writes through the target in requests of at most MaxIOSize bytes
func (md *MappedDevice) WriteAt(p []byte, off int64) (int, error) {
	return md.split(OpWrite, p, off)
}

// Sync submits a flush
func (md *MappedDevice) Sync() error {
	return md.Submit(context.Background(), &Request{Op: OpFlush})
}

// split returns the bytes actually transferred, including the part of a
// request that ran into the end of the device.
func (md *MappedDevice) split(op Op, p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		end := min(len(p), n+MaxIOSize)
		req := &Request{Op: op, Offset: off + int64(n), Data: p[n:end]}
		done, err := md.submit(context.Background(), req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n + done, io.EOF
			}
			return n + done, err
		}
		n = end
	}
	return n, nil
}

func (md *MappedDevice) dispatch(req *Request) (int, error) {
	dev := req.Device()
	if dev == nil {
		return 0, fmt.Errorf("%s: %s at %d: remapped without a device: %w", md.name, req.Op, req.Offset, syscall.EIO)
	}

	file := dev.File()
	var (
		n   int
		err error
	)
	switch req.Op {
	case OpRead:
		n, err = file.ReadAt(req.Data, req.Offset)
		if err == io.EOF && n == len(req.Data) {
			err = nil
		}
	case OpWrite:
		n, err = file.WriteAt(req.Data, req.Offset)
	case OpFlush:
		err = file.Sync()
	case OpWriteZeroes:
		err = writeZeroes(file, req.Offset, req.Length)
	case OpDiscard:
		err = discard(file, req.Offset, req.Length)
	default:
		err = syscall.EOPNOTSUPP
	}

	if err != nil {
		return n, fmt.Errorf("%s: %s %s at %d: %w", md.name, req.Op, dev.Path(), req.Offset, err)
	}
	return n, nil
}

func (md *MappedDevice) destroy() {
	md.mu.Lock()
	defer md.mu.Unlock()

	if md.removed {
		return
	}
	md.removed = true
	md.target.Destroy()
}

func writeZeroes(file absfs.File, off int64, length uint64) error {
	buf := GetBuffer(int(min(length, MaxIOSize)))
	defer PutBuffer(buf)
	clear(buf)

	for length > 0 {
		chunk := buf[:min(length, uint64(len(buf)))]
		if _, err := file.WriteAt(chunk, off); err != nil {
			return err
		}
		off += int64(len(chunk))
		length -= uint64(len(chunk))
	}
	return nil
}
