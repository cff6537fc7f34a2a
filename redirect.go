package dmp

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// TargetName and TargetVersion identify the passthrough target type
const TargetName = "dmp"

var TargetVersion = [3]uint32{1, 0, 0}

// State is the lifecycle state of a Redirect
type State uint32

const (
	StateUninitialized State = iota
	StateActive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Redirect is the passthrough target: it forwards every request unchanged
// to one underlying device and records reads and writes in its own
// counter and in the shared global counter.
//
// The per-device counter belongs to the Redirect and is destroyed with it.
// The global counter is only borrowed; its owner outlives every Redirect.
type Redirect struct {
	ti     *Instance
	ns     *Namespace
	dev    *Device
	stats  *Stats
	global *Stats
	log    *zap.Logger

	state atomic.Uint32
}

// NewRedirect constructs a passthrough target. args must hold exactly the
// underlying device path. The counter is registered in ns under the mapped
// device name, or the device base name when the instance is unnamed.
// Anything acquired before a failure is released before returning.
func NewRedirect(ti *Instance, ns *Namespace, global *Stats, args []string) (*Redirect, error) {
	if len(args) != 1 {
		ti.Error = "Invalid argument count"
		return nil, fmt.Errorf("%w: got %d, want 1", ErrInvalidArgument, len(args))
	}

	dev, err := ti.GetDevice(args[0])
	if err != nil {
		ti.Error = "Device lookup failed"
		return nil, err
	}

	name := ti.Name
	if name == "" {
		name = dev.Name()
	}

	stats, err := ns.Create(name)
	if err != nil {
		ti.Error = "Cannot allocate stats"
		if perr := ti.PutDevice(dev); perr != nil {
			return nil, fmt.Errorf("%w (put device: %v)", err, perr)
		}
		return nil, err
	}

	r := &Redirect{
		ti:     ti,
		ns:     ns,
		dev:    dev,
		stats:  stats,
		global: global,
		log:    ns.log.With(zap.String("node", name), zap.String("device", dev.Path())),
	}
	r.state.Store(uint32(StateActive))
	return r, nil
}

// NewTargetType returns the dmp target type wired to a namespace and the
// global counter
func NewTargetType(ns *Namespace, global *Stats) *TargetType {
	return &TargetType{
		Name:    TargetName,
		Version: TargetVersion,
		New: func(ti *Instance, args []string) (Target, error) {
			return NewRedirect(ti, ns, global, args)
		},
	}
}

// Map records the request and retargets it at the underlying device
func (r *Redirect) Map(req *Request) MapResult {
	if dir := req.Op.Direction(); dir != DirNone {
		size := req.Size()
		r.stats.Record(dir, size)
		r.global.Record(dir, size)
	}

	req.SetDevice(r.dev)
	return MapRemapped
}

// Destroy removes the counter from the namespace and releases the device
func (r *Redirect) Destroy() {
	if !r.state.CompareAndSwap(uint32(StateActive), uint32(StateDestroyed)) {
		return
	}

	r.ns.Destroy(r.stats)
	if err := r.ti.PutDevice(r.dev); err != nil {
		r.log.Warn("releasing underlying device", zap.Error(err))
	}
}

// Stats returns the per-device counter
func (r *Redirect) Stats() *Stats { return r.stats }

// Device returns the underlying device
func (r *Redirect) Device() *Device { return r.dev }

// State returns the lifecycle state
func (r *Redirect) State() State { return State(r.state.Load()) }

var _ Target = (*Redirect)(nil)
