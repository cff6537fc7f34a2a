package dmp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Target is a constructed target instance bound to one mapped device
type Target interface {
	// Map handles one request. It may retarget the request with
	// Request.SetDevice and return MapRemapped.
	Map(req *Request) MapResult

	// Destroy releases everything the constructor acquired. It is called
	// exactly once, after all in-flight requests have drained.
	Destroy()
}

// Constructor builds a Target from its table arguments. On failure it
// should leave a human-readable reason in ti.Error.
type Constructor func(ti *Instance, args []string) (Target, error)

// TargetType is a named, versioned target implementation
type TargetType struct {
	Name    string
	Version [3]uint32
	New     Constructor
}

// Instance is the context a target constructor runs in
type Instance struct {
	// Name is the mapped device name
	Name string

	// Error holds the constructor's reason for failing
	Error string

	readOnly bool
	devices  *Devices
}

// Mode returns the open mode for underlying devices
func (ti *Instance) Mode() int {
	if ti.readOnly {
		return os.O_RDONLY
	}
	return os.O_RDWR
}

// GetDevice opens or shares the underlying device at path
func (ti *Instance) GetDevice(path string) (*Device, error) {
	return ti.devices.Get(path, ti.Mode())
}

// PutDevice releases a device obtained from GetDevice
func (ti *Instance) PutDevice(dev *Device) error {
	return ti.devices.Put(dev)
}

// Registry holds the registered target types and the mapped devices built
// from them.
type Registry struct {
	devices *Devices
	log     *zap.Logger

	mu     sync.Mutex
	types  map[string]*TargetType
	mapped map[string]*MappedDevice
}

// NewRegistry creates a registry whose targets open devices from devices
func NewRegistry(devices *Devices, log *zap.Logger) *Registry {
	return &Registry{
		devices: devices,
		log:     orNop(log),
		types:   make(map[string]*TargetType),
		mapped:  make(map[string]*MappedDevice),
	}
}

// Register makes a target type available to Create
func (r *Registry) Register(tt *TargetType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.types[tt.Name] != nil {
		return fmt.Errorf("register %s: %w", tt.Name, ErrTargetExists)
	}
	r.types[tt.Name] = tt

	r.log.Info("target registered", zap.String("target", tt.Name),
		zap.String("version", versionString(tt.Version)))
	return nil
}

// Unregister removes a target type. It fails while any mapped device
// still uses it.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.types[name] == nil {
		return fmt.Errorf("unregister %s: %w", name, ErrUnknownTarget)
	}
	for _, md := range r.mapped {
		if md.tt.Name == name {
			return fmt.Errorf("unregister %s: %w: used by %s", name, ErrTargetBusy, md.name)
		}
	}
	delete(r.types, name)

	r.log.Info("target unregistered", zap.String("target", name))
	return nil
}

// Create constructs a mapped device named name backed by target type typ
func (r *Registry) Create(ctx context.Context, name, typ string, args []string, readOnly bool) (*MappedDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mapped[name] != nil {
		return nil, fmt.Errorf("create %s: %w", name, ErrDeviceExists)
	}
	tt := r.types[typ]
	if tt == nil {
		return nil, fmt.Errorf("create %s: %w: %s", name, ErrUnknownTarget, typ)
	}

	ti := &Instance{
		Name:     name,
		readOnly: readOnly,
		devices:  r.devices,
	}
	target, err := tt.New(ti, args)
	if err != nil {
		r.log.Warn("target constructor failed",
			zap.String("device", name),
			zap.String("target", typ),
			zap.Strings("args", args),
			zap.String("reason", ti.Error),
			zap.Error(err))
		if ti.Error != "" {
			return nil, fmt.Errorf("create %s: %s: %s: %w", name, typ, ti.Error, err)
		}
		return nil, fmt.Errorf("create %s: %s: %w", name, typ, err)
	}

	md := &MappedDevice{
		name:   name,
		tt:     tt,
		ti:     ti,
		target: target,
	}
	r.mapped[name] = md

	r.log.Info("mapped device created",
		zap.String("device", name),
		zap.String("target", typ),
		zap.Strings("args", args),
		zap.Bool("read_only", readOnly))
	return md, nil
}

// Get returns the mapped device called name
func (r *Registry) Get(name string) (*MappedDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	md := r.mapped[name]
	if md == nil || md.removing {
		return nil, false
	}
	return md, true
}

// Names returns the mapped device names in sorted order
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.mapped))
	for name, md := range r.mapped {
		if !md.removing {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Remove suspends the mapped device, waits for in-flight requests and
// destroys its target. The name cannot be reused until Remove returns.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	md := r.mapped[name]
	if md == nil || md.removing {
		r.mu.Unlock()
		return fmt.Errorf("remove %s: %w", name, ErrNoDevice)
	}
	md.removing = true
	r.mu.Unlock()

	md.destroy()

	r.mu.Lock()
	delete(r.mapped, name)
	r.mu.Unlock()

	r.log.Info("mapped device removed", zap.String("device", name))
	return nil
}

// Close removes every mapped device
func (r *Registry) Close() error {
	var err error
	for _, name := range r.Names() {
		err = multierr.Append(err, r.Remove(name))
	}
	return err
}

func versionString(v [3]uint32) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}
