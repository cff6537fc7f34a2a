// Package dmp implements a passthrough block redirection target that keeps
// live read/write statistics per device and across all devices.
//
// A Module ties the pieces together: a Registry of target types and mapped
// devices, a Namespace of counters (with the permanent "all" node for the
// global aggregate), and a Devices table of open underlying devices.
package dmp

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// GlobalNode is the name of the counter aggregating every device
const GlobalNode = "all"

// Module owns the global counter and everything built around it
type Module struct {
	opts     *Options
	log      *zap.Logger
	ns       *Namespace
	global   *Stats
	devices  *Devices
	registry *Registry
}

// Load creates the statistics namespace and the global counter and
// registers the dmp target type. nil opts means DefaultOptions().
func Load(opts *Options) (*Module, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Opener == nil {
		return nil, fmt.Errorf("load: opener cannot be nil")
	}
	root := opts.StatsRoot
	if root == "" {
		root = "stat"
	}
	log := orNop(opts.Logger)

	nsOpts := []NamespaceOption{WithLogger(log)}
	if opts.MaxDevices > 0 {
		// the global node takes one slot
		nsOpts = append(nsOpts, WithMaxNodes(opts.MaxDevices+1))
	}
	for _, n := range opts.Notifiers {
		nsOpts = append(nsOpts, WithNotifier(n))
	}
	ns := NewNamespace(root, nsOpts...)

	global, err := ns.Create(GlobalNode)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("load: %w", err)
	}

	devices := NewDevices(opts.Opener)
	registry := NewRegistry(devices, log)
	if err := registry.Register(NewTargetType(ns, global)); err != nil {
		ns.Close()
		return nil, fmt.Errorf("load: %w", err)
	}

	log.Info("module loaded", zap.String("stats_root", root))
	return &Module{
		opts:     opts,
		log:      log,
		ns:       ns,
		global:   global,
		devices:  devices,
		registry: registry,
	}, nil
}

// Create maps a new passthrough device called name over devicePath
func (m *Module) Create(ctx context.Context, name, devicePath string, readOnly bool) (*MappedDevice, error) {
	return m.registry.Create(ctx, name, TargetName, []string{devicePath}, readOnly)
}

// Remove tears down the mapped device called name
func (m *Module) Remove(name string) error {
	return m.registry.Remove(name)
}

// Close removes every mapped device, unregisters the target and destroys
// the global counter. Counters still held by readers are released when
// those readers let go.
func (m *Module) Close() error {
	err := m.registry.Close()
	err = multierr.Append(err, m.registry.Unregister(TargetName))

	m.ns.Destroy(m.global)
	m.ns.Close()

	if n := m.devices.Count(); n > 0 {
		m.log.Warn("closing leaked device handles", zap.Int("count", n))
		err = multierr.Append(err, m.devices.CloseAll())
	}

	m.log.Info("module unloaded")
	return err
}

// Namespace returns the statistics namespace
func (m *Module) Namespace() *Namespace { return m.ns }

// Global returns the counter aggregating all devices
func (m *Module) Global() *Stats { return m.global }

// Registry returns the target registry
func (m *Module) Registry() *Registry { return m.registry }

// Devices returns the table of open underlying devices
func (m *Module) Devices() *Devices { return m.devices }

// Logger returns the module logger
func (m *Module) Logger() *zap.Logger { return m.log }
