package dmp

import (
	"time"

	"go.uber.org/zap"
)

// Options configures a Module.
//
// Use DefaultOptions() to get sensible defaults, then customize as needed.
type Options struct {
	// Opener resolves device identifiers to handles
	Opener Opener

	// StatsRoot is the name of the namespace holding the counters
	StatsRoot string

	// MaxDevices bounds the number of per-device counters; 0 means unbounded
	MaxDevices int

	// Notifiers receive node add/remove events
	Notifiers []Notifier

	// Logger receives structured logs; nil disables logging
	Logger *zap.Logger
}

// DefaultOptions returns options that open host devices directly
func DefaultOptions() *Options {
	return &Options{
		Opener:    OSOpener{},
		StatsRoot: "stat",
		Logger:    zap.NewNop(),
	}
}

// MountOptions configures the FUSE mount of a statistics namespace.
//
// Use DefaultMountOptions() to get a set of sensible defaults.
type MountOptions struct {
	// Mountpoint is the directory where the tree will be mounted
	Mountpoint string

	// AllowOther allows other users to read the statistics
	// Requires 'user_allow_other' in /etc/fuse.conf on Linux
	AllowOther bool

	// UID/GID override file ownership
	UID uint32
	GID uint32

	// AttrTimeout sets attribute cache timeout
	AttrTimeout time.Duration

	// EntryTimeout sets directory entry cache timeout. Nodes come and go
	// with mapped devices, so keep it short.
	EntryTimeout time.Duration

	// FSName is the name shown in mount table
	FSName string

	// Options contains additional FUSE options
	Options []string

	// Debug enables go-fuse request tracing
	Debug bool

	// Logger receives structured logs; nil disables logging
	Logger *zap.Logger
}

// DefaultMountOptions returns mount options for a statistics tree.
//
// Default values:
//   - AttrTimeout: 1 second (attribute values are served with direct I/O
//     and are never cached)
//   - EntryTimeout: 1 second
//   - FSName: "dmp"
func DefaultMountOptions(mountpoint string) *MountOptions {
	return &MountOptions{
		Mountpoint:   mountpoint,
		AllowOther:   false,
		AttrTimeout:  1 * time.Second,
		EntryTimeout: 1 * time.Second,
		FSName:       "dmp",
		Debug:        false,
		Logger:       zap.NewNop(),
	}
}
