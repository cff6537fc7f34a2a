package dmp

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"
)

// Direction classifies a request for statistics purposes
type Direction uint8

const (
	// DirNone marks requests that are forwarded but not counted (flush, discard)
	DirNone Direction = iota
	DirRead
	DirWrite
)

func (d Direction) String() string {
	switch d {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	default:
		return "none"
	}
}

// counterPair holds the request count and byte total of one direction.
// Both fields only change while mu is held.
type counterPair struct {
	mu    sync.Mutex
	count uint64
	bytes uint64
}

func (p *counterPair) add(size uint64) {
	p.mu.Lock()
	p.count++
	p.bytes += size
	p.mu.Unlock()
}

func (p *counterPair) load() (count, bytes uint64) {
	p.mu.Lock()
	count, bytes = p.count, p.bytes
	p.mu.Unlock()
	return count, bytes
}

// Stats is a named set of running I/O counters.
//
// Reads and writes are guarded by independent locks so that concurrent
// requests of opposite directions never serialize. Accessors that need both
// directions lock the read pair first and the write pair second; no other
// order is used anywhere in the package.
//
// A Stats is created by Namespace.Create and is reference counted: the
// namespace owns one reference, every Acquire adds one, and the counter is
// released when the last reference is dropped.
type Stats struct {
	name string

	rd counterPair
	_  cpu.CacheLinePad
	wr counterPair
	_  cpu.CacheLinePad

	ns       *Namespace
	refs     atomic.Int64
	released atomic.Bool
}

func newStats(name string) *Stats {
	return &Stats{name: name}
}

// Name returns the node name the counter is registered under
func (s *Stats) Name() string {
	return s.name
}

// Record accounts one request of the given direction and size.
// Requests with DirNone are ignored.
func (s *Stats) Record(dir Direction, size uint64) {
	switch dir {
	case DirRead:
		s.rd.add(size)
	case DirWrite:
		s.wr.add(size)
	}
}

// ReadReqs returns the number of recorded reads
func (s *Stats) ReadReqs() uint64 {
	n, _ := s.rd.load()
	return n
}

// WriteReqs returns the number of recorded writes
func (s *Stats) WriteReqs() uint64 {
	n, _ := s.wr.load()
	return n
}

// ReadAvgSize returns the average read size in bytes, 0 if nothing was read
func (s *Stats) ReadAvgSize() uint64 {
	return avg(s.rd.load())
}

// WriteAvgSize returns the average write size in bytes, 0 if nothing was written
func (s *Stats) WriteAvgSize() uint64 {
	return avg(s.wr.load())
}

// TotalReqs returns reads plus writes captured at one instant
func (s *Stats) TotalReqs() uint64 {
	return s.Snapshot().TotalReqs()
}

// TotalAvgSize returns the average size over both directions
func (s *Stats) TotalAvgSize() uint64 {
	return s.Snapshot().TotalAvgSize()
}

// Snapshot captures all four counters with both direction locks held
func (s *Stats) Snapshot() Snapshot {
	s.rd.mu.Lock()
	s.wr.mu.Lock()
	snap := Snapshot{
		Name:       s.name,
		ReadReqs:   s.rd.count,
		ReadBytes:  s.rd.bytes,
		WriteReqs:  s.wr.count,
		WriteBytes: s.wr.bytes,
	}
	s.wr.mu.Unlock()
	s.rd.mu.Unlock()
	return snap
}

// Release drops one reference. The namespace reference is dropped by
// Namespace.Destroy; readers drop the references they got from Acquire.
// Releasing a counter that has no references left is logged and ignored.
func (s *Stats) Release() {
	if s == nil {
		return
	}
	for {
		n := s.refs.Load()
		if n <= 0 {
			if s.ns != nil {
				s.ns.log.Warn("stats released too many times", zap.String("node", s.name))
			}
			return
		}
		if !s.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 {
			s.released.Store(true)
			if s.ns != nil {
				s.ns.released(s)
			}
		}
		return
	}
}

// Released reports whether the last reference has been dropped
func (s *Stats) Released() bool {
	return s.released.Load()
}

// Snapshot is a point-in-time copy of a Stats
type Snapshot struct {
	Name       string
	ReadReqs   uint64
	ReadBytes  uint64
	WriteReqs  uint64
	WriteBytes uint64
}

func (s Snapshot) TotalReqs() uint64    { return s.ReadReqs + s.WriteReqs }
func (s Snapshot) ReadAvgSize() uint64  { return avg(s.ReadReqs, s.ReadBytes) }
func (s Snapshot) WriteAvgSize() uint64 { return avg(s.WriteReqs, s.WriteBytes) }

func (s Snapshot) TotalAvgSize() uint64 {
	return avg(s.ReadReqs+s.WriteReqs, s.ReadBytes+s.WriteBytes)
}

func avg(count, bytes uint64) uint64 {
	if count == 0 {
		return 0
	}
	return bytes / count
}
