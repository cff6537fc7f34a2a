package dmp

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventKind is the type of a namespace change notification
type EventKind uint8

const (
	EventAdd EventKind = iota + 1
	EventRemove
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event describes a node appearing in or leaving a namespace
type Event struct {
	Kind      EventKind
	Namespace string
	Node      string
}

// Notifier receives namespace events. An error returned for an EventAdd
// aborts the corresponding Create.
type Notifier interface {
	Notify(Event) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(Event) error

func (f NotifierFunc) Notify(ev Event) error { return f(ev) }

// Namespace is a flat set of uniquely named Stats nodes.
//
// It is the in-process exposition registry: the FUSE tree, the Prometheus
// collector and Show all read counters through it. All methods are safe for
// concurrent use.
type Namespace struct {
	name     string
	maxNodes int
	log      *zap.Logger

	notifyMu  sync.RWMutex
	notifiers []subscription
	nextSub   int

	mu     sync.RWMutex
	nodes  map[string]*Stats
	closed bool

	// live counts nodes created but not yet released
	liveMu sync.Mutex
	live   int
}

// NamespaceOption configures a Namespace
type NamespaceOption func(*Namespace)

// WithMaxNodes bounds the number of registered nodes; Create fails with
// ErrAllocation once it is reached. Zero means unbounded.
func WithMaxNodes(n int) NamespaceOption {
	return func(ns *Namespace) { ns.maxNodes = n }
}

// WithNotifier adds a receiver for add/remove events
func WithNotifier(n Notifier) NamespaceOption {
	return func(ns *Namespace) { ns.Subscribe(n) }
}

type subscription struct {
	id int
	n  Notifier
}

// WithLogger sets the namespace logger
func WithLogger(log *zap.Logger) NamespaceOption {
	return func(ns *Namespace) { ns.log = log }
}

// NewNamespace creates an empty namespace root
func NewNamespace(name string, opts ...NamespaceOption) *Namespace {
	ns := &Namespace{
		name:  name,
		nodes: make(map[string]*Stats),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ns)
	}
	ns.log = ns.log.With(zap.String("namespace", name))
	return ns
}

// Name returns the namespace root name
func (ns *Namespace) Name() string {
	return ns.name
}

// Create registers a zeroed counter under name and announces it to every
// notifier. On any failure nothing stays registered.
func (ns *Namespace) Create(name string) (*Stats, error) {
	if err := validNodeName(name); err != nil {
		return nil, fmt.Errorf("%s/%q: %w: %v", ns.name, name, ErrNamespaceRegistration, err)
	}

	s := newStats(name)
	s.ns = ns
	s.refs.Store(1)

	ns.mu.Lock()
	switch {
	case ns.closed:
		ns.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w: namespace closed", ns.name, name, ErrNamespaceRegistration)
	case ns.nodes[name] != nil:
		ns.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w: %w", ns.name, name, ErrNamespaceRegistration, os.ErrExist)
	case ns.maxNodes > 0 && len(ns.nodes) >= ns.maxNodes:
		ns.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w: %d nodes in use", ns.name, name, ErrAllocation, ns.maxNodes)
	}
	ns.nodes[name] = s
	ns.mu.Unlock()

	ns.liveMu.Lock()
	ns.live++
	ns.liveMu.Unlock()

	if err := ns.notify(Event{Kind: EventAdd, Namespace: ns.name, Node: name}); err != nil {
		ns.Destroy(s)
		return nil, fmt.Errorf("%s/%s: %w: %w", ns.name, name, ErrNamespaceRegistration, err)
	}

	ns.log.Debug("stats node created", zap.String("node", name))
	return s, nil
}

// Destroy unlinks s from the namespace and drops the namespace reference.
// The counter itself is released once outstanding readers call Release.
// A nil counter is ignored.
func (ns *Namespace) Destroy(s *Stats) {
	if s == nil {
		return
	}

	ns.mu.Lock()
	linked := ns.nodes[s.name] == s
	if linked {
		delete(ns.nodes, s.name)
	}
	ns.mu.Unlock()

	if !linked {
		return
	}

	if err := ns.notify(Event{Kind: EventRemove, Namespace: ns.name, Node: s.name}); err != nil {
		ns.log.Warn("remove notification failed", zap.String("node", s.name), zap.Error(err))
	}
	s.Release()
}

// Acquire returns the named counter with an extra reference held.
// The caller must Release it.
func (ns *Namespace) Acquire(name string) (*Stats, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	s := ns.nodes[name]
	if s == nil {
		return nil, false
	}
	s.refs.Add(1)
	return s, true
}

// Names returns the registered node names in sorted order
func (ns *Namespace) Names() []string {
	ns.mu.RLock()
	names := make([]string, 0, len(ns.nodes))
	for name := range ns.nodes {
		names = append(names, name)
	}
	ns.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered nodes
func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.nodes)
}

// Live returns the number of counters that have not been released yet,
// including unlinked ones still held by readers.
func (ns *Namespace) Live() int {
	ns.liveMu.Lock()
	defer ns.liveMu.Unlock()
	return ns.live
}

// Close destroys every remaining node and refuses further Creates
func (ns *Namespace) Close() {
	ns.mu.Lock()
	ns.closed = true
	nodes := make([]*Stats, 0, len(ns.nodes))
	for _, s := range ns.nodes {
		nodes = append(nodes, s)
	}
	ns.mu.Unlock()

	for _, s := range nodes {
		ns.Destroy(s)
	}
}

func (ns *Namespace) released(s *Stats) {
	ns.liveMu.Lock()
	ns.live--
	ns.liveMu.Unlock()

	ns.log.Debug("stats node released", zap.String("node", s.name))
}

// Subscribe adds a receiver for add/remove events. The returned function
// removes it again.
func (ns *Namespace) Subscribe(n Notifier) (cancel func()) {
	ns.notifyMu.Lock()
	ns.nextSub++
	id := ns.nextSub
	ns.notifiers = append(ns.notifiers, subscription{id: id, n: n})
	ns.notifyMu.Unlock()

	return func() {
		ns.notifyMu.Lock()
		defer ns.notifyMu.Unlock()
		for i, sub := range ns.notifiers {
			if sub.id == id {
				ns.notifiers = append(ns.notifiers[:i:i], ns.notifiers[i+1:]...)
				return
			}
		}
	}
}

func (ns *Namespace) notify(ev Event) error {
	ns.notifyMu.RLock()
	subs := ns.notifiers
	ns.notifyMu.RUnlock()

	var err error
	for _, sub := range subs {
		err = multierr.Append(err, sub.n.Notify(ev))
	}
	return err
}

func validNodeName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return errors.New("reserved name")
	case strings.ContainsAny(name, "/\x00"):
		return errors.New("name contains '/' or NUL")
	}
	return nil
}
