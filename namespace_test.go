package dmp

import (
	"errors"
	"os"
	"sync"
	"testing"
)

// recorder collects namespace events
type recorder struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func (r *recorder) Notify(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if ev.Kind == EventAdd {
		return r.fail
	}
	return nil
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestNamespace_CreateDestroy(t *testing.T) {
	rec := &recorder{}
	ns := NewNamespace("stat", WithNotifier(rec))

	s, err := ns.Create("sdb")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Name() != "sdb" {
		t.Errorf("Name() = %q, want %q", s.Name(), "sdb")
	}
	if ns.Len() != 1 || ns.Live() != 1 {
		t.Errorf("Len() = %d, Live() = %d, want 1, 1", ns.Len(), ns.Live())
	}

	ns.Destroy(s)
	if ns.Len() != 0 || ns.Live() != 0 {
		t.Errorf("after Destroy Len() = %d, Live() = %d, want 0, 0", ns.Len(), ns.Live())
	}
	if !s.Released() {
		t.Error("counter not released after Destroy")
	}

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != EventAdd || kinds[1] != EventRemove {
		t.Errorf("events = %v, want [add remove]", kinds)
	}
}

func TestNamespace_CreateErrors(t *testing.T) {
	ns := NewNamespace("stat")
	if _, err := ns.Create("sdb"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tests := []struct {
		name  string
		node  string
		cause error
	}{
		{"duplicate", "sdb", os.ErrExist},
		{"empty", "", nil},
		{"dot", ".", nil},
		{"dotdot", "..", nil},
		{"slash", "a/b", nil},
		{"nul", "a\x00b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ns.Create(tt.node)
			if s != nil {
				t.Errorf("Create(%q) returned a counter", tt.node)
			}
			if !errors.Is(err, ErrNamespaceRegistration) {
				t.Errorf("Create(%q) error = %v, want ErrNamespaceRegistration", tt.node, err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("Create(%q) error = %v, want cause %v", tt.node, err, tt.cause)
			}
		})
	}

	if ns.Len() != 1 || ns.Live() != 1 {
		t.Errorf("Len() = %d, Live() = %d, want 1, 1", ns.Len(), ns.Live())
	}
}

func TestNamespace_MaxNodes(t *testing.T) {
	ns := NewNamespace("stat", WithMaxNodes(2))

	for _, name := range []string{"a", "b"} {
		if _, err := ns.Create(name); err != nil {
			t.Fatalf("Create(%q) failed: %v", name, err)
		}
	}

	if _, err := ns.Create("c"); !errors.Is(err, ErrAllocation) {
		t.Errorf("Create over limit error = %v, want ErrAllocation", err)
	}
	if ns.Live() != 2 {
		t.Errorf("Live() = %d, want 2", ns.Live())
	}
}

func TestNamespace_NotifierFailureUnwinds(t *testing.T) {
	boom := errors.New("uevent failed")
	rec := &recorder{fail: boom}
	ns := NewNamespace("stat", WithNotifier(rec))

	s, err := ns.Create("sdb")
	if s != nil {
		t.Error("Create returned a counter despite notifier failure")
	}
	if !errors.Is(err, ErrNamespaceRegistration) || !errors.Is(err, boom) {
		t.Errorf("Create error = %v, want ErrNamespaceRegistration wrapping %v", err, boom)
	}
	if ns.Len() != 0 || ns.Live() != 0 {
		t.Errorf("Len() = %d, Live() = %d, want 0, 0", ns.Len(), ns.Live())
	}

	// the name is free again
	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()
	if _, err := ns.Create("sdb"); err != nil {
		t.Errorf("Create after unwind failed: %v", err)
	}
}

func TestNamespace_AcquireDefersRelease(t *testing.T) {
	ns := NewNamespace("stat")
	s, err := ns.Create("sdb")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	held, ok := ns.Acquire("sdb")
	if !ok || held != s {
		t.Fatalf("Acquire(%q) = %p, %v, want %p, true", "sdb", held, ok, s)
	}

	ns.Destroy(s)
	if _, ok := ns.Acquire("sdb"); ok {
		t.Error("Acquire succeeded after Destroy")
	}
	if s.Released() {
		t.Error("counter released while a reader holds it")
	}
	if ns.Live() != 1 {
		t.Errorf("Live() = %d, want 1", ns.Live())
	}

	// readers still see the last values
	s.Record(DirRead, 1)
	if held.ReadReqs() != 1 {
		t.Errorf("ReadReqs() = %d, want 1", held.ReadReqs())
	}

	held.Release()
	if !s.Released() {
		t.Error("counter not released after last reader")
	}
	if ns.Live() != 0 {
		t.Errorf("Live() = %d, want 0", ns.Live())
	}
}

func TestNamespace_DestroyNilAndStale(t *testing.T) {
	ns := NewNamespace("stat")
	ns.Destroy(nil)

	s, err := ns.Create("sdb")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ns.Destroy(s)
	// a second Destroy of the same counter is ignored
	ns.Destroy(s)

	if ns.Live() != 0 {
		t.Errorf("Live() = %d, want 0", ns.Live())
	}
}

func TestNamespace_Names(t *testing.T) {
	ns := NewNamespace("stat")
	for _, name := range []string{"sdc", "all", "sdb"} {
		if _, err := ns.Create(name); err != nil {
			t.Fatalf("Create(%q) failed: %v", name, err)
		}
	}

	names := ns.Names()
	want := []string{"all", "sdb", "sdc"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestNamespace_Close(t *testing.T) {
	rec := &recorder{}
	ns := NewNamespace("stat", WithNotifier(rec))
	for _, name := range []string{"a", "b"} {
		if _, err := ns.Create(name); err != nil {
			t.Fatalf("Create(%q) failed: %v", name, err)
		}
	}

	ns.Close()
	if ns.Len() != 0 || ns.Live() != 0 {
		t.Errorf("Len() = %d, Live() = %d, want 0, 0", ns.Len(), ns.Live())
	}
	if _, err := ns.Create("c"); !errors.Is(err, ErrNamespaceRegistration) {
		t.Errorf("Create after Close error = %v, want ErrNamespaceRegistration", err)
	}

	removes := 0
	for _, k := range rec.kinds() {
		if k == EventRemove {
			removes++
		}
	}
	if removes != 2 {
		t.Errorf("remove events = %d, want 2", removes)
	}
}

func TestNamespace_SubscribeCancel(t *testing.T) {
	ns := NewNamespace("stat")

	var events int
	cancel := ns.Subscribe(NotifierFunc(func(Event) error {
		events++
		return nil
	}))

	s, err := ns.Create("a")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	cancel()
	ns.Destroy(s)

	if events != 1 {
		t.Errorf("events = %d, want 1", events)
	}
}

func TestNamespace_ConcurrentCreateDestroy(t *testing.T) {
	ns := NewNamespace("stat")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := string(rune('a' + id))
			for j := 0; j < 200; j++ {
				s, err := ns.Create(name)
				if err != nil {
					t.Errorf("Create(%q) failed: %v", name, err)
					return
				}
				if r, ok := ns.Acquire(name); ok {
					r.Release()
				}
				ns.Destroy(s)
			}
		}(i)
	}
	wg.Wait()

	if ns.Len() != 0 || ns.Live() != 0 {
		t.Errorf("Len() = %d, Live() = %d, want 0, 0", ns.Len(), ns.Live())
	}
}
