package dmp

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/absfs/absfs"
)

// memFile is an in-memory device image implementing absfs.File
type memFile struct {
	name string

	mu     sync.Mutex
	data   []byte
	pos    int64
	closed bool
	syncs  int
}

func newMemFile(name string, size int) *memFile {
	return &memFile{name: name, data: make([]byte, size)}
}

func (m *memFile) Name() string { return m.name }

func (m *memFile) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	m.mu.Lock()
	pos := m.pos
	m.mu.Unlock()
	n, err := m.WriteAt(p, pos)
	m.mu.Lock()
	m.pos += int64(n)
	m.mu.Unlock()
	return n, err
}

func (m *memFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	m.closed = true
	return nil
}

func (m *memFile) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	m.syncs++
	return nil
}

func (m *memFile) Stat() (os.FileInfo, error) {
	return nil, errors.New("not implemented")
}

func (m *memFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, syscall.ENOTDIR
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}

func (m *memFile) ReadAt(b []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(b, m.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt never grows the image, like a block device
func (m *memFile) WriteAt(b []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	if off+int64(len(b)) > int64(len(m.data)) {
		return 0, syscall.ENOSPC
	}
	return copy(m.data[off:], b), nil
}

func (m *memFile) WriteString(s string) (int, error) {
	return m.Write([]byte(s))
}

func (m *memFile) Truncate(int64) error {
	return syscall.EINVAL
}

func (m *memFile) Readdirnames(int) ([]string, error) {
	return nil, syscall.ENOTDIR
}

func (m *memFile) ReadDir(int) ([]fs.DirEntry, error) {
	return nil, syscall.ENOTDIR
}

func (m *memFile) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// memOpener serves a fixed set of memFiles and counts opens
type memOpener struct {
	mu    sync.Mutex
	files map[string]*memFile
	opens int
}

func newMemOpener(files ...*memFile) *memOpener {
	o := &memOpener{files: make(map[string]*memFile)}
	for _, f := range files {
		o.files[f.name] = f
	}
	return o
}

func (o *memOpener) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f := o.files[name]
	if f == nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOENT}
	}
	o.opens++

	f.mu.Lock()
	f.closed = false
	f.mu.Unlock()
	return f, nil
}

var _ absfs.File = (*memFile)(nil)

func TestDevices_GetPut(t *testing.T) {
	file := newMemFile("/dev/sdb", 4096)
	opener := newMemOpener(file)
	ds := NewDevices(opener)

	dev, err := ds.Get("/dev/sdb", os.O_RDWR)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if dev.Path() != "/dev/sdb" {
		t.Errorf("Path() = %q, want %q", dev.Path(), "/dev/sdb")
	}
	if dev.Name() != "sdb" {
		t.Errorf("Name() = %q, want %q", dev.Name(), "sdb")
	}
	if dev.Mode() != os.O_RDWR {
		t.Errorf("Mode() = %d, want %d", dev.Mode(), os.O_RDWR)
	}
	if ds.Count() != 1 {
		t.Errorf("Count() = %d, want 1", ds.Count())
	}

	if err := ds.Put(dev); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ds.Count() != 0 {
		t.Errorf("Count() after Put = %d, want 0", ds.Count())
	}
	if !file.isClosed() {
		t.Error("file not closed after last Put")
	}
}

func TestDevices_Sharing(t *testing.T) {
	opener := newMemOpener(newMemFile("/dev/sdb", 4096))
	ds := NewDevices(opener)

	d1, err := ds.Get("/dev/sdb", os.O_RDWR)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	d2, err := ds.Get("/dev/sdb", os.O_RDWR)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if d1 != d2 {
		t.Error("same path and mode should share one handle")
	}
	if opener.opens != 1 {
		t.Errorf("opens = %d, want 1", opener.opens)
	}

	if err := ds.Put(d1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ds.Count() != 1 {
		t.Errorf("Count() = %d, want 1 while a reference remains", ds.Count())
	}
	if err := ds.Put(d2); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ds.Count() != 0 {
		t.Errorf("Count() = %d, want 0", ds.Count())
	}
}

func TestDevices_ModesAreSeparate(t *testing.T) {
	opener := newMemOpener(newMemFile("/dev/sdb", 4096))
	ds := NewDevices(opener)

	rw, err := ds.Get("/dev/sdb", os.O_RDWR)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	ro, err := ds.Get("/dev/sdb", os.O_RDONLY)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rw == ro {
		t.Error("different modes should get different handles")
	}
	if ds.Count() != 2 {
		t.Errorf("Count() = %d, want 2", ds.Count())
	}
}

func TestDevices_LookupFailure(t *testing.T) {
	ds := NewDevices(newMemOpener())

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing device", "/dev/missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ds.Get(tt.path, os.O_RDWR)
			if !errors.Is(err, ErrDeviceLookup) {
				t.Errorf("Get(%q) error = %v, want ErrDeviceLookup", tt.path, err)
			}
		})
	}

	_, err := ds.Get("/dev/missing", os.O_RDWR)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Get error = %v, want cause os.ErrNotExist", err)
	}
	if ds.Count() != 0 {
		t.Errorf("Count() = %d, want 0", ds.Count())
	}
}

func TestDevices_PutStale(t *testing.T) {
	ds := NewDevices(newMemOpener(newMemFile("/dev/sdb", 4096)))

	dev, err := ds.Get("/dev/sdb", os.O_RDWR)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := ds.Put(dev); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := ds.Put(dev); !errors.Is(err, os.ErrClosed) {
		t.Errorf("second Put error = %v, want os.ErrClosed", err)
	}
}

func TestDevices_CloseAll(t *testing.T) {
	a := newMemFile("/dev/a", 512)
	b := newMemFile("/dev/b", 512)
	ds := NewDevices(newMemOpener(a, b))

	for _, path := range []string{"/dev/a", "/dev/b"} {
		if _, err := ds.Get(path, os.O_RDWR); err != nil {
			t.Fatalf("Get(%q) failed: %v", path, err)
		}
	}

	if err := ds.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if ds.Count() != 0 {
		t.Errorf("Count() = %d, want 0", ds.Count())
	}
	if !a.isClosed() || !b.isClosed() {
		t.Error("CloseAll left a device open")
	}
}

func TestDevices_ConcurrentGetPut(t *testing.T) {
	file := newMemFile("/dev/sdb", 4096)
	ds := NewDevices(newMemOpener(file))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				dev, err := ds.Get("/dev/sdb", os.O_RDWR)
				if err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
				if err := ds.Put(dev); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if ds.Count() != 0 {
		t.Errorf("Count() = %d, want 0", ds.Count())
	}
}
