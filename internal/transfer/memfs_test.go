package transfer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// memFS is an in-memory RemoteFS with failure injection, standing in
// for a remote host in engine and state-machine tests.
type memFS struct {
	mu    sync.Mutex
	files map[string]*memFile

	// writeFailAt injects a write error after n bytes for a target
	// path prefix; -1 disables.
	writeFailAt   int
	writeFailPath string
	failRename    map[string]bool
	denied        map[string]bool

	writes []string // target paths of completed renames, in order
}

type memFile struct {
	content []byte
	mode    os.FileMode
}

func newMemFS() *memFS {
	return &memFS{
		files:       make(map[string]*memFile),
		writeFailAt: -1,
		failRename:  make(map[string]bool),
		denied:      make(map[string]bool),
	}
}

func (m *memFS) put(p string, content string, mode os.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = &memFile{content: []byte(content), mode: mode}
}

func (m *memFS) get(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return "", false
	}
	return string(f.content), true
}

func (m *memFS) Open(p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[p] {
		return nil, errors.New("permission denied")
	}
	f, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), f.content...))), nil
}

type memWriter struct {
	fs   *memFS
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	failAt := w.fs.writeFailAt
	failPath := w.fs.writeFailPath
	w.fs.mu.Unlock()

	if failAt >= 0 && strings.Contains(w.path, failPath) {
		remaining := failAt - w.buf.Len()
		if remaining < len(p) {
			if remaining > 0 {
				w.buf.Write(p[:remaining])
			}
			return remaining, errors.New("injected write failure")
		}
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.path] = &memFile{content: append([]byte(nil), w.buf.Bytes()...), mode: 0600}
	return nil
}

func (m *memFS) Create(p string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[path.Dir(p)] {
		return nil, errors.New("permission denied")
	}
	return &memWriter{fs: m, path: p}, nil
}

type memFileInfo struct {
	name string
	size int64
	mode os.FileMode
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *memFileInfo) IsDir() bool        { return false }
func (fi *memFileInfo) Sys() interface{}   { return nil }

func (m *memFS) Stat(p string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[p] {
		return nil, errors.New("permission denied")
	}
	f, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &memFileInfo{name: path.Base(p), size: int64(len(f.content)), mode: f.mode}, nil
}

func (m *memFS) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRename[newPath] {
		return errors.New("injected rename failure")
	}
	f, ok := m.files[oldPath]
	if !ok {
		return os.ErrNotExist
	}
	delete(m.files, oldPath)
	m.files[newPath] = f
	m.writes = append(m.writes, newPath)
	return nil
}

func (m *memFS) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, p)
	return nil
}

func (m *memFS) Chmod(p string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return os.ErrNotExist
	}
	f.mode = mode
	return nil
}

func (m *memFS) ReadDir(dir string) ([]os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []os.FileInfo
	for p, f := range m.files {
		if path.Dir(p) == path.Clean(dir) {
			out = append(out, &memFileInfo{name: path.Base(p), size: int64(len(f.content)), mode: f.mode})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// tempFiles returns paths of leftover temp files.
func (m *memFS) tempFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.files {
		if strings.Contains(path.Base(p), ".tmp-") {
			out = append(out, p)
		}
	}
	return out
}
