// Package fsutil provides filesystem abstractions for testability.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileSystem abstracts filesystem operations for testability.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile replaces the named file's contents, creating it if necessary.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// Create creates or truncates the named file.
	Create(name string) (io.WriteCloser, error)

	// Append opens the named file for appending, creating it if necessary.
	Append(name string) (io.WriteCloser, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Exists checks if a file or directory exists.
	Exists(name string) bool
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// ReadFile reads the named file.
func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile writes data to a sibling temp file and renames it over name, so
// readers never observe a half-written file.
func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, name)
}

// Create creates the named file.
func (OSFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// Append opens the named file in append mode.
func (OSFileSystem) Append(name string) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

// MkdirAll creates a directory path.
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Exists checks if a file exists.
func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem provides an in-memory filesystem for testing.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFileSystem creates a new in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// ReadFile reads a file's contents.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}

	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// WriteFile writes data to a file.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.files[filepath.Clean(name)] = dataCopy
	return nil
}

// Create creates or truncates a file.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	m.files[name] = []byte{}
	return &memFileWriter{fs: m, name: name}, nil
}

// Append opens a file for appending, creating it when absent.
func (m *MemoryFileSystem) Append(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	if _, ok := m.files[name]; !ok {
		m.files[name] = []byte{}
	}
	return &memFileWriter{fs: m, name: name}, nil
}

// MkdirAll creates directories.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	m.dirs[path] = true
	for p := filepath.Dir(path); p != "." && p != "/" && p != path; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

// Exists checks if a file or directory exists.
func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	if _, ok := m.files[name]; ok {
		return true
	}
	return m.dirs[name]
}

// memFileWriter appends each Write directly to the backing file so that a
// writer that is never closed still leaves its data visible.
type memFileWriter struct {
	fs   *MemoryFileSystem
	name string
}

func (f *memFileWriter) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.files[f.name] = append(f.fs.files[f.name], p...)
	return len(p), nil
}

func (f *memFileWriter) Close() error { return nil }

// FaultyFileSystem wraps a FileSystem and injects errors into selected
// operations. Nil error fields pass through to the wrapped filesystem.
type FaultyFileSystem struct {
	FileSystem

	ReadErr   error
	WriteErr  error
	AppendErr error
}

// ReadFile returns ReadErr if set.
func (f *FaultyFileSystem) ReadFile(name string) ([]byte, error) {
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return f.FileSystem.ReadFile(name)
}

// WriteFile returns WriteErr if set.
func (f *FaultyFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if f.WriteErr != nil {
		return f.WriteErr
	}
	return f.FileSystem.WriteFile(name, data, perm)
}

// Create returns WriteErr if set.
func (f *FaultyFileSystem) Create(name string) (io.WriteCloser, error) {
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.FileSystem.Create(name)
}

// Append returns AppendErr if set.
func (f *FaultyFileSystem) Append(name string) (io.WriteCloser, error) {
	if f.AppendErr != nil {
		return nil, f.AppendErr
	}
	return f.FileSystem.Append(name)
}
