package carconfig

import (
	"fmt"
	"sync"

	"github.com/banshee-data/pitwall/internal/fsutil"
)

// Source is the backing store a configuration is loaded from and hot
// reloads are persisted to.
type Source interface {
	Read() ([]byte, error)
	Write(data []byte) error
	String() string
}

// FileSource reads and writes the configuration document at Path.
type FileSource struct {
	Path string
	FS   fsutil.FileSystem
}

// NewFileSource returns a FileSource on the OS filesystem.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, FS: fsutil.OSFileSystem{}}
}

func (f *FileSource) fs() fsutil.FileSystem {
	if f.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return f.FS
}

func (f *FileSource) Read() ([]byte, error) {
	if f.Path == "" {
		return nil, configErr("", ErrNoSource, "")
	}
	data, err := f.fs().ReadFile(f.Path)
	if err != nil {
		return nil, configErr("", ErrUnreadable, "read %s: %v", f.Path, err)
	}
	return data, nil
}

func (f *FileSource) Write(data []byte) error {
	if f.Path == "" {
		return configErr("", ErrNoSource, "")
	}
	if err := f.fs().WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

func (f *FileSource) String() string { return "file:" + f.Path }

// StringSource holds the document in memory. Writes replace the held text.
type StringSource struct {
	mu   sync.Mutex
	data []byte
}

// NewStringSource returns a source holding text.
func NewStringSource(text string) *StringSource {
	return &StringSource{data: []byte(text)}
}

func (s *StringSource) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, configErr("", ErrNoSource, "empty configuration string")
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *StringSource) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0:0], data...)
	return nil
}

func (s *StringSource) String() string { return "string" }
