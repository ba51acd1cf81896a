package filesystem

import (
	"bytes"
	"io/fs"
	"path"
	"sync"
	"time"
)

// MemFS is an in-memory boot medium.
type MemFS interface {
	FS
	Add(name string, data []byte)
	Remove(name string)
}

type memFS struct {
	files sync.Map
}

type memEntry struct {
	name    string
	data    []byte
	modTime time.Time
}

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

type memFile struct {
	*bytes.Reader
	info fileInfo
}

func NewMemFS() MemFS {
	return new(memFS)
}

func (m *memFS) Add(name string, data []byte) {
	name = Clean(name)
	m.files.Store(name, &memEntry{name: path.Base(name), data: data, modTime: time.Now()})
}

func (m *memFS) Remove(name string) {
	m.files.Delete(Clean(name))
}

func (m *memFS) Open(name string) (fs.File, error) {
	e, err := m.lookup("open", name)
	if err != nil {
		return nil, err
	}
	return &memFile{bytes.NewReader(e.data), e.info()}, nil
}

func (m *memFS) Stat(name string) (fs.FileInfo, error) {
	e, err := m.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return e.info(), nil
}

func (m *memFS) lookup(op, name string) (*memEntry, error) {
	name = Clean(name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	v, ok := m.files.Load(name)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return v.(*memEntry), nil
}

func (e *memEntry) info() fileInfo {
	return fileInfo{name: e.name, size: int64(len(e.data)), modTime: e.modTime}
}

func (f *memFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *memFile) Close() error {
	return nil
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }
