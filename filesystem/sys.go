package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
)

type sysDirFS string

func SysDirFS(dir string) FS {
	return sysDirFS(dir)
}

func (d sysDirFS) Open(name string) (fs.File, error) {
	pathname, err := d.join("open", name)
	if err != nil {
		return nil, err
	}
	return os.Open(pathname)
}

func (d sysDirFS) Stat(name string) (fs.FileInfo, error) {
	pathname, err := d.join("stat", name)
	if err != nil {
		return nil, err
	}
	return os.Stat(pathname)
}

func (d sysDirFS) join(op, name string) (string, error) {
	name = Clean(name)
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return filepath.Join(string(d), filepath.FromSlash(name)), nil
}
