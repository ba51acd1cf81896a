package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMemFS(t *testing.T) {
	m := NewMemFS()
	m.Add("/boot/hello.c32", []byte("hello"))
	f, err := m.Open("boot/hello.c32")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	info, _ := m.Stat("boot/hello.c32")
	if info.Name() != "hello.c32" || info.Size() != 5 {
		t.Fatalf("Stat = %s %d", info.Name(), info.Size())
	}
	m.Remove("boot/hello.c32")
	if _, err := m.Open("boot/hello.c32"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Open removed = %v", err)
	}
	if _, err := m.Open("../etc/passwd"); !errors.Is(err, fs.ErrInvalid) {
		t.Fatalf("Open escape = %v", err)
	}
}

func TestSysDirFS(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "menu.c32"), []byte{0x7f, 'E'}, 0o644); err != nil {
		t.Fatal(err)
	}
	sys := SysDirFS(dir)
	info, err := sys.Stat("/menu.c32")
	if err != nil || info.Size() != 2 {
		t.Fatalf("Stat = %v, %v", info, err)
	}
	if _, err := sys.Open("missing.c32"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Open missing = %v", err)
	}
}
