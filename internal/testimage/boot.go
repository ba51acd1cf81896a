package testimage

import (
	"strings"
	"testing"

	"github.com/wnxd/microboot/boot"
	_ "github.com/wnxd/microboot/boot/x86"
	"github.com/wnxd/microboot/filesystem"
	"github.com/wnxd/microboot/machine"
)

type logWriter struct {
	tb testing.TB
}

func (w logWriter) Write(p []byte) (int, error) {
	w.tb.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewBoot starts an x86 loader over an empty in-memory medium. Both are
// released when the test ends.
func NewBoot(tb testing.TB, opts ...boot.Option) (boot.Boot, filesystem.MemFS) {
	tb.Helper()
	m, err := machine.NewFlat(machine.ARCH_X86)
	if err != nil {
		tb.Fatalf("NewFlat: %v", err)
	}
	fs := filesystem.NewMemFS()
	opts = append([]boot.Option{boot.WithFS(fs), boot.WithLogger(logWriter{tb})}, opts...)
	b, err := boot.New(m, opts...)
	if err != nil {
		m.Close()
		tb.Fatalf("boot.New: %v", err)
	}
	tb.Cleanup(func() {
		b.Close()
		m.Close()
	})
	return b, fs
}

// Control registers fn as a routine and returns the id images trap with.
func Control(tb testing.TB, b boot.Boot, fn func(ctx boot.Context) (uint64, error)) uint32 {
	tb.Helper()
	h, err := b.AddControl(func(ctx boot.Context, _ any) (uint64, error) {
		return fn(ctx)
	}, nil)
	if err != nil {
		tb.Fatalf("AddControl: %v", err)
	}
	tb.Cleanup(func() { h.Close() })
	return h.ID()
}
