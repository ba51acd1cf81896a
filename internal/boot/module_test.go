package boot

import (
	"debug/elf"
	"errors"
	"slices"
	"testing"

	"github.com/wnxd/microboot/boot"
)

type stubModule struct {
	name    string
	addr    uint64
	size    uint64
	symbols map[string]elf.SymBind
}

func (m *stubModule) Close() error { return nil }
func (m *stubModule) Name() string { return m.name }
func (m *stubModule) Region() (uint64, uint64) { return m.addr, m.size }
func (m *stubModule) BaseAddr() uint64 { return m.addr }
func (m *stubModule) Tag() boot.Tag { return boot.TagUser }
func (m *stubModule) Shallow() bool { return false }
func (m *stubModule) InitAddr() uint64 { return 0 }
func (m *stubModule) ExitAddr() uint64 { return 0 }
func (m *stubModule) MainAddr() uint64 { return 0 }
func (m *stubModule) Symbols(func(boot.Symbol) bool) {}

func (m *stubModule) FindSymbol(name string) (boot.Symbol, error) {
	bind, ok := m.symbols[name]
	if !ok {
		return boot.Symbol{}, boot.ErrSymbolNotFound
	}
	return boot.Symbol{Name: name, Value: m.addr, Bind: bind}, nil
}

func newRegistry(t *testing.T, modules ...*stubModule) *moduleManager {
	t.Helper()
	mm := new(moduleManager)
	mm.ctor()
	for _, m := range modules {
		if err := mm.Register(m); err != nil {
			t.Fatal(err)
		}
	}
	return mm
}

func TestRegistryOrder(t *testing.T) {
	a := &stubModule{name: "a.c32", addr: 0x1000, size: 0x100, symbols: map[string]elf.SymBind{"f": elf.STB_GLOBAL, "w": elf.STB_WEAK}}
	b := &stubModule{name: "b.c32", addr: 0x2000, size: 0x100, symbols: map[string]elf.SymBind{"f": elf.STB_GLOBAL, "w": elf.STB_WEAK}}
	mm := newRegistry(t, a, b)

	if got := mm.Modules(); !slices.Equal(got, []boot.Module{b, a}) {
		t.Fatalf("order = %v", got)
	}
	var dup *boot.DuplicateModuleError
	if err := mm.Register(&stubModule{name: "a.c32"}); !errors.As(err, &dup) {
		t.Fatalf("duplicate register = %v", err)
	}
	for _, name := range []string{"f", "w"} {
		if owner, _, err := mm.FindSymbol(name); err != nil || owner != b {
			t.Errorf("%s resolved to %v, %v", name, owner, err)
		}
	}
	if m, err := mm.FindModuleByAddr(0x1080); err != nil || m != a {
		t.Errorf("FindModuleByAddr = %v, %v", m, err)
	}
	if _, err := mm.FindModuleByAddr(0x1100); !errors.Is(err, boot.ErrModuleNotFound) {
		t.Errorf("address past region = %v", err)
	}
	mm.Deregister(b)
	if m, err := mm.FindModule("b.c32"); err == nil {
		t.Fatalf("deregistered module found: %v", m)
	}
	if owner, _, _ := mm.FindSymbol("f"); owner != a {
		t.Fatalf("f resolved to %v after deregister", owner)
	}
}

func TestRegistryDependencies(t *testing.T) {
	lib := &stubModule{name: "lib.c32"}
	app := &stubModule{name: "app.c32"}
	tool := &stubModule{name: "tool.c32"}
	mm := newRegistry(t, lib, app, tool)

	mm.AddDependency(app, lib)
	mm.AddDependency(app, lib)
	mm.AddDependency(tool, lib)
	mm.AddDependency(tool, app)
	if deps := mm.Dependents(lib); len(deps) != 2 {
		t.Fatalf("lib dependents = %v", deps)
	}
	if mm.Unloadable(lib) || mm.Unloadable(app) || !mm.Unloadable(tool) {
		t.Fatal("unexpected unloadable state")
	}
	mm.ClearDependencies(tool)
	if deps := mm.Dependents(lib); !slices.Equal(deps, []boot.Module{app}) {
		t.Fatalf("lib dependents = %v", deps)
	}
	if !mm.Unloadable(app) {
		t.Fatal("app still has dependents")
	}
	mm.ClearDependencies(app)
	if !mm.Unloadable(lib) || len(mm.deps) != 0 {
		t.Fatalf("dependency edges left: %v", mm.deps)
	}
}

func TestRegistryTags(t *testing.T) {
	mm := newRegistry(t)
	first, second := mm.NewTag(), mm.NewTag()
	if first != boot.TagUser || second != first+1 {
		t.Fatalf("tags = %d, %d", first, second)
	}
}
