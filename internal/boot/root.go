package boot

import (
	"debug/elf"
	"fmt"
	"io"
	"slices"

	"github.com/ZenLiuCN/fn"

	"github.com/wnxd/microboot/boot"
)

// rootModule is the shallow module that exports the core routines to
// loaded images.
type rootModule struct {
	name     string
	symbols  map[string]boot.Symbol
	handlers []boot.ControlHandler
}

type rootRoutine struct {
	name     string
	callback boot.ControlCallback
}

func newRootModule(impl Boot, name string, console io.Writer) (*rootModule, error) {
	if console == nil {
		console = io.Discard
	}
	root := &rootModule{name: name, symbols: make(map[string]boot.Symbol)}
	for _, r := range rootRoutines(console) {
		handler, err := impl.AddControl(r.callback, nil)
		if err != nil {
			root.Close()
			return nil, err
		}
		root.handlers = append(root.handlers, handler)
		root.symbols[r.name] = boot.Symbol{Name: r.name, Value: handler.Addr(), Size: impl.TrapSize(), Bind: elf.STB_GLOBAL}
	}
	return root, nil
}

func rootRoutines(console io.Writer) []rootRoutine {
	return []rootRoutine{
		{"malloc", func(ctx boot.Context, _ any) (uint64, error) {
			var size uint32
			if err := ctx.ArgExtract(&size); err != nil {
				return 0, err
			}
			addr, err := ctx.Boot().MemAlloc(uint64(size))
			if err != nil {
				return 0, nil
			}
			return addr, nil
		}},
		{"zalloc", func(ctx boot.Context, _ any) (uint64, error) {
			var size uint32
			if err := ctx.ArgExtract(&size); err != nil {
				return 0, err
			}
			addr, err := ctx.Boot().MemAlloc(uint64(size))
			if err != nil {
				return 0, nil
			}
			return addr, ctx.ToPointer(addr).MemWrite(make([]byte, size))
		}},
		{"free", func(ctx boot.Context, _ any) (uint64, error) {
			var addr uintptr
			if err := ctx.ArgExtract(&addr); err != nil {
				return 0, err
			} else if addr == 0 {
				return 0, nil
			}
			return 0, ctx.Boot().MemFree(uint64(addr))
		}},
		{"exit", func(ctx boot.Context, _ any) (uint64, error) {
			var status int32
			if err := ctx.ArgExtract(&status); err != nil {
				return 0, err
			}
			return 0, ctx.Exit(int(status))
		}},
		{"puts", func(ctx boot.Context, _ any) (uint64, error) {
			var s string
			if err := ctx.ArgExtract(&s); err != nil {
				return 0, err
			}
			_, err := fmt.Fprintln(console, s)
			return 0, err
		}},
		{"strlen", func(ctx boot.Context, _ any) (uint64, error) {
			var s string
			if err := ctx.ArgExtract(&s); err != nil {
				return 0, err
			}
			return uint64(len(s)), nil
		}},
		{"spawnv", func(ctx boot.Context, _ any) (uint64, error) {
			var name string
			var argv []string
			if err := ctx.ArgExtract(&name, &argv); err != nil {
				return 0, err
			}
			status, err := ctx.Boot().Spawn(ctx.Context(), name, argv)
			if err != nil {
				ctx.Boot().Logger().Printf("spawnv %s: %v", name, err)
			}
			return result(status), nil
		}},
		{"load_library", func(ctx boot.Context, _ any) (uint64, error) {
			var name string
			if err := ctx.ArgExtract(&name); err != nil {
				return 0, err
			}
			if err := ctx.Boot().Activate(ctx.Context(), name); err != nil {
				ctx.Boot().Logger().Printf("load_library %s: %v", name, err)
				return result(boot.ExitFailure), nil
			}
			return 0, nil
		}},
		{"unload_library", func(ctx boot.Context, _ any) (uint64, error) {
			var name string
			if err := ctx.ArgExtract(&name); err != nil {
				return 0, err
			}
			if err := ctx.Boot().Unload(ctx.Context(), name); err != nil {
				ctx.Boot().Logger().Printf("unload_library %s: %v", name, err)
				return result(boot.ExitFailure), nil
			}
			return 0, nil
		}},
	}
}

// result widens a C int return value to a register word.
func result(v int) uint64 {
	return uint64(uint32(int32(v)))
}

func (r *rootModule) Close() error {
	for i := len(r.handlers) - 1; i >= 0; i-- {
		r.handlers[i].Close()
	}
	r.handlers = nil
	return nil
}

func (r *rootModule) Name() string {
	return r.name
}

func (r *rootModule) Region() (uint64, uint64) {
	return 0, 0
}

func (r *rootModule) BaseAddr() uint64 {
	return 0
}

func (r *rootModule) Tag() boot.Tag {
	return boot.TagCore
}

func (r *rootModule) Shallow() bool {
	return true
}

func (r *rootModule) InitAddr() uint64 { return 0 }
func (r *rootModule) ExitAddr() uint64 { return 0 }
func (r *rootModule) MainAddr() uint64 { return 0 }

func (r *rootModule) FindSymbol(name string) (boot.Symbol, error) {
	if sym, ok := r.symbols[name]; ok {
		return sym, nil
	}
	return boot.Symbol{}, boot.ErrSymbolNotFound
}

func (r *rootModule) Symbols(yield func(boot.Symbol) bool) {
	names := fn.MapKeys(r.symbols)
	slices.Sort(names)
	for _, name := range names {
		if !yield(r.symbols[name]) {
			return
		}
	}
}
