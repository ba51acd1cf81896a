package boot

import (
	"debug/elf"
	"io"
	"strings"
)

type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Bind  elf.SymBind
}

type SymbolIter interface {
	Symbols(yield func(Symbol) bool)
}

// Module is a loaded image. Entry addresses are zero when the module does
// not provide the routine.
type Module interface {
	io.Closer
	SymbolIter
	Name() string
	Region() (uint64, uint64)
	BaseAddr() uint64
	Tag() Tag
	// Shallow reports a placeholder module that was never relocated.
	Shallow() bool
	InitAddr() uint64
	ExitAddr() uint64
	MainAddr() uint64
	// FindSymbol looks up a symbol defined by this module.
	FindSymbol(name string) (Symbol, error)
}

type ModuleManager interface {
	// Load materializes and registers the named image.
	Load(name string) (Module, error)
	Register(module Module) error
	Deregister(module Module)
	FindModule(name string) (Module, error)
	FindModuleByAddr(addr uint64) (Module, error)
	// FindSymbol searches every registered module, newest first.
	FindSymbol(name string) (Module, Symbol, error)
	Modules() []Module
	AddDependency(dependent, dependency Module)
	Dependents(module Module) []Module
	Unloadable(module Module) bool
	ClearDependencies(module Module)
	NewTag() Tag
}

type ModuleKind int

const (
	ModuleUnknown ModuleKind = iota
	ModuleExec
	ModuleLib
)

func KindOf(module Module) ModuleKind {
	if module.MainAddr() != 0 {
		return ModuleExec
	} else if module.InitAddr() != 0 {
		return ModuleLib
	}
	return ModuleUnknown
}

func (k ModuleKind) String() string {
	switch k {
	case ModuleExec:
		return "exec"
	case ModuleLib:
		return "lib"
	}
	return "unknown"
}

// IsModuleName reports whether name carries the loadable module suffix.
func IsModuleName(name string) bool {
	return strings.HasSuffix(name, ".c32")
}
