package boot

import (
	"debug/elf"
	"errors"
	"slices"
	"sync"

	"github.com/ZenLiuCN/fn"

	"github.com/wnxd/microboot/boot"
	elfloader "github.com/wnxd/microboot/elf"
)

type moduleManager struct {
	mu      sync.Mutex
	loaded  []boot.Module
	deps    map[boot.Module]map[boot.Module]struct{}
	nextTag boot.Tag
}

func (mm *moduleManager) ctor() {
	mm.deps = make(map[boot.Module]map[boot.Module]struct{})
	mm.nextTag = boot.TagUser
}

func (mm *moduleManager) dtor() {
	mm.mu.Lock()
	loaded := mm.loaded
	mm.loaded = nil
	clear(mm.deps)
	mm.mu.Unlock()
	for _, module := range loaded {
		module.Close()
	}
}

func (mm *moduleManager) load(impl Boot, name string) (boot.Module, error) {
	return elfloader.Load(impl, name)
}

// Register inserts module at the head, so newer modules are found first.
func (mm *moduleManager) Register(module boot.Module) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if slices.ContainsFunc(mm.loaded, func(m boot.Module) bool { return m.Name() == module.Name() }) {
		return &boot.DuplicateModuleError{Module: module.Name()}
	}
	mm.loaded = slices.Insert(mm.loaded, 0, module)
	return nil
}

func (mm *moduleManager) Deregister(module boot.Module) {
	mm.mu.Lock()
	mm.loaded = slices.DeleteFunc(mm.loaded, func(m boot.Module) bool { return m == module })
	mm.mu.Unlock()
}

func (mm *moduleManager) Modules() []boot.Module {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return slices.Clone(mm.loaded)
}

func (mm *moduleManager) FindModule(name string) (boot.Module, error) {
	for _, module := range mm.Modules() {
		if module.Name() == name {
			return module, nil
		}
	}
	return nil, boot.ErrModuleNotFound
}

func (mm *moduleManager) FindModuleByAddr(addr uint64) (boot.Module, error) {
	for _, module := range mm.Modules() {
		begin, size := module.Region()
		if addr >= begin && addr < begin+size {
			return module, nil
		}
	}
	return nil, boot.ErrModuleNotFound
}

// FindSymbol returns the first global definition in registry order,
// falling back to the first weak one.
func (mm *moduleManager) FindSymbol(name string) (boot.Module, boot.Symbol, error) {
	var weakModule boot.Module
	var weak boot.Symbol
	for _, module := range mm.Modules() {
		sym, err := module.FindSymbol(name)
		if errors.Is(err, boot.ErrSymbolNotFound) {
			continue
		} else if err != nil {
			return nil, boot.Symbol{}, err
		}
		switch sym.Bind {
		case elf.STB_GLOBAL:
			return module, sym, nil
		case elf.STB_WEAK:
			if weakModule == nil {
				weakModule, weak = module, sym
			}
		}
	}
	if weakModule != nil {
		return weakModule, weak, nil
	}
	return nil, boot.Symbol{}, boot.ErrSymbolNotFound
}

func (mm *moduleManager) AddDependency(dependent, dependency boot.Module) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	set, ok := mm.deps[dependency]
	if !ok {
		set = make(map[boot.Module]struct{})
		mm.deps[dependency] = set
	}
	set[dependent] = struct{}{}
}

func (mm *moduleManager) Dependents(module boot.Module) []boot.Module {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return fn.MapKeys(mm.deps[module])
}

func (mm *moduleManager) Unloadable(module boot.Module) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.deps[module]) == 0
}

// ClearDependencies drops every edge that starts or ends at module.
func (mm *moduleManager) ClearDependencies(module boot.Module) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.deps, module)
	for dependency, set := range mm.deps {
		delete(set, module)
		if len(set) == 0 {
			delete(mm.deps, dependency)
		}
	}
}

func (mm *moduleManager) NewTag() boot.Tag {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	tag := mm.nextTag
	mm.nextTag++
	return tag
}

func (c *Core) Load(name string) (boot.Module, error) {
	return c.moduleManager.load(c.impl, name)
}
