package elf

import (
	"debug/elf"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/loader"
	"github.com/wnxd/microboot/machine"
)

const (
	prog32Size = 32
	rel32Size  = 8
)

var (
	archMachines = map[machine.Arch]elf.Machine{
		machine.ARCH_X86: elf.EM_386,
	}
	relocKinds = map[elf.Machine]map[uint32]loader.RelocationKind{
		elf.EM_386: {
			uint32(elf.R_386_NONE):     loader.RelocationNone,
			uint32(elf.R_386_32):       loader.RelocationAbsolute,
			uint32(elf.R_386_PC32):     loader.RelocationPCRelative,
			uint32(elf.R_386_COPY):     loader.RelocationCopy,
			uint32(elf.R_386_GLOB_DAT): loader.RelocationBind,
			uint32(elf.R_386_JMP_SLOT): loader.RelocationBind,
			uint32(elf.R_386_RELATIVE): loader.RelocationRelative,
		},
	}
)

// Decode translates a raw relocation entry into the loader vocabulary.
func Decode(mach elf.Machine, rel elf.Rel32) (loader.Relocation, bool) {
	kind, ok := relocKinds[mach][elf.R_TYPE32(rel.Info)]
	if !ok {
		return loader.Relocation{}, false
	}
	return loader.Relocation{Offset: uint64(rel.Off), Symbol: elf.R_SYM32(rel.Info), Kind: kind}, true
}

func (m *module) relocate(raw elf.Rel32) error {
	rel, ok := Decode(elf.Machine(m.header.Machine), raw)
	if !ok {
		return m.formatError(elf.R_386(elf.R_TYPE32(raw.Info)).String() + " relocation not supported")
	}
	dest := m.absolute(rel.Offset)
	var sym boot.Symbol
	if rel.Symbol > 0 {
		ref, err := m.GetSymbol(rel.Symbol)
		if err != nil {
			return err
		}
		owner, def, err := m.b.FindSymbol(ref.Name)
		if err != nil {
			return &boot.SymbolError{Module: m.name, Symbol: ref.Name}
		}
		if owner != boot.Module(m) {
			m.b.AddDependency(m, owner)
		}
		sym = def
	}

	ptr := m.b.ToPointer(dest)
	switch rel.Kind {
	case loader.RelocationNone:
		return nil
	case loader.RelocationCopy:
		if sym.Value == 0 || sym.Size == 0 {
			return nil
		}
		data, err := m.b.ToPointer(sym.Value).MemRead(sym.Size)
		if err != nil {
			return err
		}
		return ptr.MemWrite(data)
	case loader.RelocationBind:
		return ptr.MemWriteWord(sym.Value)
	}
	word, err := ptr.MemReadWord()
	if err != nil {
		return err
	}
	switch rel.Kind {
	case loader.RelocationAbsolute:
		word += sym.Value
	case loader.RelocationPCRelative:
		word += sym.Value - dest
	case loader.RelocationRelative:
		word += m.region.Bias
	}
	return ptr.MemWriteWord(word)
}
