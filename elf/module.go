package elf

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"io"
	"log"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/loader"
)

const (
	InitPtrName = "__module_init_ptr"
	ExitPtrName = "__module_exit_ptr"
	MainPtrName = "__module_main_ptr"
)

var errSymbolMissing = boot.ErrSymbolNotFound

// Module is a relocated ELF32 image.
type Module interface {
	boot.Module
	State() State
	DynValue(tag elf.DynTag) []uint64
	GetSymbol(index uint32) (*elf.Symbol, error)
	GOTAddr() uint64
}

type module struct {
	b      boot.Boot
	log    *log.Logger
	name   string
	tag    boot.Tag
	state  State
	region loader.Region
	header elf.Header32

	dynAddr  uint64
	dynamic  map[elf.DynTag][]uint64
	hash     elfHashTable
	gnuHash  gnuHashTable
	hasGNU   bool
	strtab   uint64
	strsz    uint64
	symtab   uint64
	syment   uint64
	got      uint64
	symCount uint32
	symbols  map[uint32]*elf.Symbol

	// Entry slots hold the addresses of the exported entry pointers;
	// zero means the module does not provide the routine.
	initSlot, exitSlot, mainSlot uint64
}

func newModule(b boot.Boot, name string) *module {
	return &module{
		b:       b,
		log:     log.New(b.Logger().Writer(), "[elf] ", log.LstdFlags|log.Lmsgprefix),
		name:    name,
		tag:     b.NewTag(),
		dynamic: make(map[elf.DynTag][]uint64),
		symbols: make(map[uint32]*elf.Symbol),
	}
}

func (m *module) Close() error {
	if m.region.Size == 0 {
		return nil
	}
	err := m.b.MemFree(m.region.Addr)
	m.region = loader.Region{}
	return err
}

func (m *module) Name() string {
	return m.name
}

func (m *module) Region() (uint64, uint64) {
	return m.region.Addr, m.region.Size
}

func (m *module) BaseAddr() uint64 {
	return m.region.Bias
}

func (m *module) Tag() boot.Tag {
	return m.tag
}

func (m *module) Shallow() bool {
	return false
}

func (m *module) State() State {
	return m.state
}

func (m *module) InitAddr() uint64 {
	return m.entry(m.initSlot)
}

func (m *module) ExitAddr() uint64 {
	return m.entry(m.exitSlot)
}

func (m *module) MainAddr() uint64 {
	return m.entry(m.mainSlot)
}

func (m *module) GOTAddr() uint64 {
	return m.got
}

func (m *module) DynValue(tag elf.DynTag) []uint64 {
	return m.dynamic[tag]
}

func (m *module) FindSymbol(name string) (boot.Symbol, error) {
	sym, err := m.findSymbol(name)
	if err != nil {
		return boot.Symbol{}, err
	}
	return m.exportSymbol(sym), nil
}

func (m *module) Symbols(yield func(boot.Symbol) bool) {
	count, err := m.symbolCount()
	if err != nil {
		return
	}
	for i := uint32(1); i < count; i++ {
		sym, err := m.GetSymbol(i)
		if err != nil {
			return
		} else if sym.Section == elf.SHN_UNDEF {
			continue
		} else if !yield(m.exportSymbol(sym)) {
			return
		}
	}
}

// GetSymbol reads symbol table entry index, caching the result.
func (m *module) GetSymbol(index uint32) (*elf.Symbol, error) {
	if sym, ok := m.symbols[index]; ok {
		return sym, nil
	}
	var raw elf.Sym32
	sr := m.sectionReader(m.symtab+uint64(index)*m.syment, elf.Sym32Size)
	if err := binary.Read(sr, binary.LittleEndian, &raw); err != nil {
		return nil, err
	}
	name, err := m.getString(raw.Name)
	if err != nil {
		return nil, err
	}
	sym := &elf.Symbol{
		Name:    name,
		Info:    raw.Info,
		Other:   raw.Other,
		Section: elf.SectionIndex(raw.Shndx),
		Value:   uint64(raw.Value),
		Size:    uint64(raw.Size),
	}
	m.symbols[index] = sym
	return sym, nil
}

// findSymbol looks up a defined symbol, GNU hash first.
func (m *module) findSymbol(name string) (*elf.Symbol, error) {
	if sym, err := m.findGNUHashSymbol(name); sym != nil || err != nil {
		return sym, err
	} else if sym, err = m.findHashSymbol(name); sym != nil || err != nil {
		return sym, err
	}
	return nil, errSymbolMissing
}

func (m *module) exportSymbol(sym *elf.Symbol) boot.Symbol {
	return boot.Symbol{
		Name:  sym.Name,
		Value: m.absolute(sym.Value),
		Size:  sym.Size,
		Bind:  elf.ST_BIND(sym.Info),
	}
}

// absolute translates an image virtual address to a machine address.
func (m *module) absolute(addr uint64) uint64 {
	return (m.region.Bias + addr) & 0xFFFFFFFF
}

func (m *module) sectionReader(addr, size uint64) *io.SectionReader {
	return io.NewSectionReader(m.b.ToPointer(addr), 0, int64(size))
}

func (m *module) getString(off uint32) (string, error) {
	if uint64(off) >= m.strsz {
		return "", &boot.FormatError{Module: m.name, Reason: "string offset out of table"}
	}
	return m.b.ToPointer(m.strtab + uint64(off)).MemReadString()
}

func (m *module) entry(slot uint64) uint64 {
	if slot == 0 || m.region.Size == 0 {
		return 0
	}
	v, err := m.b.ToPointer(slot).MemReadWord()
	if err != nil {
		return 0
	}
	return v
}

func (m *module) formatError(reason string) error {
	return &boot.FormatError{Module: m.name, Reason: reason}
}

func isMissing(err error) bool {
	return errors.Is(err, boot.ErrSymbolNotFound)
}
