package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZenLiuCN/fn"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/loader"
)

// Load reads the named image from the boot medium, places and relocates
// it, and registers it with b. On failure nothing of the module remains.
func Load(b boot.Boot, name string) (boot.Module, error) {
	if _, err := b.FindModule(name); err == nil {
		return nil, &boot.DuplicateModuleError{Module: name}
	}
	img, err := b.OpenImage(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer fn.IgnoreClose(img)

	m := newModule(b, name)
	m.enter(StateImageOpened)
	if err = m.load(img); err != nil {
		m.log.Printf("%s: load failed in state %s: %v", name, m.state, err)
		m.unwind()
		return nil, err
	}
	m.enter(StateReady)
	m.log.Printf("%s: loaded at %#08x (init %#08x, exit %#08x, main %#08x)", name, m.region.Addr, m.InitAddr(), m.ExitAddr(), m.MainAddr())
	return m, nil
}

func (m *module) load(img loader.Image) error {
	if err := m.readHeader(img); err != nil {
		return err
	}
	m.enter(StateHeaderValidated)
	if err := m.loadSegments(img); err != nil {
		return err
	}
	m.enter(StateSegmentsPlaced)
	if err := m.prepareDynlinking(); err != nil {
		return err
	}
	m.enter(StateDynamicParsed)
	if err := m.checkSymbols(); err != nil {
		return err
	}
	m.enter(StateSymbolsChecked)
	if err := m.extractOperations(); err != nil {
		return err
	}
	m.enter(StateEntriesExtracted)
	if err := m.b.Register(m); err != nil {
		return err
	}
	m.enter(StateRegistered)
	if err := m.resolveSymbols(); err != nil {
		return err
	}
	m.enter(StateRelocated)
	return nil
}

func (m *module) enter(s State) {
	m.state = s
	m.log.Printf("%s: %s", m.name, s)
}

func (m *module) unwind() {
	registered := m.state >= StateRegistered
	m.state = StateError
	if registered {
		m.b.ClearDependencies(m)
		m.b.Deregister(m)
	}
	m.Close()
}

func (m *module) readHeader(img loader.Image) error {
	if err := binary.Read(img, binary.LittleEndian, &m.header); err != nil {
		return fmt.Errorf("%s: read header: %w", m.name, err)
	}
	h := &m.header
	switch {
	case !bytes.Equal(h.Ident[:elf.EI_CLASS], []byte(elf.ELFMAG)):
		return m.formatError("bad magic")
	case elf.Class(h.Ident[elf.EI_CLASS]) != elf.ELFCLASS32:
		return m.formatError("not a 32-bit image")
	case elf.Data(h.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB:
		return m.formatError("not little endian")
	case elf.Version(h.Ident[elf.EI_VERSION]) != elf.EV_CURRENT:
		return m.formatError("bad version")
	case elf.Type(h.Type) != elf.ET_DYN:
		return m.formatError("not a shared object")
	case elf.Machine(h.Machine) != m.machine():
		return m.formatError(fmt.Sprintf("machine %s not supported", elf.Machine(h.Machine)))
	case h.Phoff == 0:
		return m.formatError("program header table missing")
	case h.Phnum != 0 && uint64(h.Phentsize) < prog32Size:
		return m.formatError("program header entry too small")
	}
	return nil
}

func (m *module) machine() elf.Machine {
	if mach, ok := archMachines[m.b.Machine().Arch()]; ok {
		return mach
	}
	return elf.EM_NONE
}

// loadSegments places every PT_LOAD entry in one allocation. Loadable
// segments are ordered by file offset, so the image is only read forward.
func (m *module) loadSegments(img loader.Image) error {
	if err := img.SeekTo(int64(m.header.Phoff)); err != nil {
		return fmt.Errorf("%s: seek program headers: %w", m.name, err)
	}
	entsize := uint64(m.header.Phentsize)
	pht := make([]byte, uint64(m.header.Phnum)*entsize)
	if _, err := img.Read(pht); err != nil {
		return fmt.Errorf("%s: read program headers: %w", m.name, err)
	}
	progs := make([]elf.Prog32, m.header.Phnum)
	for i := range progs {
		if err := binary.Read(bytes.NewReader(pht[uint64(i)*entsize:]), binary.LittleEndian, &progs[i]); err != nil {
			return fmt.Errorf("%s: decode program header %d: %w", m.name, i, err)
		}
	}

	var minAddr, maxAddr uint64
	maxAlign := m.b.PointerSize()
	found, dynFound := false, false
	for _, p := range progs {
		switch elf.ProgType(p.Type) {
		case elf.PT_LOAD:
			if p.Filesz > p.Memsz {
				return m.formatError("segment file size exceeds memory size")
			}
			if !found {
				minAddr = uint64(p.Vaddr)
				found = true
			} else {
				minAddr = min(minAddr, uint64(p.Vaddr))
			}
			maxAddr = max(maxAddr, uint64(p.Vaddr)+uint64(p.Memsz))
			maxAlign = max(maxAlign, uint64(p.Align))
		case elf.PT_DYNAMIC:
			m.dynAddr = uint64(p.Vaddr)
			dynFound = true
		}
	}
	if !found || maxAddr == minAddr {
		return m.formatError("no loadable segments")
	} else if !dynFound {
		return m.formatError("no dynamic segment")
	} else if maxAlign&(maxAlign-1) != 0 {
		return m.formatError("segment alignment is not a power of two")
	}

	minAlloc := minAddr - minAddr%maxAlign
	maxAlloc := boot.Align(maxAddr, maxAlign)
	size := maxAlloc - minAlloc
	addr, err := m.b.MemAllocTagged(size, maxAlign, boot.TagModule)
	if err != nil {
		return err
	}
	m.region = loader.Region{Addr: addr, Size: size, Align: maxAlign, Bias: addr - minAlloc}
	if err = m.b.ToPointer(addr).MemWrite(make([]byte, size)); err != nil {
		return err
	}

	for _, p := range progs {
		if elf.ProgType(p.Type) != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		dst := m.absolute(uint64(p.Vaddr))
		filesz := uint64(p.Filesz)
		if cur := uint64(img.Offset()); uint64(p.Off) < cur {
			// the segment starts inside bytes already consumed; only headers
			// live there
			aux := cur - uint64(p.Off)
			if aux >= filesz {
				continue
			}
			dst += aux
			filesz -= aux
		} else if err = img.SeekTo(int64(p.Off)); err != nil {
			return fmt.Errorf("%s: seek segment: %w", m.name, err)
		}
		data := make([]byte, filesz)
		if _, err = img.Read(data); err != nil {
			return fmt.Errorf("%s: read segment: %w", m.name, err)
		} else if err = m.b.ToPointer(dst).MemWrite(data); err != nil {
			return err
		}
		m.log.Printf("%s: segment of %#x bytes from vaddr %#08x at %#08x", m.name, p.Filesz, p.Vaddr, m.absolute(uint64(p.Vaddr)))
	}
	m.log.Printf("%s: base %#08x, aligned at %#x, size %#x", m.name, m.region.Bias&0xFFFFFFFF, maxAlign, size)
	return nil
}

func (m *module) prepareDynlinking() error {
	sr := m.sectionReader(m.absolute(m.dynAddr), m.region.End()-m.absolute(m.dynAddr))
	for {
		var dyn elf.Dyn32
		if err := binary.Read(sr, binary.LittleEndian, &dyn); err != nil {
			return m.formatError("unterminated dynamic section")
		}
		tag := elf.DynTag(dyn.Tag)
		if tag == elf.DT_NULL {
			break
		}
		m.dynamic[tag] = append(m.dynamic[tag], uint64(dyn.Val))
	}
	m.strtab = m.dynPtr(elf.DT_STRTAB)
	m.strsz = m.dynVal(elf.DT_STRSZ)
	m.symtab = m.dynPtr(elf.DT_SYMTAB)
	m.syment = m.dynVal(elf.DT_SYMENT)
	m.got = m.dynPtr(elf.DT_PLTGOT)
	if m.strtab == 0 || m.symtab == 0 {
		return m.formatError("symbol or string table missing")
	} else if m.syment == 0 {
		m.syment = elf.Sym32Size
	}
	if err := m.parseHash(); err != nil {
		return fmt.Errorf("%s: hash table: %w", m.name, err)
	}
	// GNU hash takes precedence; word 1 of either header sizes the check
	if m.hasGNU {
		m.symCount = m.gnuHash.symbias
	} else if len(m.dynamic[elf.DT_HASH]) != 0 {
		m.symCount = uint32(len(m.hash.chains))
	} else {
		return m.formatError("no symbol hash table")
	}
	return nil
}

func (m *module) dynPtr(tag elf.DynTag) uint64 {
	if v := m.dynamic[tag]; len(v) != 0 {
		return m.absolute(v[0])
	}
	return 0
}

func (m *module) dynVal(tag elf.DynTag) uint64 {
	if v := m.dynamic[tag]; len(v) != 0 {
		return v[0]
	}
	return 0
}

// checkSymbols requires every undefined symbol to be defined by some
// registered module. Duplicate global definitions are only reported.
func (m *module) checkSymbols() error {
	for i := uint32(1); i < m.symCount; i++ {
		sym, err := m.GetSymbol(i)
		if err != nil {
			return err
		} else if sym.Name == "" {
			continue
		}
		strong, weak := 0, 0
		for _, other := range m.b.Modules() {
			def, err := other.FindSymbol(sym.Name)
			if isMissing(err) {
				continue
			} else if err != nil {
				return err
			}
			switch def.Bind {
			case elf.STB_GLOBAL:
				strong++
			case elf.STB_WEAK:
				weak++
			}
		}
		if sym.Section == elf.SHN_UNDEF {
			if strong == 0 && weak == 0 {
				return &boot.SymbolError{Module: m.name, Symbol: sym.Name}
			}
		} else if strong > 0 && elf.ST_BIND(sym.Info) == elf.STB_GLOBAL {
			m.log.Printf("%s: symbol %s is defined more than once", m.name, sym.Name)
		}
	}
	return nil
}

// extractOperations records the entry pointer slots. A missing slot
// symbol is an error; a slot holding null means the routine is absent.
func (m *module) extractOperations() error {
	for _, op := range []struct {
		name string
		slot *uint64
	}{
		{InitPtrName, &m.initSlot},
		{ExitPtrName, &m.exitSlot},
		{MainPtrName, &m.mainSlot},
	} {
		sym, err := m.findSymbol(op.name)
		if isMissing(err) {
			return &boot.SymbolError{Module: m.name, Symbol: op.name}
		} else if err != nil {
			return err
		}
		slot := m.absolute(sym.Value)
		v, err := m.b.ToPointer(slot).MemReadWord()
		if err != nil {
			return err
		} else if v != 0 {
			*op.slot = slot
		}
	}
	return nil
}

func (m *module) resolveSymbols() error {
	if v := m.dynamic[elf.DT_PLTREL]; len(v) != 0 && elf.DynTag(v[0]) != elf.DT_REL {
		return m.formatError("unsupported PLT relocation")
	}
	if size := m.dynVal(elf.DT_RELSZ); size > 0 {
		ent := m.dynVal(elf.DT_RELENT)
		if ent < rel32Size {
			return m.formatError("bad relocation entry size")
		}
		if err := m.relocateTable(m.dynPtr(elf.DT_REL), size, ent); err != nil {
			return err
		}
	}
	if size := m.dynVal(elf.DT_PLTRELSZ); size > 0 {
		if err := m.relocateTable(m.dynPtr(elf.DT_JMPREL), size, rel32Size); err != nil {
			return err
		}
	}
	return nil
}

func (m *module) relocateTable(addr, size, ent uint64) error {
	if addr == 0 {
		return m.formatError("relocation table missing")
	}
	for off := uint64(0); off+ent <= size; off += ent {
		var rel elf.Rel32
		if err := binary.Read(m.sectionReader(addr+off, rel32Size), binary.LittleEndian, &rel); err != nil {
			return err
		}
		if err := m.relocate(rel); err != nil {
			var fe *boot.FormatError
			if errors.As(err, &fe) {
				return err
			}
			return fmt.Errorf("%s: relocation at %#x: %w", m.name, rel.Off, err)
		}
	}
	return nil
}
