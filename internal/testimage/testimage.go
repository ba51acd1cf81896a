// Package testimage builds small ELF32 i386 shared objects whose code is
// made of routine trap stubs.
package testimage

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"slices"
)

type HashStyle int

const (
	HashSysV HashStyle = 1 << iota
	HashGNU
)

type Entry int

const (
	Init Entry = iota
	Exit
	Main
)

var entryNames = [...]string{
	Init: "__module_init_ptr",
	Exit: "__module_exit_ptr",
	Main: "__module_main_ptr",
}

const (
	ehdrSize   = 52
	phdrSize   = 32
	symSize    = 16
	relSize    = 8
	dynSize    = 8
	stubSize   = 8
	shndxText  = 1
	shndxData  = 2
	gnuShift   = 5
	sysvBucket = 3
)

type routine struct {
	name string
	id   uint32
}

type blob struct {
	name string
	data []byte
	bind elf.SymBind
}

type reloc struct {
	typ    elf.R_386
	target string
	off    uint32
	sym    string
	plt    bool
}

type Builder struct {
	Machine elf.Machine
	Type    elf.Type
	Hash    HashStyle
	PLTRel  elf.DynTag
	// Bss extends the data segment's memory size past its file size.
	Bss       uint32
	NoDynamic bool

	routines []routine
	blobs    []blob
	imports  []string
	entries  [3]string
	omit     [3]bool
	relocs   []reloc
}

type Image struct {
	Bytes []byte
	addrs map[string]uint32
}

type symbol struct {
	name  string
	value uint32
	size  uint32
	info  uint8
	shndx uint16
}

func New() *Builder {
	return &Builder{Machine: elf.EM_386, Type: elf.ET_DYN, Hash: HashSysV | HashGNU, PLTRel: elf.DT_REL}
}

// Routine defines a global function whose code traps into routine id.
func (b *Builder) Routine(name string, id uint32) *Builder {
	b.routines = append(b.routines, routine{name, id})
	return b
}

func (b *Builder) Data(name string, data []byte) *Builder {
	b.blobs = append(b.blobs, blob{name, data, elf.STB_GLOBAL})
	return b
}

func (b *Builder) Weak(name string, data []byte) *Builder {
	b.blobs = append(b.blobs, blob{name, data, elf.STB_WEAK})
	return b
}

// Word defines a 4-byte global object holding v.
func (b *Builder) Word(name string, v uint32) *Builder {
	return b.Data(name, binary.LittleEndian.AppendUint32(nil, v))
}

// Import declares symbols the image expects another module to define.
func (b *Builder) Import(names ...string) *Builder {
	b.imports = append(b.imports, names...)
	return b
}

// Entry points the entry slot at a routine. An empty name leaves it null.
func (b *Builder) Entry(e Entry, routine string) *Builder {
	b.entries[e] = routine
	return b
}

// OmitEntry drops the entry slot symbol entirely.
func (b *Builder) OmitEntry(e Entry) *Builder {
	b.omit[e] = true
	return b
}

// Reloc adds a REL entry patching data object target at off.
func (b *Builder) Reloc(typ elf.R_386, target string, off uint32, sym string) *Builder {
	b.relocs = append(b.relocs, reloc{typ: typ, target: target, off: off, sym: sym})
	return b
}

// PLT adds a JMPREL entry binding data object target at off to sym.
func (b *Builder) PLT(target string, off uint32, sym string) *Builder {
	b.relocs = append(b.relocs, reloc{typ: elf.R_386_JMP_SLOT, target: target, off: off, sym: sym, plt: true})
	return b
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func (b *Builder) Build() *Image {
	img := &Image{addrs: make(map[string]uint32)}

	syms := []symbol{{}}
	for _, name := range b.imports {
		syms = append(syms, symbol{name: name, info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_NOTYPE)})
	}
	symoffset := uint32(len(syms))
	for _, r := range b.routines {
		syms = append(syms, symbol{name: r.name, size: stubSize, info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), shndx: shndxText})
	}
	for _, d := range b.blobs {
		syms = append(syms, symbol{name: d.name, size: uint32(len(d.data)), info: elf.ST_INFO(d.bind, elf.STT_OBJECT), shndx: shndxData})
	}
	var slots []Entry
	for e := range entryNames {
		if !b.omit[e] {
			slots = append(slots, Entry(e))
			syms = append(syms, symbol{name: entryNames[e], size: 4, info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT), shndx: shndxData})
		}
	}
	symIndex := make(map[string]uint32)
	strtab := []byte{0}
	nameOff := make([]uint32, len(syms))
	for i, s := range syms[1:] {
		nameOff[i+1] = uint32(len(strtab))
		strtab = append(append(strtab, s.name...), 0)
		if _, ok := symIndex[s.name]; !ok {
			symIndex[s.name] = uint32(i + 1)
		}
	}

	var rels, plts []reloc
	for _, r := range b.relocs {
		if r.plt {
			plts = append(plts, r)
		} else {
			rels = append(rels, r)
		}
	}
	for _, e := range slots {
		if b.entries[e] != "" {
			rels = append(rels, reloc{typ: elf.R_386_RELATIVE, target: entryNames[e]})
		}
	}

	// text segment
	off := uint32(ehdrSize + 3*phdrSize)
	off = align(off, 4)
	symtabOff := off
	off += symSize * uint32(len(syms))
	strtabOff := off
	off = align(off+uint32(len(strtab)), 4)
	var hashOff, gnuOff uint32
	nsym := uint32(len(syms))
	if b.Hash&HashSysV != 0 {
		hashOff = off
		off += 4 * (2 + sysvBucket + nsym)
	}
	if b.Hash&HashGNU != 0 {
		gnuOff = off
		off += 4 * (4 + 1 + 1 + (nsym - symoffset))
	}
	relOff := off
	off += relSize * uint32(len(rels))
	pltOff := off
	off += relSize * uint32(len(plts))
	textOff := align(off, 16)
	for i, r := range b.routines {
		img.addrs[r.name] = textOff + uint32(i)*stubSize
	}
	textEnd := textOff + stubSize*uint32(len(b.routines))

	// data segment
	type dyn struct {
		tag elf.DynTag
		val func() uint32
	}
	var dataOff uint32
	var dyns []dyn
	add := func(tag elf.DynTag, val func() uint32) { dyns = append(dyns, dyn{tag, val}) }
	fixed := func(v uint32) func() uint32 { return func() uint32 { return v } }
	if hashOff != 0 {
		add(elf.DT_HASH, fixed(hashOff))
	}
	if gnuOff != 0 {
		add(elf.DT_GNU_HASH, fixed(gnuOff))
	}
	add(elf.DT_STRTAB, fixed(strtabOff))
	add(elf.DT_STRSZ, fixed(uint32(len(strtab))))
	add(elf.DT_SYMTAB, fixed(symtabOff))
	add(elf.DT_SYMENT, fixed(symSize))
	add(elf.DT_PLTGOT, func() uint32 { return dataOff })
	if len(rels) != 0 {
		add(elf.DT_REL, fixed(relOff))
		add(elf.DT_RELSZ, fixed(relSize*uint32(len(rels))))
		add(elf.DT_RELENT, fixed(relSize))
	}
	if len(plts) != 0 {
		add(elf.DT_PLTRELSZ, fixed(relSize*uint32(len(plts))))
		add(elf.DT_PLTREL, fixed(uint32(b.PLTRel)))
		add(elf.DT_JMPREL, fixed(pltOff))
	}
	add(elf.DT_NULL, fixed(0))

	dataSeg := align(textEnd, 16)
	dynOff := dataSeg
	dataOff = dynOff + dynSize*uint32(len(dyns))
	off = dataOff
	for _, e := range slots {
		img.addrs[entryNames[e]] = off
		off += 4
	}
	for _, d := range b.blobs {
		off = align(off, 4)
		img.addrs[d.name] = off
		off += uint32(len(d.data))
	}
	fileEnd := align(off, 4)

	buf := make([]byte, fileEnd)
	put := func(at uint32, v any) {
		if _, err := binary.Encode(buf[at:], binary.LittleEndian, v); err != nil {
			panic(fmt.Sprintf("testimage: encode at %#x: %v", at, err))
		}
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	put(0, elf.Header32{
		Ident:     ident,
		Type:      uint16(b.Type),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     3,
		Shentsize: 40,
	})
	dynType := elf.PT_DYNAMIC
	if b.NoDynamic {
		dynType = elf.PT_NOTE
	}
	progs := []elf.Prog32{
		{Type: uint32(elf.PT_LOAD), Off: 0, Vaddr: 0, Paddr: 0, Filesz: textEnd, Memsz: textEnd, Flags: uint32(elf.PF_R | elf.PF_X), Align: 16},
		{Type: uint32(elf.PT_LOAD), Off: dataSeg, Vaddr: dataSeg, Paddr: dataSeg, Filesz: fileEnd - dataSeg, Memsz: fileEnd - dataSeg + b.Bss, Flags: uint32(elf.PF_R | elf.PF_W), Align: 16},
		{Type: uint32(dynType), Off: dynOff, Vaddr: dynOff, Paddr: dynOff, Filesz: dynSize * uint32(len(dyns)), Memsz: dynSize * uint32(len(dyns)), Flags: uint32(elf.PF_R | elf.PF_W), Align: 4},
	}
	for i, p := range progs {
		put(ehdrSize+uint32(i)*phdrSize, p)
	}

	for i := range syms {
		s := &syms[i]
		switch s.shndx {
		case shndxText, shndxData:
			s.value = img.addrs[s.name]
		}
		put(symtabOff+uint32(i)*symSize, elf.Sym32{Name: nameOff[i], Value: s.value, Size: s.size, Info: s.info, Shndx: s.shndx})
	}
	copy(buf[strtabOff:], strtab)

	if hashOff != 0 {
		buckets := make([]uint32, sysvBucket)
		chains := make([]uint32, nsym)
		for i := uint32(1); i < nsym; i++ {
			h := elfHash(syms[i].name) % sysvBucket
			chains[i] = buckets[h]
			buckets[h] = i
		}
		put(hashOff, []uint32{sysvBucket, nsym})
		put(hashOff+8, buckets)
		put(hashOff+8+4*sysvBucket, chains)
	}
	if gnuOff != 0 {
		var bloom, bucket uint32
		chains := make([]uint32, nsym-symoffset)
		for i := symoffset; i < nsym; i++ {
			h := gnuHash(syms[i].name)
			bloom |= 1<<(h%32) | 1<<((h>>gnuShift)%32)
			chains[i-symoffset] = h &^ 1
		}
		if n := len(chains); n != 0 {
			chains[n-1] |= 1
			bucket = symoffset
		}
		put(gnuOff, []uint32{1, symoffset, 1, gnuShift, bloom, bucket})
		put(gnuOff+24, chains)
	}

	encodeRel := func(at uint32, r reloc) {
		var sym uint32
		if r.sym != "" {
			idx, ok := symIndex[r.sym]
			if !ok {
				panic(fmt.Sprintf("testimage: relocation against unknown symbol %s", r.sym))
			}
			sym = idx
		}
		put(at, elf.Rel32{Off: img.addrs[r.target] + r.off, Info: elf.R_INFO32(sym, uint32(r.typ))})
	}
	for i, r := range rels {
		encodeRel(relOff+uint32(i)*relSize, r)
	}
	for i, r := range plts {
		encodeRel(pltOff+uint32(i)*relSize, r)
	}

	for i, r := range b.routines {
		at := textOff + uint32(i)*stubSize
		copy(buf[at:], []byte{0x0F, 0x0B})
		put(at+2, r.id)
	}

	for i, d := range dyns {
		put(dynOff+uint32(i)*dynSize, elf.Dyn32{Tag: int32(d.tag), Val: d.val()})
	}
	for _, e := range slots {
		if name := b.entries[e]; name != "" {
			addr, ok := img.addrs[name]
			if !ok || !slices.ContainsFunc(b.routines, func(r routine) bool { return r.name == name }) {
				panic(fmt.Sprintf("testimage: entry routine %s not defined", name))
			}
			put(img.addrs[entryNames[e]], addr)
		}
	}
	for _, d := range b.blobs {
		copy(buf[img.addrs[d.name]:], d.data)
	}
	img.Bytes = buf
	return img
}

// Addr returns the image virtual address of a routine, object or entry
// slot.
func (img *Image) Addr(name string) uint32 {
	return img.addrs[name]
}

func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xF0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xF0000000
	}
	return h
}

func gnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}
