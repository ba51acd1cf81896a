package elf_test

import (
	"debug/elf"
	"errors"
	"slices"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"

	"github.com/wnxd/microboot/boot"
	elfloader "github.com/wnxd/microboot/elf"
	"github.com/wnxd/microboot/internal/testimage"
)

func readWord(t *testing.T, b boot.Boot, addr uint64) uint32 {
	t.Helper()
	return uint32(fn.Panic1(b.ToPointer(addr).MemReadWord()))
}

func symbolAddr(t *testing.T, m boot.Module, name string) uint64 {
	t.Helper()
	sym, err := m.FindSymbol(name)
	if err != nil {
		t.Fatalf("%s: FindSymbol(%s): %v", m.Name(), name, err)
	}
	return sym.Value
}

func assertNoModule(t *testing.T, b boot.Boot, name string) {
	t.Helper()
	if _, err := b.FindModule(name); !errors.Is(err, boot.ErrModuleNotFound) {
		t.Fatalf("%s still registered", name)
	}
	if n := b.MemFreeTagged(boot.TagModule); n != 0 {
		t.Fatalf("%d image blocks leaked", n)
	}
}

func TestLoadRelocates(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	lib := testimage.New().
		Word("counter", 0x11).
		Routine("lib_fn", 0x7777)
	fs.Add("lib.c32", lib.Build().Bytes)
	prog := testimage.New().
		Import("counter", "lib_fn", "malloc").
		Word("p_abs", 4).Reloc(elf.R_386_32, "p_abs", 0, "counter").
		Word("p_pc", 0).Reloc(elf.R_386_PC32, "p_pc", 0, "counter").
		Word("got_malloc", 0).Reloc(elf.R_386_GLOB_DAT, "got_malloc", 0, "malloc").
		Word("local", 0x40).Reloc(elf.R_386_RELATIVE, "local", 0, "").
		Word("plt_fn", 0).PLT("plt_fn", 0, "lib_fn")
	fs.Add("prog.c32", prog.Build().Bytes)

	libMod := fn.Panic1(b.Load("lib.c32"))
	progMod := fn.Panic1(b.Load("prog.c32"))

	counter := symbolAddr(t, libMod, "counter")
	if got := readWord(t, b, counter); got != 0x11 {
		t.Fatalf("counter = %#x", got)
	}
	pAbs := symbolAddr(t, progMod, "p_abs")
	pPC := symbolAddr(t, progMod, "p_pc")
	_, malloc, err := b.FindSymbol("malloc")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][2]uint32{
		"p_abs":      {readWord(t, b, pAbs), uint32(counter + 4)},
		"p_pc":       {readWord(t, b, pPC), uint32(counter - pPC)},
		"got_malloc": {readWord(t, b, symbolAddr(t, progMod, "got_malloc")), uint32(malloc.Value)},
		"local":      {readWord(t, b, symbolAddr(t, progMod, "local")), uint32(progMod.BaseAddr() + 0x40)},
		"plt_fn":     {readWord(t, b, symbolAddr(t, progMod, "plt_fn")), uint32(symbolAddr(t, libMod, "lib_fn"))},
	}
	for name, v := range want {
		if v[0] != v[1] {
			t.Errorf("%s = %#x, want %#x", name, v[0], v[1])
		}
	}

	if m, ok := progMod.(elfloader.Module); !ok || m.State() != elfloader.StateReady {
		t.Fatalf("prog state: %s", spew.Sdump(progMod))
	}
	if deps := b.Dependents(libMod); !slices.Contains(deps, progMod) {
		t.Fatalf("lib dependents = %v", deps)
	}
	if b.Unloadable(libMod) || !b.Unloadable(progMod) {
		t.Fatal("unexpected unloadable state")
	}
	if root := b.Modules()[len(b.Modules())-1]; !slices.Contains(b.Dependents(root), progMod) {
		t.Fatal("prog does not depend on the root module")
	}
}

func TestLoadEntries(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	fs.Add("prog.c32", testimage.New().
		Routine("main", 1).
		Routine("fini", 2).
		Entry(testimage.Main, "main").
		Entry(testimage.Exit, "fini").
		Build().Bytes)
	m := fn.Panic1(b.Load("prog.c32"))
	switch {
	case m.MainAddr() != symbolAddr(t, m, "main"):
		t.Errorf("main = %#x", m.MainAddr())
	case m.ExitAddr() != symbolAddr(t, m, "fini"):
		t.Errorf("exit = %#x", m.ExitAddr())
	case m.InitAddr() != 0:
		t.Errorf("init = %#x, want absent", m.InitAddr())
	}
	if boot.KindOf(m) != boot.ModuleExec {
		t.Errorf("kind = %s", boot.KindOf(m))
	}
	begin, size := m.Region()
	if m.MainAddr() < begin || m.MainAddr() >= begin+size {
		t.Errorf("main %#x outside region %#x+%#x", m.MainAddr(), begin, size)
	}
	if tag, ok := b.MemTag(begin); !ok || tag != boot.TagModule {
		t.Errorf("image tag = %d, %v", tag, ok)
	}
	if found, err := b.FindModuleByAddr(m.MainAddr()); err != nil || found != m {
		t.Errorf("FindModuleByAddr = %v, %v", found, err)
	}
}

func TestLoadDuplicate(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	fs.Add("lib.c32", testimage.New().Build().Bytes)
	fn.Panic1(b.Load("lib.c32"))
	_, err := b.Load("lib.c32")
	var dup *boot.DuplicateModuleError
	if !errors.As(err, &dup) || dup.Module != "lib.c32" {
		t.Fatalf("second load = %v", err)
	}
	if n := len(b.Modules()); n != 2 {
		t.Fatalf("%d modules registered", n)
	}
}

func TestLoadUndefinedSymbol(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	fs.Add("prog.c32", testimage.New().
		Import("nowhere").
		Word("slot", 0).Reloc(elf.R_386_GLOB_DAT, "slot", 0, "nowhere").
		Build().Bytes)
	_, err := b.Load("prog.c32")
	var se *boot.SymbolError
	if !errors.As(err, &se) || se.Symbol != "nowhere" || !errors.Is(err, boot.ErrSymbolNotFound) {
		t.Fatalf("load = %v", err)
	}
	assertNoModule(t, b, "prog.c32")
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name   string
		build  func(*testimage.Builder)
		format bool
	}{
		{"machine", func(ib *testimage.Builder) { ib.Machine = elf.EM_X86_64 }, true},
		{"type", func(ib *testimage.Builder) { ib.Type = elf.ET_EXEC }, true},
		{"dynamic", func(ib *testimage.Builder) { ib.NoDynamic = true }, true},
		{"hash", func(ib *testimage.Builder) { ib.Hash = 0 }, true},
		{"pltrel", func(ib *testimage.Builder) {
			ib.PLTRel = elf.DT_RELA
			ib.Word("slot", 0).PLT("slot", 0, "malloc").Import("malloc")
		}, true},
		{"reloc type", func(ib *testimage.Builder) {
			ib.Word("slot", 0).Reloc(elf.R_386_GOTOFF, "slot", 0, "")
		}, true},
		{"entry", func(ib *testimage.Builder) { ib.OmitEntry(testimage.Init) }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, fs := testimage.NewBoot(t)
			ib := testimage.New()
			c.build(ib)
			fs.Add("bad.c32", ib.Build().Bytes)
			_, err := b.Load("bad.c32")
			var fe *boot.FormatError
			if err == nil || errors.As(err, &fe) != c.format {
				t.Fatalf("load = %v", err)
			}
			assertNoModule(t, b, "bad.c32")
		})
	}
}

func TestLoadTruncated(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	data := testimage.New().Word("x", 1).Build().Bytes
	fs.Add("short.c32", data[:40])
	fs.Add("phdr.c32", data[:60])
	fs.Add("cut.c32", data[:len(data)-8])
	fs.Add("text.c32", []byte("#!/bin/sh\necho not an image\n"))
	for _, name := range []string{"short.c32", "phdr.c32", "cut.c32", "text.c32", "missing.c32"} {
		if _, err := b.Load(name); err == nil {
			t.Errorf("%s loaded", name)
		}
		assertNoModule(t, b, name)
	}
}

func TestHashStyles(t *testing.T) {
	for _, style := range []testimage.HashStyle{testimage.HashSysV, testimage.HashGNU, testimage.HashSysV | testimage.HashGNU} {
		b, fs := testimage.NewBoot(t)
		ib := testimage.New()
		ib.Hash = style
		fs.Add("lib.c32", ib.Word("alpha", 1).Word("beta", 2).Routine("gamma", 3).Import("puts").Build().Bytes)
		m := fn.Panic1(b.Load("lib.c32"))
		var names []string
		for sym := range m.Symbols {
			names = append(names, sym.Name)
		}
		slices.Sort(names)
		want := []string{elfloader.ExitPtrName, elfloader.InitPtrName, elfloader.MainPtrName, "alpha", "beta", "gamma"}
		if !slices.Equal(names, want) {
			t.Errorf("hash %d: symbols = %v", style, names)
		}
		if _, err := m.FindSymbol("puts"); !errors.Is(err, boot.ErrSymbolNotFound) {
			t.Errorf("hash %d: import resolved locally: %v", style, err)
		}
		if readWord(t, b, symbolAddr(t, m, "beta")) != 2 {
			t.Errorf("hash %d: beta corrupted", style)
		}
	}
}

func TestGlobalLookupOrder(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	fs.Add("a.c32", testimage.New().Weak("val", []byte{1, 0, 0, 0}).Weak("soft", []byte{1}).Build().Bytes)
	fs.Add("b.c32", testimage.New().Word("val", 2).Build().Bytes)
	fs.Add("c.c32", testimage.New().Weak("val", []byte{3, 0, 0, 0}).Weak("soft", []byte{3}).Build().Bytes)
	for _, name := range []string{"a.c32", "b.c32", "c.c32"} {
		fn.Panic1(b.Load(name))
	}
	owner, sym, err := b.FindSymbol("val")
	if err != nil || owner.Name() != "b.c32" || sym.Bind != elf.STB_GLOBAL {
		t.Fatalf("val resolved to %v, %+v, %v", owner, sym, err)
	}
	owner, sym, err = b.FindSymbol("soft")
	if err != nil || owner.Name() != "c.c32" || sym.Bind != elf.STB_WEAK {
		t.Fatalf("soft resolved to %v, %+v, %v", owner, sym, err)
	}
	if _, _, err = b.FindSymbol("absent"); !errors.Is(err, boot.ErrSymbolNotFound) {
		t.Fatalf("absent = %v", err)
	}
}

func TestBssZeroed(t *testing.T) {
	b, fs := testimage.NewBoot(t)
	// dirty the heap so a stale block would be visible
	addr := fn.Panic1(b.MemAlloc(0x2000))
	fn.Panic(b.ToPointer(addr).MemWrite(slices.Repeat([]byte{0xA5}, 0x2000)))
	fn.Panic(b.MemFree(addr))

	ib := testimage.New().Word("x", 1)
	ib.Bss = 0x200
	fs.Add("bss.c32", ib.Build().Bytes)
	m := fn.Panic1(b.Load("bss.c32"))
	begin, size := m.Region()
	tail := fn.Panic1(b.ToPointer(begin + size - 0x200).MemRead(0x200))
	if i := slices.IndexFunc(tail, func(c byte) bool { return c != 0 }); i != -1 {
		t.Fatalf("bss byte %d = %#x", i, tail[i])
	}
}
