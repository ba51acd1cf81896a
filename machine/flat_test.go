package machine

import (
	"errors"
	"testing"
)

func newFlat(t *testing.T) Machine {
	t.Helper()
	m, err := NewFlat(ARCH_X86)
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestFlatMapOverlap(t *testing.T) {
	m := newFlat(t)
	if err := m.MemMap(0x10000, 0x2000, MEM_PROT_ALL); err != nil {
		t.Fatalf("MemMap: %v", err)
	}
	cases := []struct {
		addr, size uint64
		want       error
	}{
		{0x10000, 0x1000, ErrMemOverlap},
		{0xF000, 0x2000, ErrMemOverlap},
		{0x11000, 0x1000, ErrMemOverlap},
		{0x10800, 0x1000, ErrMemAlign},
		{0xFFFFF000, 0x2000, ErrMemRange},
	}
	for _, c := range cases {
		if err := m.MemMap(c.addr, c.size, MEM_PROT_ALL); !errors.Is(err, c.want) {
			t.Errorf("MemMap(%#x, %#x) = %v, want %v", c.addr, c.size, err, c.want)
		}
	}
	if err := m.MemMap(0x12000, 0x1000, MEM_PROT_ALL); err != nil {
		t.Fatalf("adjacent MemMap: %v", err)
	}
	regions, _ := m.MemRegions()
	if len(regions) != 2 || regions[0].Addr != 0x10000 || regions[1].Addr != 0x12000 {
		t.Fatalf("regions = %+v", regions)
	}
}

func TestFlatAccessAcrossRegions(t *testing.T) {
	m := newFlat(t)
	m.MemMap(0x20000, 0x1000, MEM_PROT_ALL)
	m.MemMap(0x21000, 0x1000, MEM_PROT_ALL)
	data := []byte("straddles a page boundary")
	addr := uint64(0x21000 - 8)
	if err := m.MemWrite(addr, data); err != nil {
		t.Fatalf("MemWrite: %v", err)
	}
	got, err := m.MemRead(addr, uint64(len(data)))
	if err != nil || string(got) != string(data) {
		t.Fatalf("MemRead = %q, %v", got, err)
	}
	if _, err := m.MemRead(0x22000-4, 8); !errors.Is(err, ErrMemUnmapped) {
		t.Fatalf("read past end: %v", err)
	}
	if err := m.MemUnmap(0x21000, 0x1000); err != nil {
		t.Fatalf("MemUnmap: %v", err)
	}
	if _, err := m.MemRead(0x21000, 1); !errors.Is(err, ErrMemUnmapped) {
		t.Fatalf("read after unmap: %v", err)
	}
}

func TestPointerWordsAndStrings(t *testing.T) {
	m := newFlat(t)
	m.MemMap(0x30000, 0x1000, MEM_PROT_ALL)
	p := ToPointer(m, 0x30000)
	if err := p.MemWriteWord(0x1122334455); err != nil {
		t.Fatal(err)
	}
	if v, _ := p.MemReadWord(); v != 0x22334455 {
		t.Fatalf("word = %#x", v)
	}
	raw, _ := p.MemRead(4)
	if raw[0] != 0x55 || raw[3] != 0x22 {
		t.Fatalf("not little endian: % x", raw)
	}
	end := ToPointer(m, 0x31000-5)
	end.MemWrite([]byte("tail\x00"))
	if s, err := end.MemReadString(); err != nil || s != "tail" {
		t.Fatalf("MemReadString = %q, %v", s, err)
	}
}
