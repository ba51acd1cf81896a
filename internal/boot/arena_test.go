package boot

import (
	"errors"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"

	"github.com/wnxd/microboot/boot"
)

func newTestArena(t *testing.T, size uint64) *arena {
	t.Helper()
	a := newArena()
	if err := a.inject(0x100000, size, boot.HeapMain); err != nil {
		t.Fatalf("inject: %v", err)
	}
	return a
}

func mustValidate(t *testing.T, a *arena) {
	t.Helper()
	if err := a.validate(); err != nil {
		t.Fatalf("%v\n%s", err, spew.Sdump(a.blocks))
	}
}

func freeBytes(a *arena, heap boot.Heap) (n uint64) {
	for i := a.free[heap]; i != nilBlock; i = a.blocks[i].nextFree {
		n += a.blocks[i].size
	}
	return
}

func TestArenaAllocFree(t *testing.T) {
	a := newTestArena(t, 0x1000)
	addr, ok := a.alloc(10, 0, boot.HeapMain, boot.TagCore)
	if !ok || addr != 0x100000 {
		t.Fatalf("alloc = %#x, %v", addr, ok)
	}
	mustValidate(t, a)
	if b, _ := a.lookup(addr); b.size != minAlign || b.tag != boot.TagCore {
		t.Fatalf("block = %s", spew.Sdump(b))
	}
	next, _ := a.alloc(0x20, 0, boot.HeapMain, boot.TagCore)
	if next != addr+minAlign {
		t.Fatalf("second alloc = %#x", next)
	}
	if err := a.dealloc(addr); err != nil {
		t.Fatal(err)
	}
	if err := a.dealloc(next); err != nil {
		t.Fatal(err)
	}
	mustValidate(t, a)
	if a.chain[boot.HeapMain] != a.free[boot.HeapMain] || a.blocks[a.chain[boot.HeapMain]].size != 0x1000 {
		t.Fatalf("heap did not coalesce back into one block:\n%s", spew.Sdump(a.blocks))
	}
}

func TestArenaAlignedAlloc(t *testing.T) {
	a := newTestArena(t, 0x4000)
	a.alloc(0x10, 0, boot.HeapMain, boot.TagCore)
	addr, ok := a.alloc(0x100, 0x1000, boot.HeapMain, boot.TagModule)
	if !ok || addr%0x1000 != 0 {
		t.Fatalf("aligned alloc = %#x, %v", addr, ok)
	}
	mustValidate(t, a)
	// the alignment padding stays allocatable
	pad, ok := a.alloc(0x20, 0, boot.HeapMain, boot.TagCore)
	if !ok || pad >= addr {
		t.Fatalf("padding alloc = %#x, want below %#x", pad, addr)
	}
	mustValidate(t, a)
	if _, ok := a.alloc(0x10000, 0, boot.HeapMain, boot.TagCore); ok {
		t.Fatal("oversized alloc succeeded")
	}
}

func TestArenaFreeTagged(t *testing.T) {
	a := newTestArena(t, 0x1000)
	tags := []boot.Tag{boot.TagUser, boot.TagUser, boot.TagUser + 1, boot.TagUser}
	addrs := make([]uint64, len(tags))
	for i, tag := range tags {
		addrs[i] = fn.Panic1(allocOK(a.alloc(0x40, 0, boot.HeapMain, tag)))
	}
	before := freeBytes(a, boot.HeapMain)
	if n := a.freeTagged(boot.TagUser); n != 3 {
		t.Fatalf("freeTagged = %d, want 3", n)
	}
	mustValidate(t, a)
	if got := freeBytes(a, boot.HeapMain); got != before+3*0x40 {
		t.Fatalf("free bytes = %#x, want %#x", got, before+3*0x40)
	}
	if b, ok := a.lookup(addrs[2]); !ok || b.tag != boot.TagUser+1 {
		t.Fatalf("untagged survivor missing: %s", spew.Sdump(a.blocks))
	}
	for _, i := range []int{0, 1, 3} {
		if _, ok := a.lookup(addrs[i]); ok {
			t.Errorf("block %#x still in use", addrs[i])
		}
	}
	if n := a.freeTagged(boot.TagUser); n != 0 {
		t.Fatalf("second freeTagged = %d", n)
	}
}

func allocOK(addr uint64, ok bool) (uint64, error) {
	if !ok {
		return 0, boot.ErrOutOfMemory
	}
	return addr, nil
}

func TestArenaDoubleFree(t *testing.T) {
	a := newTestArena(t, 0x1000)
	addr, _ := a.alloc(0x40, 0, boot.HeapMain, boot.TagCore)
	if err := a.dealloc(addr); err != nil {
		t.Fatal(err)
	}
	if err := a.dealloc(addr); !errors.Is(err, boot.ErrDoubleFree) {
		t.Fatalf("second dealloc = %v", err)
	}
	if err := a.dealloc(0x900000); !errors.Is(err, boot.ErrAddressInvalid) {
		t.Fatalf("foreign dealloc = %v", err)
	}
	mustValidate(t, a)
}

func TestArenaInject(t *testing.T) {
	a := newTestArena(t, 0x1000)
	cases := []struct {
		addr, size uint64
		heap       boot.Heap
		want       error
	}{
		{0x100800, 0x1000, boot.HeapMain, boot.ErrMemOverlap},
		{0x0FF800, 0x1000, boot.HeapLow, boot.ErrMemOverlap},
		{0x100008, 0x1000, boot.HeapMain, boot.ErrArgumentInvalid},
		{0x200000, 0x8, boot.HeapMain, boot.ErrArgumentInvalid},
		{0x200000, 0x1000, boot.NumHeaps, boot.ErrArgumentInvalid},
		{0x101000, 0x1000, boot.HeapMain, nil},
		{0x080000, 0x1000, boot.HeapLow, nil},
	}
	for _, c := range cases {
		if err := a.inject(c.addr, c.size, c.heap); !errors.Is(err, c.want) {
			t.Errorf("inject(%#x, %#x, %d) = %v, want %v", c.addr, c.size, c.heap, err, c.want)
		}
	}
	mustValidate(t, a)
	// adjacent ranges coalesce
	if i := a.free[boot.HeapMain]; a.blocks[i].size != 0x2000 || a.blocks[i].next != nilBlock {
		t.Fatalf("main heap:\n%s", spew.Sdump(a.blocks))
	}
	addr, ok := a.alloc(0x40, 0, boot.HeapLow, boot.TagCore)
	if !ok || addr != 0x080000 {
		t.Fatalf("low alloc = %#x, %v", addr, ok)
	}
}

func TestArenaReusesFreedRange(t *testing.T) {
	a := newTestArena(t, 0x400)
	var addrs []uint64
	for {
		addr, ok := a.alloc(0x30, 0, boot.HeapMain, boot.TagCore)
		if !ok {
			break
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) != 0x400/0x30 {
		t.Fatalf("allocated %d blocks", len(addrs))
	}
	for i := 0; i < len(addrs); i += 2 {
		a.dealloc(addrs[i])
	}
	mustValidate(t, a)
	// the last hole merged with the heap tail is the only one that fits
	if _, ok := a.alloc(0x40, 0, boot.HeapMain, boot.TagCore); !ok {
		t.Fatalf("fragmented alloc failed:\n%s", spew.Sdump(a.blocks))
	}
	for i := 1; i < len(addrs); i += 2 {
		a.dealloc(addrs[i])
	}
	mustValidate(t, a)
}
