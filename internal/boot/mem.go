package boot

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/encoding"
	"github.com/wnxd/microboot/machine"
)

const lowHeapAddr = 0x10000

type memoryManager struct {
	mapAddr  uint64
	mapMu    sync.Mutex
	maps     map[uint64]uint64
	memMu    sync.Mutex
	arena    *arena
	mainSize uint64
	limit    uint64
}

func (mm *memoryManager) ctor(impl Boot, cfg boot.Config) error {
	mm.mapAddr = 0x400000
	mm.maps = make(map[uint64]uint64)
	mm.arena = newArena()
	mm.limit = cfg.HeapLimit
	if cfg.LowHeap != 0 {
		size := boot.Align(cfg.LowHeap, impl.Machine().PageSize())
		if lowHeapAddr+size > mm.mapAddr {
			return boot.ErrArgumentInvalid
		}
		region, err := mm.memMap(impl, lowHeapAddr, size, machine.MEM_PROT_READ|machine.MEM_PROT_WRITE)
		if err != nil {
			return err
		} else if err = mm.arena.inject(region.Addr, region.Size, boot.HeapLow); err != nil {
			return err
		}
	}
	if cfg.Heap != 0 {
		if err := mm.grow(impl, cfg.Heap); err != nil {
			return err
		}
	}
	return nil
}

func (mm *memoryManager) dtor(impl Boot) {
	m := impl.Machine()
	mm.mapMu.Lock()
	for _, addr := range slices.Sorted(maps.Keys(mm.maps)) {
		m.MemUnmap(addr, mm.maps[addr])
	}
	clear(mm.maps)
	mm.mapMu.Unlock()
}

func (mm *memoryManager) memMap(impl Boot, addr, size uint64, prot machine.MemProt) (machine.MemRegion, error) {
	m := impl.Machine()
	size = boot.Align(size, m.PageSize())
	if err := m.MemMap(addr, size, prot); err != nil {
		return machine.MemRegion{}, err
	}
	mm.mapMu.Lock()
	mm.maps[addr] = size
	mm.mapMu.Unlock()
	return machine.MemRegion{Addr: addr, Size: size, Prot: prot}, nil
}

func (mm *memoryManager) mapAlloc(impl Boot, size uint64, prot machine.MemProt) (machine.MemRegion, error) {
	size = boot.Align(size, impl.Machine().PageSize())
	addr := atomic.AddUint64(&mm.mapAddr, size) - size
	return mm.memMap(impl, addr, size, prot)
}

func (mm *memoryManager) mapFree(impl Boot, addr, size uint64) error {
	size = boot.Align(size, impl.Machine().PageSize())
	if err := impl.Machine().MemUnmap(addr, size); err != nil {
		return err
	}
	mm.mapMu.Lock()
	delete(mm.maps, addr)
	mm.mapMu.Unlock()
	return nil
}

// grow maps size more bytes for the main heap. Once the heap exists it
// only grows within the configured limit.
func (mm *memoryManager) grow(impl Boot, size uint64) error {
	size = boot.Align(size, impl.Machine().PageSize())
	if mm.mainSize != 0 && (mm.limit == 0 || mm.mainSize+size > mm.limit) {
		return boot.ErrOutOfMemory
	}
	region, err := mm.mapAlloc(impl, size, machine.MEM_PROT_READ|machine.MEM_PROT_WRITE|machine.MEM_PROT_EXEC)
	if err != nil {
		return err
	}
	mm.memMu.Lock()
	err = mm.arena.inject(region.Addr, region.Size, boot.HeapMain)
	mm.memMu.Unlock()
	if err != nil {
		mm.mapFree(impl, region.Addr, region.Size)
		return err
	}
	mm.mainSize += region.Size
	return nil
}

func (mm *memoryManager) memAllocHeap(impl Boot, size, align uint64, heap boot.Heap, tag boot.Tag) (uint64, error) {
	switch {
	case size == 0, tag == boot.TagFree, align&(align-1) != 0:
		return 0, boot.ErrArgumentInvalid
	case heap < 0 || heap >= boot.NumHeaps:
		return 0, boot.ErrArgumentInvalid
	}
	for {
		mm.memMu.Lock()
		addr, ok := mm.arena.alloc(size, align, heap, tag)
		mm.memMu.Unlock()
		if ok {
			return addr, nil
		} else if heap != boot.HeapMain || mm.grow(impl, size+max(align, minAlign)) != nil {
			return 0, &boot.AllocationError{Size: size, Align: align, Err: boot.ErrOutOfMemory}
		}
	}
}

// memAllocTagged tries the heaps in order before growing the main heap.
func (mm *memoryManager) memAllocTagged(impl Boot, size, align uint64, tag boot.Tag) (uint64, error) {
	if size == 0 || tag == boot.TagFree || align&(align-1) != 0 {
		return 0, boot.ErrArgumentInvalid
	}
	mm.memMu.Lock()
	for heap := boot.HeapMain; heap < boot.NumHeaps; heap++ {
		if addr, ok := mm.arena.alloc(size, align, heap, tag); ok {
			mm.memMu.Unlock()
			return addr, nil
		}
	}
	mm.memMu.Unlock()
	return mm.memAllocHeap(impl, size, align, boot.HeapMain, tag)
}

func (mm *memoryManager) memFree(addr uint64) error {
	if addr == 0 {
		return boot.ErrAddressInvalid
	}
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	return mm.arena.dealloc(addr)
}

func (mm *memoryManager) memFreeTagged(tag boot.Tag) int {
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	return mm.arena.freeTagged(tag)
}

func (mm *memoryManager) memInject(addr, size uint64, heap boot.Heap) error {
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	return mm.arena.inject(addr, size, heap)
}

func (mm *memoryManager) memSize(addr uint64) uint64 {
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	if b, ok := mm.arena.lookup(addr); ok {
		return b.size
	}
	return 0
}

func (mm *memoryManager) memTag(addr uint64) (boot.Tag, bool) {
	mm.memMu.Lock()
	defer mm.memMu.Unlock()
	if b, ok := mm.arena.lookup(addr); ok {
		return b.tag, true
	}
	return boot.TagFree, false
}

func (mm *memoryManager) memImport(impl Boot, val any) ([]uint64, error) {
	size := uint64(encoding.EncodeSize(int(impl.PointerSize()), val))
	addr, err := impl.MemAlloc(size)
	if err != nil {
		return nil, err
	}
	addrs, err := mm.memWrite(impl, addr, val)
	if err != nil {
		mm.memFree(addr)
		return nil, err
	}
	return append([]uint64{addr}, addrs...), nil
}

func (mm *memoryManager) memWrite(impl Boot, addr uint64, val any) ([]uint64, error) {
	var addrs []uint64
	stream := PointerStream(impl.ToPointer(addr), func(size uint64) (machine.Pointer, error) {
		addr, err := impl.MemAlloc(size)
		if err != nil {
			return machine.Pointer{}, err
		}
		addrs = append(addrs, addr)
		return impl.ToPointer(addr), nil
	}, int(impl.PointerSize()))
	if err := encoding.Encode(stream, val); err != nil {
		for _, addr := range addrs {
			mm.memFree(addr)
		}
		return nil, err
	}
	return addrs, nil
}

func (mm *memoryManager) memExtract(impl Boot, addr uint64, val any) error {
	stream := PointerStream(impl.ToPointer(addr), nil, int(impl.PointerSize()))
	return encoding.Decode(stream, val)
}

func (c *Core) MapAlloc(size uint64, prot machine.MemProt) (machine.MemRegion, error) {
	return c.memoryManager.mapAlloc(c.impl, size, prot)
}

func (c *Core) MapFree(addr, size uint64) error {
	return c.memoryManager.mapFree(c.impl, addr, size)
}

func (c *Core) MemAlloc(size uint64) (uint64, error) {
	return c.memoryManager.memAllocTagged(c.impl, size, 0, c.impl.DefaultTag())
}

func (c *Core) MemAllocTagged(size, align uint64, tag boot.Tag) (uint64, error) {
	return c.memoryManager.memAllocTagged(c.impl, size, align, tag)
}

func (c *Core) MemAllocHeap(size, align uint64, heap boot.Heap, tag boot.Tag) (uint64, error) {
	return c.memoryManager.memAllocHeap(c.impl, size, align, heap, tag)
}

func (c *Core) MemFree(addr uint64) error {
	return c.memoryManager.memFree(addr)
}

func (c *Core) MemFreeTagged(tag boot.Tag) int {
	return c.memoryManager.memFreeTagged(tag)
}

func (c *Core) MemInject(addr, size uint64, heap boot.Heap) error {
	return c.memoryManager.memInject(addr, size, heap)
}

func (c *Core) MemSize(addr uint64) uint64 {
	return c.memoryManager.memSize(addr)
}

func (c *Core) MemTag(addr uint64) (boot.Tag, bool) {
	return c.memoryManager.memTag(addr)
}

func (c *Core) ToPointer(addr uint64) machine.Pointer {
	return machine.ToPointer(c.m, addr)
}

func (c *Core) MemImport(val any) ([]uint64, error) {
	return c.memoryManager.memImport(c.impl, val)
}

func (c *Core) MemWrite(addr uint64, val any) ([]uint64, error) {
	return c.memoryManager.memWrite(c.impl, addr, val)
}

func (c *Core) MemExtract(addr uint64, val any) error {
	return c.memoryManager.memExtract(c.impl, addr, val)
}
