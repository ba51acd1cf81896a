package boot

import (
	"github.com/wnxd/microboot/machine"
)

// Tag identifies the owner of an allocation.
type Tag uint32

const (
	TagFree Tag = iota
	TagCore
	TagModule

	// TagUser is the first tag handed out to loaded modules.
	TagUser Tag = 16
)

type Heap int

const (
	HeapMain Heap = iota
	HeapLow
	NumHeaps
)

type MemoryManager interface {
	MapAlloc(size uint64, prot machine.MemProt) (machine.MemRegion, error)
	MapFree(addr, size uint64) error
	// MemAlloc allocates with the current default tag.
	MemAlloc(size uint64) (uint64, error)
	MemAllocTagged(size, align uint64, tag Tag) (uint64, error)
	MemAllocHeap(size, align uint64, heap Heap, tag Tag) (uint64, error)
	MemFree(addr uint64) error
	// MemFreeTagged frees every block owned by tag and returns how many.
	MemFreeTagged(tag Tag) int
	// MemInject hands an untracked, already mapped range to a heap.
	MemInject(addr, size uint64, heap Heap) error
	MemSize(addr uint64) uint64
	MemTag(addr uint64) (Tag, bool)
	ToPointer(addr uint64) machine.Pointer
	MemImport(val any) ([]uint64, error)
	MemWrite(addr uint64, val any) ([]uint64, error)
	MemExtract(addr uint64, val any) error
}
