package boot

import (
	"fmt"

	"github.com/wnxd/microboot/boot"
)

const (
	minAlign = 16
	nilBlock = -1
)

type block struct {
	addr uint64
	size uint64
	heap boot.Heap
	used bool
	tag  boot.Tag
	// address-ordered chain of the heap
	prev, next int
	// free list of the heap, valid while the block is free
	prevFree, nextFree int
}

// arena tracks heap blocks out of band. Blocks live in one slice and link
// to each other by index.
type arena struct {
	blocks []block
	spare  []int
	chain  [boot.NumHeaps]int
	free   [boot.NumHeaps]int
	used   map[uint64]int
}

func newArena() *arena {
	a := &arena{used: make(map[uint64]int)}
	for h := range a.chain {
		a.chain[h] = nilBlock
		a.free[h] = nilBlock
	}
	return a
}

func (b *block) end() uint64 {
	return b.addr + b.size
}

func (a *arena) newBlock(addr, size uint64, heap boot.Heap) int {
	b := block{addr: addr, size: size, heap: heap, prev: nilBlock, next: nilBlock, prevFree: nilBlock, nextFree: nilBlock}
	if n := len(a.spare); n != 0 {
		i := a.spare[n-1]
		a.spare = a.spare[:n-1]
		a.blocks[i] = b
		return i
	}
	a.blocks = append(a.blocks, b)
	return len(a.blocks) - 1
}

func (a *arena) release(i int) {
	a.blocks[i] = block{prev: nilBlock, next: nilBlock, prevFree: nilBlock, nextFree: nilBlock}
	a.spare = append(a.spare, i)
}

func (a *arena) pushFree(i int) {
	b := &a.blocks[i]
	head := a.free[b.heap]
	b.prevFree = nilBlock
	b.nextFree = head
	if head != nilBlock {
		a.blocks[head].prevFree = i
	}
	a.free[b.heap] = i
}

func (a *arena) unlinkFree(i int) {
	b := &a.blocks[i]
	if b.prevFree != nilBlock {
		a.blocks[b.prevFree].nextFree = b.nextFree
	} else {
		a.free[b.heap] = b.nextFree
	}
	if b.nextFree != nilBlock {
		a.blocks[b.nextFree].prevFree = b.prevFree
	}
	b.prevFree = nilBlock
	b.nextFree = nilBlock
}

// split cuts block i at off. The tail becomes a free block that follows i
// on both chains.
func (a *arena) split(i int, off uint64) int {
	j := a.newBlock(a.blocks[i].addr+off, a.blocks[i].size-off, a.blocks[i].heap)
	b, nb := &a.blocks[i], &a.blocks[j]
	b.size = off
	nb.prev = i
	nb.next = b.next
	if b.next != nilBlock {
		a.blocks[b.next].prev = j
	}
	b.next = j
	nb.prevFree = i
	nb.nextFree = b.nextFree
	if b.nextFree != nilBlock {
		a.blocks[b.nextFree].prevFree = j
	}
	b.nextFree = j
	return j
}

// freeBlock marks block i free and coalesces it with its address
// neighbours. It returns the block that now contains i.
func (a *arena) freeBlock(i int) int {
	b := &a.blocks[i]
	if p := b.prev; p != nilBlock && !a.blocks[p].used && a.blocks[p].end() == b.addr {
		pb := &a.blocks[p]
		pb.size += b.size
		pb.next = b.next
		if b.next != nilBlock {
			a.blocks[b.next].prev = p
		}
		a.release(i)
		i = p
	} else {
		b.used = false
		b.tag = boot.TagFree
		a.pushFree(i)
	}
	b = &a.blocks[i]
	if n := b.next; n != nilBlock && !a.blocks[n].used && b.end() == a.blocks[n].addr {
		nb := &a.blocks[n]
		b.size += nb.size
		a.unlinkFree(n)
		b.next = nb.next
		if nb.next != nilBlock {
			a.blocks[nb.next].prev = i
		}
		a.release(n)
	}
	return i
}

// inject adds an untracked range to heap. Ranges overlapping any tracked
// block are rejected.
func (a *arena) inject(addr, size uint64, heap boot.Heap) error {
	if heap < 0 || heap >= boot.NumHeaps || size < minAlign || addr%minAlign != 0 {
		return boot.ErrArgumentInvalid
	}
	size &^= minAlign - 1
	end := addr + size
	for h := range a.chain {
		for i := a.chain[h]; i != nilBlock; i = a.blocks[i].next {
			b := &a.blocks[i]
			if b.addr >= end {
				break
			} else if addr >= b.end() {
				continue
			}
			return boot.ErrMemOverlap
		}
	}
	i := a.newBlock(addr, size, heap)
	a.blocks[i].used = true
	prev := nilBlock
	next := a.chain[heap]
	for next != nilBlock && a.blocks[next].addr < addr {
		prev, next = next, a.blocks[next].next
	}
	a.blocks[i].prev = prev
	a.blocks[i].next = next
	if prev != nilBlock {
		a.blocks[prev].next = i
	} else {
		a.chain[heap] = i
	}
	if next != nilBlock {
		a.blocks[next].prev = i
	}
	a.freeBlock(i)
	return nil
}

// alloc takes the first fitting block from the heap's free list.
func (a *arena) alloc(size, align uint64, heap boot.Heap, tag boot.Tag) (uint64, bool) {
	size = boot.Align(max(size, 1), minAlign)
	align = max(align, minAlign)
	for i := a.free[heap]; i != nilBlock; i = a.blocks[i].nextFree {
		b := &a.blocks[i]
		start := boot.Align(b.addr, align)
		if start < b.addr || start-b.addr+size > b.size {
			continue
		}
		if pad := start - b.addr; pad > 0 {
			i = a.split(i, pad)
		}
		return a.carve(i, size, tag), true
	}
	return 0, false
}

func (a *arena) carve(i int, size uint64, tag boot.Tag) uint64 {
	if a.blocks[i].size-size >= minAlign {
		a.split(i, size)
	}
	a.unlinkFree(i)
	b := &a.blocks[i]
	b.used = true
	b.tag = tag
	a.used[b.addr] = i
	return b.addr
}

func (a *arena) dealloc(addr uint64) error {
	i, ok := a.used[addr]
	if !ok {
		if a.inFreeBlock(addr) {
			return boot.ErrDoubleFree
		}
		return boot.ErrAddressInvalid
	}
	delete(a.used, addr)
	a.freeBlock(i)
	return nil
}

func (a *arena) inFreeBlock(addr uint64) bool {
	for h := range a.chain {
		for i := a.chain[h]; i != nilBlock; i = a.blocks[i].next {
			b := &a.blocks[i]
			if addr >= b.addr && addr < b.end() {
				return !b.used
			}
		}
	}
	return false
}

// freeTagged frees every used block owned by tag and reports how many.
func (a *arena) freeTagged(tag boot.Tag) int {
	var n int
	for h := range a.chain {
		for i := a.chain[h]; i != nilBlock; i = a.blocks[i].next {
			if b := &a.blocks[i]; b.used && b.tag == tag {
				delete(a.used, b.addr)
				i = a.freeBlock(i)
				n++
			}
		}
	}
	return n
}

func (a *arena) lookup(addr uint64) (*block, bool) {
	i, ok := a.used[addr]
	if !ok {
		return nil, false
	}
	return &a.blocks[i], true
}

// validate checks the chain invariants and is used by tests.
func (a *arena) validate() error {
	for h := range a.chain {
		var lastEnd uint64
		var lastFree bool
		prev := nilBlock
		for i := a.chain[h]; i != nilBlock; i = a.blocks[i].next {
			b := &a.blocks[i]
			switch {
			case b.prev != prev:
				return fmt.Errorf("heap %d: block %#x has broken back link", h, b.addr)
			case prev != nilBlock && b.addr < lastEnd:
				return fmt.Errorf("heap %d: block %#x overlaps its predecessor", h, b.addr)
			case prev != nilBlock && lastFree && !b.used && b.addr == lastEnd:
				return fmt.Errorf("heap %d: adjacent free blocks at %#x", h, b.addr)
			case b.used && a.used[b.addr] != i:
				return fmt.Errorf("heap %d: used block %#x not indexed", h, b.addr)
			}
			lastEnd, lastFree, prev = b.end(), !b.used, i
		}
		for i := a.free[h]; i != nilBlock; i = a.blocks[i].nextFree {
			if a.blocks[i].used {
				return fmt.Errorf("heap %d: used block %#x on free list", h, a.blocks[i].addr)
			}
		}
	}
	return nil
}
