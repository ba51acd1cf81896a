package machine

import (
	"cmp"
	"encoding/binary"
	"slices"
	"sync"
	"unsafe"
)

type flatRegion struct {
	MemRegion
	data    []byte
	release func() error
}

type flat struct {
	arch     Arch
	order    binary.ByteOrder
	pageSize uint64
	limit    uint64
	mu       sync.RWMutex
	regions  []*flatRegion
}

// NewFlat returns a little-endian machine with a flat address space sized
// for the architecture's pointer width.
func NewFlat(arch Arch) (Machine, error) {
	m := &flat{arch: arch, order: binary.LittleEndian, pageSize: 0x1000}
	switch arch.PointerSize() {
	case 4:
		m.limit = 1 << 32
	case 8:
		m.limit = 1 << 63
	default:
		return nil, ErrArchUnsupported
	}
	return m, nil
}

func (m *flat) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		r.release()
	}
	m.regions = nil
	return nil
}

func (m *flat) Arch() Arch {
	return m.arch
}

func (m *flat) ByteOrder() binary.ByteOrder {
	return m.order
}

func (m *flat) PageSize() uint64 {
	return m.pageSize
}

func (m *flat) MemMap(addr, size uint64, prot MemProt) error {
	if addr%m.pageSize != 0 {
		return ErrMemAlign
	}
	size = (size + m.pageSize - 1) &^ (m.pageSize - 1)
	if size == 0 || addr+size > m.limit || addr+size < addr {
		return ErrMemRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, _ := slices.BinarySearchFunc(m.regions, addr, func(r *flatRegion, addr uint64) int {
		return cmp.Compare(r.Addr, addr)
	})
	if i > 0 && m.regions[i-1].End() > addr {
		return ErrMemOverlap
	} else if i < len(m.regions) && m.regions[i].Addr < addr+size {
		return ErrMemOverlap
	}
	data, release, err := mapAnon(size)
	if err != nil {
		return err
	}
	r := &flatRegion{MemRegion: MemRegion{Addr: addr, Size: size, Prot: prot}, data: data, release: release}
	m.regions = slices.Insert(m.regions, i, r)
	return nil
}

func (m *flat) MemUnmap(addr, size uint64) error {
	size = (size + m.pageSize - 1) &^ (m.pageSize - 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.regions, func(r *flatRegion) bool { return r.Addr == addr })
	if i == -1 || m.regions[i].Size != size {
		return ErrMemUnmapped
	}
	r := m.regions[i]
	m.regions = slices.Delete(m.regions, i, i+1)
	return r.release()
}

func (m *flat) MemRegions() ([]MemRegion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	regions := make([]MemRegion, len(m.regions))
	for i, r := range m.regions {
		regions[i] = r.MemRegion
	}
	return regions, nil
}

func (m *flat) MemRead(addr, size uint64) ([]byte, error) {
	data := make([]byte, size)
	return data, m.access(addr, data, false)
}

func (m *flat) MemWrite(addr uint64, data []byte) error {
	return m.access(addr, data, true)
}

func (m *flat) MemReadPtr(addr, size uint64, ptr unsafe.Pointer) error {
	return m.access(addr, unsafe.Slice((*byte)(ptr), size), false)
}

func (m *flat) MemWritePtr(addr, size uint64, ptr unsafe.Pointer) error {
	return m.access(addr, unsafe.Slice((*byte)(ptr), size), true)
}

func (m *flat) access(addr uint64, buf []byte, write bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for len(buf) > 0 {
		r := m.find(addr)
		if r == nil {
			return ErrMemUnmapped
		}
		off := addr - r.Addr
		var n int
		if write {
			n = copy(r.data[off:], buf)
		} else {
			n = copy(buf, r.data[off:])
		}
		buf = buf[n:]
		addr += uint64(n)
	}
	return nil
}

func (m *flat) find(addr uint64) *flatRegion {
	i, found := slices.BinarySearchFunc(m.regions, addr, func(r *flatRegion, addr uint64) int {
		return cmp.Compare(r.Addr, addr)
	})
	if found {
		return m.regions[i]
	} else if i > 0 && m.regions[i-1].Contains(addr) {
		return m.regions[i-1]
	}
	return nil
}
