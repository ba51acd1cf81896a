package elf

import (
	"debug/elf"
	"encoding/binary"
)

type elfHashTable struct {
	buckets []uint32
	chains  []uint32
}

type gnuHashTable struct {
	symbias uint32
	shift   uint32
	indexes []uint32
	buckets []uint32
	// chains holds the address of the chain array, read on demand.
	chains uint64
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

func (m *module) parseHash() error {
	order := binary.LittleEndian
	for _, v := range m.dynamic[elf.DT_HASH] {
		sr := m.sectionReader(m.absolute(v), 8)
		var hdr [2]uint32
		if err := binary.Read(sr, order, &hdr); err != nil {
			return err
		}
		m.hash.buckets = make([]uint32, hdr[0])
		m.hash.chains = make([]uint32, hdr[1])
		sr = m.sectionReader(m.absolute(v)+8, 4*(uint64(hdr[0])+uint64(hdr[1])))
		if err := binary.Read(sr, order, m.hash.buckets); err != nil {
			return err
		} else if err = binary.Read(sr, order, m.hash.chains); err != nil {
			return err
		}
		break
	}
	for _, v := range m.dynamic[elf.DT_GNU_HASH] {
		addr := m.absolute(v)
		sr := m.sectionReader(addr, 16)
		var hdr [4]uint32
		if err := binary.Read(sr, order, &hdr); err != nil {
			return err
		}
		nbucket, nbitmask := hdr[0], hdr[2]
		m.gnuHash.symbias = hdr[1]
		m.gnuHash.shift = hdr[3]
		m.gnuHash.indexes = make([]uint32, nbitmask)
		m.gnuHash.buckets = make([]uint32, nbucket)
		sr = m.sectionReader(addr+16, 4*(uint64(nbitmask)+uint64(nbucket)))
		if err := binary.Read(sr, order, m.gnuHash.indexes); err != nil {
			return err
		} else if err = binary.Read(sr, order, m.gnuHash.buckets); err != nil {
			return err
		}
		m.gnuHash.chains = addr + 16 + 4*(uint64(nbitmask)+uint64(nbucket))
		m.hasGNU = true
		break
	}
	return nil
}

func (m *module) getGNUChain(index uint32) (uint32, error) {
	v, err := m.b.ToPointer(m.gnuHash.chains + 4*uint64(index)).MemReadWord()
	return uint32(v), err
}

// findHashSymbol returns nil without error when the module has no SysV
// hash table.
func (m *module) findHashSymbol(name string) (*elf.Symbol, error) {
	if len(m.hash.buckets) == 0 {
		return nil, nil
	}
	h := elfHash(name)
	index := m.hash.buckets[h%uint32(len(m.hash.buckets))]
	for index != 0 && index < uint32(len(m.hash.chains)) {
		sym, err := m.GetSymbol(index)
		if err != nil {
			return nil, err
		} else if sym.Name == name {
			if sym.Section == elf.SHN_UNDEF {
				break
			}
			return sym, nil
		}
		index = m.hash.chains[index]
	}
	return nil, errSymbolMissing
}

func (m *module) findGNUHashSymbol(name string) (*elf.Symbol, error) {
	if !m.hasGNU || len(m.gnuHash.buckets) == 0 || len(m.gnuHash.indexes) == 0 {
		return nil, nil
	}
	const bits = 32
	h := gnuHash(name)
	word := m.gnuHash.indexes[(h/bits)%uint32(len(m.gnuHash.indexes))]
	mask := uint32(1)<<(h%bits) | uint32(1)<<((h>>m.gnuHash.shift)%bits)
	if word&mask != mask {
		return nil, errSymbolMissing
	}
	idx := m.gnuHash.buckets[h%uint32(len(m.gnuHash.buckets))]
	if idx < m.gnuHash.symbias {
		return nil, errSymbolMissing
	}
	for ; ; idx++ {
		chain, err := m.getGNUChain(idx - m.gnuHash.symbias)
		if err != nil {
			return nil, err
		}
		if chain|1 == h|1 {
			sym, err := m.GetSymbol(idx)
			if err != nil {
				return nil, err
			} else if sym.Name == name {
				if sym.Section == elf.SHN_UNDEF {
					break
				}
				return sym, nil
			}
		}
		if chain&1 != 0 {
			break
		}
	}
	return nil, errSymbolMissing
}

// symbolCount walks the hash tables to find the size of the symbol table.
func (m *module) symbolCount() (uint32, error) {
	if n := uint32(len(m.hash.chains)); n != 0 {
		return n, nil
	} else if !m.hasGNU {
		return 0, nil
	}
	var last uint32
	for _, b := range m.gnuHash.buckets {
		last = max(last, b)
	}
	if last < m.gnuHash.symbias {
		return m.gnuHash.symbias, nil
	}
	for ; ; last++ {
		chain, err := m.getGNUChain(last - m.gnuHash.symbias)
		if err != nil {
			return 0, err
		} else if chain&1 != 0 {
			return last + 1, nil
		}
	}
}
