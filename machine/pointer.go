package machine

import (
	"slices"
	"unsafe"
)

type Uintptr32 = uint32
type Uintptr64 = uint64

type Pointer struct {
	m    Machine
	addr uint64
}

func ToPointer(m Machine, addr uint64) Pointer {
	return Pointer{m, addr}
}

func (p Pointer) IsNil() bool {
	return p.addr == 0
}

func (p Pointer) Address() uint64 {
	return p.addr
}

func (p Pointer) Add(offset uint64) Pointer {
	return Pointer{p.m, p.addr + offset}
}

func (p Pointer) Sub(offset uint64) Pointer {
	return Pointer{p.m, p.addr - offset}
}

func (p Pointer) MemRead(size uint64) ([]byte, error) {
	return p.m.MemRead(p.addr, size)
}

func (p Pointer) MemWrite(data []byte) error {
	return p.m.MemWrite(p.addr, data)
}

func (p Pointer) MemReadPtr(size uint64, ptr unsafe.Pointer) error {
	return p.m.MemReadPtr(p.addr, size, ptr)
}

func (p Pointer) MemWritePtr(size uint64, ptr unsafe.Pointer) error {
	return p.m.MemWritePtr(p.addr, size, ptr)
}

func (p Pointer) MemReadString() (string, error) {
	var data []byte
	var buf [0x10]byte
	size := uint64(len(buf))
	for begin := p.addr; ; begin += size {
		err := p.m.MemReadPtr(begin, size, unsafe.Pointer(unsafe.SliceData(buf[:])))
		if err != nil {
			// the string may end right before an unmapped page
			err = p.m.MemReadPtr(begin, 1, unsafe.Pointer(unsafe.SliceData(buf[:])))
			if err != nil {
				return "", err
			} else if buf[0] == 0 {
				break
			}
			data = append(data, buf[0])
			begin -= size - 1
			continue
		}
		i := slices.Index(buf[:], 0)
		if i == -1 {
			data = append(data, buf[:]...)
		} else {
			data = append(data, buf[:i]...)
			break
		}
	}
	return string(data), nil
}

// MemReadWord reads a pointer-sized word.
func (p Pointer) MemReadWord() (uint64, error) {
	size := p.m.Arch().PointerSize()
	if size == 0 {
		return 0, ErrArchUnsupported
	}
	b, err := p.m.MemRead(p.addr, size)
	if err != nil {
		return 0, err
	}
	if size == 4 {
		return uint64(p.m.ByteOrder().Uint32(b)), nil
	}
	return p.m.ByteOrder().Uint64(b), nil
}

// MemWriteWord writes a pointer-sized word, truncating value to the
// architecture width.
func (p Pointer) MemWriteWord(value uint64) error {
	size := p.m.Arch().PointerSize()
	if size == 0 {
		return ErrArchUnsupported
	}
	b := make([]byte, size)
	if size == 4 {
		p.m.ByteOrder().PutUint32(b, uint32(value))
	} else {
		p.m.ByteOrder().PutUint64(b, value)
	}
	return p.m.MemWrite(p.addr, b)
}

func (p Pointer) MemReadPointer() (Pointer, error) {
	addr, err := p.MemReadWord()
	if err != nil {
		return Pointer{}, err
	}
	return Pointer{p.m, addr}, nil
}

func (p Pointer) ReadAt(b []byte, off int64) (n int, err error) {
	return len(b), p.m.MemReadPtr(p.addr+uint64(off), uint64(len(b)), unsafe.Pointer(unsafe.SliceData(b)))
}

func (p Pointer) WriteAt(b []byte, off int64) (n int, err error) {
	return len(b), p.m.MemWritePtr(p.addr+uint64(off), uint64(len(b)), unsafe.Pointer(unsafe.SliceData(b)))
}
