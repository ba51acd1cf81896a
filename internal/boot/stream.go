package boot

import (
	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/encoding"
	"github.com/wnxd/microboot/machine"
)

type pointerStream struct {
	ptr   machine.Pointer
	alloc func(uint64) (machine.Pointer, error)
	size  int
}

// PointerStream returns an encoding stream over machine memory. alloc
// backs the memory pointers written through the stream refer to.
func PointerStream(ptr machine.Pointer, alloc func(uint64) (machine.Pointer, error), size int) encoding.Stream {
	return &pointerStream{ptr, alloc, size}
}

func (ps *pointerStream) BlockSize() int {
	return ps.size
}

func (ps *pointerStream) Offset() uint64 {
	return ps.ptr.Address()
}

func (ps *pointerStream) Skip(n int) error {
	ps.ptr = ps.ptr.Add(uint64(int64(n)))
	return nil
}

func (ps *pointerStream) Read(b []byte) (int, error) {
	n, err := ps.ptr.ReadAt(b, 0)
	if err == nil {
		ps.Skip(n)
	}
	return n, err
}

func (ps *pointerStream) ReadString() (string, error) {
	str, err := ps.ptr.MemReadString()
	if err == nil {
		ps.Skip(len(str) + 1)
	}
	return str, err
}

func (ps *pointerStream) ReadStream() (encoding.Stream, error) {
	ptr, err := ps.ptr.MemReadPointer()
	if err != nil {
		return nil, err
	}
	ps.Skip(ps.size)
	return PointerStream(ptr, ps.alloc, ps.size), nil
}

func (ps *pointerStream) Write(b []byte) (int, error) {
	n, err := ps.ptr.WriteAt(b, 0)
	if err == nil {
		ps.Skip(n)
	}
	return n, err
}

func (ps *pointerStream) WriteString(str string) error {
	_, err := ps.Write(append([]byte(str), 0))
	return err
}

func (ps *pointerStream) WriteStream(size int) (encoding.Stream, error) {
	if ps.alloc == nil {
		return nil, boot.ErrArgumentInvalid
	}
	ptr, err := ps.alloc(uint64(size))
	if err != nil {
		return nil, err
	}
	if err = ps.ptr.MemWriteWord(ptr.Address()); err != nil {
		return nil, err
	}
	ps.Skip(ps.size)
	return PointerStream(ptr, ps.alloc, ps.size), nil
}
