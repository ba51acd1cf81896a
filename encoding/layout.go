package encoding

import (
	"errors"
	"unsafe"
)

var (
	ErrNotPointer   = errors.New("decode target is not a pointer")
	ErrUnterminated = errors.New("array terminator not found")
)

// maxElems bounds the walk over a NULL-terminated array.
const maxElems = 1 << 16

type handler = func(Stream, unsafe.Pointer) error

type layout struct {
	size, align int
}

type handlerData struct {
	handler handler
	layout  layout
}

type structData struct {
	handler handler
	offset  uintptr
	pad     int
}

var padNull [16]byte

func (l layout) stride() int {
	return align(l.size, l.align)
}

func align(a, b int) int {
	if b <= 1 {
		return a
	}
	return (a + b - 1) / b * b
}

func writeNull(stream Stream, n int) error {
	for n > 0 {
		chunk := min(n, len(padNull))
		if _, err := stream.Write(padNull[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func isNull(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
