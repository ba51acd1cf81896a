package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func decodeArray(typ reflect2.ArrayType, bs int) (handler, layout) {
	count := typ.Len()
	unmarshal, elem := decode(typ.Elem(), bs)
	stride := elem.stride()
	return func(stream Stream, ptr unsafe.Pointer) error {
		for i := 0; i < count; i++ {
			if err := unmarshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
			if pad := stride - elem.size; pad > 0 {
				if err := stream.Skip(pad); err != nil {
					return err
				}
			}
		}
		return nil
	}, layout{stride * count, elem.align}
}

// decodeSlice follows a pointer to an array and reads elements up to the
// first all-zero element.
func decodeSlice(typ reflect2.SliceType, bs int) (handler, layout) {
	elemType := typ.Elem()
	unmarshal, elem := decode(elemType, bs)
	stride := elem.stride()
	return func(stream Stream, ptr unsafe.Pointer) error {
		sub, err := stream.ReadStream()
		if err != nil {
			return err
		}
		typ.UnsafeSetNil(ptr)
		if sub.Offset() == 0 {
			return nil
		}
		raw := make([]byte, stride)
		for n := 0; n < maxElems; n++ {
			if _, err = sub.Read(raw); err != nil {
				return err
			} else if isNull(raw) {
				return nil
			} else if err = sub.Skip(-stride); err != nil {
				return err
			}
			elemPtr := elemType.UnsafeNew()
			if err = unmarshal(sub, elemPtr); err != nil {
				return err
			}
			if pad := stride - elem.size; pad > 0 {
				if err = sub.Skip(pad); err != nil {
					return err
				}
			}
			typ.UnsafeAppend(ptr, elemPtr)
		}
		return ErrUnterminated
	}, layout{bs, bs}
}
