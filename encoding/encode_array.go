package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func encodeArray(typ reflect2.ArrayType, bs int) (handler, layout) {
	count := typ.Len()
	marshal, elem := encode(typ.Elem(), bs)
	stride := elem.stride()
	return func(stream Stream, ptr unsafe.Pointer) error {
		for i := 0; i < count; i++ {
			if err := marshal(stream, typ.UnsafeGetIndex(ptr, i)); err != nil {
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

// encodeSlice writes a pointer to the elements followed by one zeroed
// element, so []string becomes a NULL-terminated char**.
func encodeSlice(typ reflect2.SliceType, bs int) (handler, layout) {
	marshal, elem := encode(typ.Elem(), bs)
	stride := elem.stride()
	return func(stream Stream, ptr unsafe.Pointer) error {
		if typ.UnsafeIsNil(ptr) {
			return writeNull(stream, bs)
		}
		n := typ.UnsafeLengthOf(ptr)
		sub, err := stream.WriteStream(stride * (n + 1))
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err = marshal(sub, typ.UnsafeGetIndex(ptr, i)); err != nil {
				return err
			}
			if pad := stride - elem.size; pad > 0 {
				if err = sub.Skip(pad); err != nil {
					return err
				}
			}
		}
		return writeNull(sub, stride)
	}, layout{bs, bs}
}
