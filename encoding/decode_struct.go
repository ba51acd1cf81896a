package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func decodeStruct(typ reflect2.StructType, bs int) (handler, layout) {
	fields, l := structFields(typ, bs, decode)
	return func(stream Stream, ptr unsafe.Pointer) error {
		for _, data := range fields {
			if data.pad > 0 {
				if err := stream.Skip(data.pad); err != nil {
					return err
				}
			}
			if err := data.handler(stream, unsafe.Add(ptr, data.offset)); err != nil {
				return err
			}
		}
		return nil
	}, l
}
