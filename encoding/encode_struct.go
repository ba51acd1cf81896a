package encoding

import (
	"unsafe"

	"github.com/modern-go/reflect2"
)

func encodeStruct(typ reflect2.StructType, bs int) (handler, layout) {
	fields, l := structFields(typ, bs, encode)
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

// structFields lays fields out in declaration order with natural alignment
// capped at the block size. The trailing pad is left to layout.stride.
func structFields(typ reflect2.StructType, bs int, build func(reflect2.Type, int) (handler, layout)) ([]structData, layout) {
	count := typ.NumField()
	fields := make([]structData, 0, count)
	l := layout{align: 1}
	for i := 0; i < count; i++ {
		field := typ.Field(i)
		if field.Tag().Get("encoding") == "ignore" {
			continue
		}
		h, fl := build(field.Type(), bs)
		start := align(l.size, fl.align)
		fields = append(fields, structData{h, field.Offset(), start - l.size})
		l.size = start + fl.size
		l.align = max(l.align, fl.align)
	}
	return fields, l
}
