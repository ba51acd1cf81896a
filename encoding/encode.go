package encoding

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

var encodeProcess sync.Map

// EncodeSize reports how many bytes Encode writes at the stream cursor for
// val, not counting the memory its pointers refer to.
func EncodeSize(blockSize int, val any) int {
	typ := reflect2.TypeOf(val)
	if typ == nil {
		return blockSize
	}
	return getMarshalData(typ, blockSize).layout.size
}

func Encode(stream Stream, val any) error {
	bs := stream.BlockSize()
	typ := reflect2.TypeOf(val)
	if typ == nil {
		return writeNull(stream, bs)
	}
	ptr := reflect2.PtrOf(val)
	handler := getMarshalData(typ, bs).handler
	if typ.LikePtr() {
		return handler(stream, unsafe.Pointer(&ptr))
	}
	return handler(stream, ptr)
}

func getMarshalData(typ reflect2.Type, bs int) *handlerData {
	key := [2]uintptr{uintptr(bs), typ.RType()}
	if v, ok := encodeProcess.Load(key); ok {
		return v.(*handlerData)
	}
	marshal, l := encode(typ, bs)
	data := &handlerData{marshal, l}
	encodeProcess.Store(key, data)
	return data
}

func encode(typ reflect2.Type, bs int) (handler, layout) {
	switch typ.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		size := int(typ.Type1().Size())
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Write(unsafe.Slice((*byte)(ptr), size))
			return err
		}, layout{size, min(size, bs)}
	case reflect.Int, reflect.Uint, reflect.Uintptr, reflect.UnsafePointer:
		size := min(int(typ.Type1().Size()), bs)
		pad := bs - size
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Write(unsafe.Slice((*byte)(ptr), size))
			if err != nil {
				return err
			} else if pad > 0 {
				return writeNull(stream, pad)
			}
			return nil
		}, layout{bs, bs}
	case reflect.Array:
		return encodeArray(typ.(reflect2.ArrayType), bs)
	case reflect.Pointer:
		return encodePointer(typ.(reflect2.PtrType), bs)
	case reflect.Slice:
		return encodeSlice(typ.(reflect2.SliceType), bs)
	case reflect.String:
		return encodeString(bs)
	case reflect.Struct:
		return encodeStruct(typ.(reflect2.StructType), bs)
	}
	panic(fmt.Sprintf("encoding: unsupported type %s", typ))
}

func encodePointer(typ reflect2.PtrType, bs int) (handler, layout) {
	marshal, elem := encode(typ.Elem(), bs)
	return func(stream Stream, ptr unsafe.Pointer) error {
		p := *(*unsafe.Pointer)(ptr)
		if p == nil {
			return writeNull(stream, bs)
		}
		sub, err := stream.WriteStream(elem.stride())
		if err != nil {
			return err
		}
		return marshal(sub, p)
	}, layout{bs, bs}
}

func encodeString(bs int) (handler, layout) {
	return func(stream Stream, ptr unsafe.Pointer) error {
		str := *(*string)(ptr)
		sub, err := stream.WriteStream(len(str) + 1)
		if err != nil {
			return err
		}
		return sub.WriteString(str)
	}, layout{bs, bs}
}
