package encoding

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/modern-go/reflect2"
)

var decodeProcess sync.Map

func DecodeSize(blockSize int, val any) int {
	typ := reflect2.TypeOf(val)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return blockSize
	}
	return getUnmarshalData(typ.(reflect2.PtrType).Elem(), blockSize).layout.size
}

// Decode reads into the value val points to.
func Decode(stream Stream, val any) error {
	typ := reflect2.TypeOf(val)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return ErrNotPointer
	}
	data := getUnmarshalData(typ.(reflect2.PtrType).Elem(), stream.BlockSize())
	ptr := reflect2.PtrOf(val)
	if ptr == nil {
		return stream.Skip(data.layout.size)
	}
	return data.handler(stream, ptr)
}

func getUnmarshalData(typ reflect2.Type, bs int) *handlerData {
	key := [2]uintptr{uintptr(bs), typ.RType()}
	if v, ok := decodeProcess.Load(key); ok {
		return v.(*handlerData)
	}
	unmarshal, l := decode(typ, bs)
	data := &handlerData{unmarshal, l}
	decodeProcess.Store(key, data)
	return data
}

func decode(typ reflect2.Type, bs int) (handler, layout) {
	switch kind := typ.Kind(); kind {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		size := int(typ.Type1().Size())
		return func(stream Stream, ptr unsafe.Pointer) error {
			_, err := stream.Read(unsafe.Slice((*byte)(ptr), size))
			return err
		}, layout{size, min(size, bs)}
	case reflect.Int, reflect.Uint, reflect.Uintptr, reflect.UnsafePointer:
		full := int(typ.Type1().Size())
		size := min(full, bs)
		pad := bs - size
		signed := kind == reflect.Int
		return func(stream Stream, ptr unsafe.Pointer) error {
			raw := unsafe.Slice((*byte)(ptr), full)
			clear(raw)
			if _, err := stream.Read(raw[:size]); err != nil {
				return err
			}
			if signed && size < full && raw[size-1]&0x80 != 0 {
				for i := size; i < full; i++ {
					raw[i] = 0xFF
				}
			}
			if pad > 0 {
				return stream.Skip(pad)
			}
			return nil
		}, layout{bs, bs}
	case reflect.Array:
		return decodeArray(typ.(reflect2.ArrayType), bs)
	case reflect.Pointer:
		return decodePointer(typ.(reflect2.PtrType), bs)
	case reflect.Slice:
		return decodeSlice(typ.(reflect2.SliceType), bs)
	case reflect.String:
		return decodeString(bs)
	case reflect.Struct:
		return decodeStruct(typ.(reflect2.StructType), bs)
	}
	panic(fmt.Sprintf("encoding: unsupported type %s", typ))
}

func decodePointer(typ reflect2.PtrType, bs int) (handler, layout) {
	elemType := typ.Elem()
	unmarshal, _ := decode(elemType, bs)
	return func(stream Stream, ptr unsafe.Pointer) error {
		sub, err := stream.ReadStream()
		if err != nil {
			return err
		} else if sub.Offset() == 0 {
			*(*unsafe.Pointer)(ptr) = nil
			return nil
		}
		elemPtr := *(*unsafe.Pointer)(ptr)
		if elemPtr == nil {
			elemPtr = elemType.UnsafeNew()
			*(*unsafe.Pointer)(ptr) = elemPtr
		}
		return unmarshal(sub, elemPtr)
	}, layout{bs, bs}
}

func decodeString(bs int) (handler, layout) {
	return func(stream Stream, ptr unsafe.Pointer) error {
		sub, err := stream.ReadStream()
		if err != nil {
			return err
		} else if sub.Offset() == 0 {
			*(*string)(ptr) = ""
			return nil
		}
		str, err := sub.ReadString()
		if err != nil {
			return err
		}
		*(*string)(ptr) = str
		return nil
	}, layout{bs, bs}
}
