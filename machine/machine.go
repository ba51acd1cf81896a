package machine

import (
	"encoding/binary"
	"io"
	"unsafe"
)

// Machine is the address space modules are loaded into.
type Machine interface {
	io.Closer
	Arch() Arch
	ByteOrder() binary.ByteOrder
	PageSize() uint64
	MemMap(addr, size uint64, prot MemProt) error
	MemUnmap(addr, size uint64) error
	MemRegions() ([]MemRegion, error)
	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, data []byte) error
	MemReadPtr(addr, size uint64, ptr unsafe.Pointer) error
	MemWritePtr(addr, size uint64, ptr unsafe.Pointer) error
}
