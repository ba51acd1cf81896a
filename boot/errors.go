package boot

import (
	"errors"
	"fmt"
)

var (
	ErrModuleNotFound  = errors.New("module not found")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrArgumentInvalid = errors.New("argument invalid")
	ErrAddressInvalid  = errors.New("address invalid")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrDoubleFree      = errors.New("double free")
	ErrMemOverlap      = errors.New("memory overlap")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrInitFailed      = errors.New("init failed")
	ErrNotImplemented  = errors.New("not implemented")
)

// FormatError reports an image the loader cannot accept.
type FormatError struct {
	Module string
	Reason string
}

type AllocationError struct {
	Size, Align uint64
	Err         error
}

type SymbolError struct {
	Module string
	Symbol string
}

type DuplicateModuleError struct {
	Module string
}

// StateError reports an operation the module's current state forbids.
type StateError struct {
	Module string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: bad image: %s", e.Module, e.Reason)
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %d bytes (align %d): %v", e.Size, e.Align, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("%s: undefined symbol %s", e.Module, e.Symbol)
}

func (e *SymbolError) Unwrap() error {
	return ErrSymbolNotFound
}

func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("%s: module already loaded", e.Module)
}

func (e *StateError) Error() string {
	if e.Module == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Module, e.Reason)
}

type SimulateException interface {
	error
	Module() string
	Offset() uint64
}

type simulateException struct {
	mod string
	pc  uint64
}

type InvalidInstructionException struct {
	simulateException
}

type InvalidMemoryException struct {
	simulateException
	addr uint64
	size uint64
	err  error
}

type PanicException struct {
	simulateException
	v     any
	stack []byte
}

func (e *simulateException) String() string {
	if e.mod == "" {
		return fmt.Sprintf("pc: %08X", e.pc)
	}
	return fmt.Sprintf("module: %s, offset: %08X", e.mod, e.pc)
}

func (e *simulateException) Module() string {
	return e.mod
}

func (e *simulateException) Offset() uint64 {
	return e.pc
}

func (e *InvalidInstructionException) Error() string {
	return fmt.Sprintf("[InvalidInstruction] %s", &e.simulateException)
}

func (e *InvalidMemoryException) Error() string {
	return fmt.Sprintf("[InvalidMemory] %s, addr: %08X, size: %d: %v", &e.simulateException, e.addr, e.size, e.err)
}

func (e *InvalidMemoryException) Address() uint64 {
	return e.addr
}

func (e *InvalidMemoryException) Size() uint64 {
	return e.size
}

func (e *InvalidMemoryException) Unwrap() error {
	return e.err
}

func (e *PanicException) Error() string {
	return fmt.Sprintf("[Panic] %s, panic: %v", &e.simulateException, e.v)
}

func (e *PanicException) Panic() any {
	return e.v
}

func (e *PanicException) Stack() []byte {
	return e.stack
}

func initException(mm ModuleManager, pc uint64) simulateException {
	var mod string
	if m, err := mm.FindModuleByAddr(pc); err == nil {
		mod = m.Name()
		pc -= m.BaseAddr()
	}
	return simulateException{mod: mod, pc: pc}
}

func NewInvalidInstructionException(mm ModuleManager, pc uint64) SimulateException {
	return &InvalidInstructionException{
		simulateException: initException(mm, pc),
	}
}

func NewInvalidMemoryException(mm ModuleManager, pc, addr, size uint64, err error) SimulateException {
	return &InvalidMemoryException{
		simulateException: initException(mm, pc),
		addr:              addr,
		size:              size,
		err:               err,
	}
}

func NewPanicException(mm ModuleManager, pc uint64, v any, stack []byte) SimulateException {
	return &PanicException{
		simulateException: initException(mm, pc),
		v:                 v,
		stack:             stack,
	}
}
