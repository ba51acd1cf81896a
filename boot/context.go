package boot

import (
	"context"

	"github.com/wnxd/microboot/machine"
)

// Context is handed to routines while they run.
type Context interface {
	Boot() Boot
	Context() context.Context
	Process() Process
	PC() uint64
	ArgExtract(args ...any) error
	Call(addr uint64, args ...any) (uint64, error)
	// Exit terminates the current program. It only returns when no program
	// is running.
	Exit(status int) error
	StackContext
	MemoryContext
	StorageContext
}

type StackContext interface {
	StackAlloc(size uint64) (machine.Pointer, error)
	StackFree(size uint64) error
}

type MemoryContext interface {
	ToPointer(addr uint64) machine.Pointer
}

type StorageContext interface {
	LocalStore(key, val any)
	LocalLoad(key any) (any, bool)
	LocalDelete(key any)
}
