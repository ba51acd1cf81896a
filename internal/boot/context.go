package boot

import (
	"context"
	"sync"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/encoding"
	"github.com/wnxd/microboot/machine"
)

type routineContext struct {
	b       Boot
	ctx     context.Context
	pc      uint64
	args    uint64
	storage sync.Map
}

func newRoutineContext(b Boot, ctx context.Context, pc, args uint64) *routineContext {
	return &routineContext{b: b, ctx: ctx, pc: pc, args: args}
}

func (rc *routineContext) Boot() boot.Boot {
	return rc.b
}

func (rc *routineContext) Context() context.Context {
	return rc.ctx
}

func (rc *routineContext) Process() boot.Process {
	return rc.b.CurrentProcess()
}

func (rc *routineContext) PC() uint64 {
	return rc.pc
}

// ArgExtract decodes the caller's arguments in order, one word-aligned
// slot per value.
func (rc *routineContext) ArgExtract(args ...any) error {
	bs := rc.b.PointerSize()
	off := uint64(0)
	for _, arg := range args {
		stream := PointerStream(rc.ToPointer(rc.args+off), nil, int(bs))
		if err := encoding.Decode(stream, arg); err != nil {
			return err
		}
		off += boot.Align(uint64(encoding.DecodeSize(int(bs), arg)), bs)
	}
	return nil
}

func (rc *routineContext) Call(addr uint64, args ...any) (uint64, error) {
	return rc.b.Call(rc.ctx, addr, args...)
}

func (rc *routineContext) Exit(status int) error {
	p, ok := rc.b.CurrentProcess().(*process)
	if !ok || p == nil {
		return &boot.StateError{Reason: "exit outside of a program"}
	}
	rc.b.exitProcess(p, status)
	return nil
}

func (rc *routineContext) StackAlloc(size uint64) (machine.Pointer, error) {
	return rc.b.stackAlloc(size)
}

func (rc *routineContext) StackFree(size uint64) error {
	return rc.b.stackFree(size)
}

func (rc *routineContext) ToPointer(addr uint64) machine.Pointer {
	return rc.b.ToPointer(addr)
}

func (rc *routineContext) LocalStore(key, val any) {
	rc.storage.Store(key, val)
}

func (rc *routineContext) LocalLoad(key any) (any, bool) {
	return rc.storage.Load(key)
}

func (rc *routineContext) LocalDelete(key any) {
	rc.storage.Delete(key)
}
