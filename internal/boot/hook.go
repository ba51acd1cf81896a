package boot

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/encoding"
	"github.com/wnxd/microboot/machine"
)

type routineManager struct {
	mu       sync.Mutex
	nextID   uint32
	routines map[uint32]*controlHandler
	stack    machine.MemRegion
	sp       uint64
}

type controlHandler struct {
	releases []func() error
	id       uint32
	addr     uint64
	callback boot.ControlCallback
	data     any

	file string
	line int
}

func (rm *routineManager) ctor(impl Boot, cfg boot.Config) error {
	rm.nextID = 1
	rm.routines = make(map[uint32]*controlHandler)
	region, err := impl.MapAlloc(cfg.Stack, machine.MEM_PROT_READ|machine.MEM_PROT_WRITE)
	if err != nil {
		return err
	}
	rm.stack = region
	rm.sp = region.End()
	return nil
}

func (rm *routineManager) dtor(impl Boot) {
	rm.mu.Lock()
	handlers := make([]*controlHandler, 0, len(rm.routines))
	for _, h := range rm.routines {
		handlers = append(handlers, h)
	}
	rm.mu.Unlock()
	for _, h := range handlers {
		h.Close()
	}
	if rm.stack.Size != 0 {
		impl.MapFree(rm.stack.Addr, rm.stack.Size)
		rm.stack = machine.MemRegion{}
	}
}

func (rm *routineManager) addControl(impl Boot, callback boot.ControlCallback, data any) (boot.ControlHandler, error) {
	rm.mu.Lock()
	id := rm.nextID
	rm.nextID++
	rm.mu.Unlock()
	code := impl.TrapCode(id)
	addr, err := impl.MemAllocTagged(uint64(len(code)), 0, boot.TagCore)
	if err != nil {
		return nil, err
	} else if err = impl.ToPointer(addr).MemWrite(code); err != nil {
		impl.MemFree(addr)
		return nil, err
	}
	_, file, line, _ := runtime.Caller(2)
	handler := &controlHandler{
		id:       id,
		addr:     addr,
		callback: callback,
		data:     data,

		file: file,
		line: line,
	}
	rm.mu.Lock()
	rm.routines[id] = handler
	rm.mu.Unlock()
	handler.releases = append(handler.releases, func() error {
		return impl.MemFree(addr)
	}, func() error {
		rm.mu.Lock()
		delete(rm.routines, id)
		rm.mu.Unlock()
		return nil
	})
	return handler, nil
}

func (rm *routineManager) lookup(impl Boot, addr uint64) (*controlHandler, error) {
	size := impl.TrapSize()
	code, err := impl.ToPointer(addr).MemRead(size)
	if err != nil {
		return nil, boot.NewInvalidMemoryException(impl, addr, addr, size, err)
	}
	id, ok := impl.TrapDecode(code)
	if !ok {
		return nil, boot.NewInvalidInstructionException(impl, addr)
	}
	rm.mu.Lock()
	handler := rm.routines[id]
	rm.mu.Unlock()
	if handler == nil {
		return nil, boot.NewInvalidInstructionException(impl, addr)
	}
	return handler, nil
}

// call runs the routine at addr. Arguments are pushed as a cdecl frame;
// the memory they point to is placed below the frame and released with it.
func (rm *routineManager) call(impl Boot, ctx context.Context, addr uint64, args ...any) (ret uint64, err error) {
	if ctx.Err() != nil {
		return 0, context.Cause(ctx)
	}
	handler, err := rm.lookup(impl, addr)
	if err != nil {
		return 0, err
	}
	sp := rm.sp
	defer func() {
		rm.sp = sp
	}()
	argp, err := rm.pushArgs(impl, args)
	if err != nil {
		return 0, err
	}
	rc := newRoutineContext(impl, ctx, addr, argp)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(exitUnwind); ok {
				panic(r)
			}
			impl.Logger().Printf("routine %d (%s:%d) panic: %v", handler.id, handler.file, handler.line, r)
			err = boot.NewPanicException(impl, addr, r, debug.Stack())
		}
	}()
	return handler.callback(rc, handler.data)
}

func (rm *routineManager) stackAlloc(impl Boot, size uint64) (machine.Pointer, error) {
	size = boot.Align(size, impl.StackAlign())
	if rm.sp-rm.stack.Addr < size {
		return machine.Pointer{}, boot.ErrStackOverflow
	}
	rm.sp -= size
	return impl.ToPointer(rm.sp), nil
}

func (rm *routineManager) stackFree(impl Boot, size uint64) error {
	size = boot.Align(size, impl.StackAlign())
	if rm.stack.End()-rm.sp < size {
		return boot.ErrArgumentInvalid
	}
	rm.sp += size
	return nil
}

func (rm *routineManager) pushArgs(impl Boot, args []any) (uint64, error) {
	bs := impl.PointerSize()
	frame := bs
	for _, arg := range args {
		frame += boot.Align(uint64(encoding.EncodeSize(int(bs), arg)), bs)
	}
	ptr, err := rm.stackAlloc(impl, frame)
	if err != nil {
		return 0, err
	}
	// return address
	if err = ptr.MemWriteWord(0); err != nil {
		return 0, err
	}
	alloc := func(size uint64) (machine.Pointer, error) {
		return rm.stackAlloc(impl, size)
	}
	off := bs
	for _, arg := range args {
		stream := PointerStream(ptr.Add(off), alloc, int(bs))
		if err = encoding.Encode(stream, arg); err != nil {
			return 0, err
		}
		off += boot.Align(uint64(encoding.EncodeSize(int(bs), arg)), bs)
	}
	return ptr.Address() + bs, nil
}

func (h *controlHandler) Close() error {
	for i := len(h.releases) - 1; i >= 0; i-- {
		h.releases[i]()
	}
	h.releases = nil
	return nil
}

func (h *controlHandler) ID() uint32 {
	return h.id
}

func (h *controlHandler) Addr() uint64 {
	return h.addr
}

func (c *Core) AddControl(callback boot.ControlCallback, data any) (boot.ControlHandler, error) {
	return c.routineManager.addControl(c.impl, callback, data)
}

func (c *Core) stackAlloc(size uint64) (machine.Pointer, error) {
	return c.routineManager.stackAlloc(c.impl, size)
}

func (c *Core) stackFree(size uint64) error {
	return c.routineManager.stackFree(c.impl, size)
}

func (c *Core) Call(ctx context.Context, addr uint64, args ...any) (uint64, error) {
	return c.routineManager.call(c.impl, ctx, addr, args...)
}
