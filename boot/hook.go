package boot

import (
	"context"
	"io"
)

// ControlCallback implements a routine reached through a trap stub. The
// returned value is placed in the return register.
type ControlCallback = func(ctx Context, data any) (uint64, error)

type ControlHandler interface {
	io.Closer
	ID() uint32
	Addr() uint64
}

type RoutineManager interface {
	AddControl(callback ControlCallback, data any) (ControlHandler, error)
	// Call transfers control to addr with cdecl arguments.
	Call(ctx context.Context, addr uint64, args ...any) (uint64, error)
}
