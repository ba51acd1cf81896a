package boot

import (
	"io"
	"log"

	"github.com/wnxd/microboot/machine"
)

// Boot is a loader runtime bound to one machine.
type Boot interface {
	io.Closer
	Machine() machine.Machine
	PointerSize() uint64
	Logger() *log.Logger
	MemoryManager
	RoutineManager
	ModuleManager
	ProcessManager
	FileManager
}

func New(m machine.Machine, opts ...Option) (Boot, error) {
	ctor, ok := bootMap[m.Arch()]
	if !ok {
		return nil, machine.ErrArchUnsupported
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return ctor(m, cfg)
}
