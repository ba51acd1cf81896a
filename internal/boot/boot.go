package boot

import (
	"log"

	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/machine"
)

// Boot is implemented by each architecture back end on top of Core.
type Boot interface {
	boot.Boot
	StackAlign() uint64
	// TrapSize is the length of a routine stub.
	TrapSize() uint64
	TrapCode(id uint32) []byte
	TrapDecode(code []byte) (uint32, bool)
	stackAlloc(size uint64) (machine.Pointer, error)
	stackFree(size uint64) error
	exitProcess(p *process, status int)
}

type Core struct {
	impl Boot
	m    machine.Machine
	cfg  boot.Config
	log  *log.Logger
	memoryManager
	routineManager
	fileManager
	moduleManager
	processManager
}

func (c *Core) Init(impl Boot, m machine.Machine, cfg boot.Config) error {
	c.impl = impl
	c.m = m
	c.cfg = cfg
	c.log = log.New(cfg.Log, "[boot] ", log.LstdFlags|log.Lmsgprefix)
	c.processManager.ctor()
	c.moduleManager.ctor()
	c.fileManager.ctor(cfg)
	if err := c.memoryManager.ctor(impl, cfg); err != nil {
		c.memoryManager.dtor(impl)
		return err
	}
	if err := c.routineManager.ctor(impl, cfg); err != nil {
		c.Close()
		return err
	}
	root, err := newRootModule(impl, cfg.RootName, cfg.Console)
	if err != nil {
		c.Close()
		return err
	}
	c.Register(root)
	c.log.Printf("%s: root module ready, %d routines", root.Name(), len(root.symbols))
	return nil
}

func (c *Core) Close() error {
	c.processManager.dtor()
	c.moduleManager.dtor()
	c.fileManager.dtor()
	c.routineManager.dtor(c.impl)
	c.memoryManager.dtor(c.impl)
	return nil
}

func (c *Core) Machine() machine.Machine {
	return c.m
}

func (c *Core) Logger() *log.Logger {
	return c.log
}
