package boot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/wnxd/microboot/boot"
)

type process struct {
	module  boot.Module
	parent  *process
	prevTag boot.Tag
	args    []string
	ctx     context.Context
	cancel  context.CancelCauseFunc
}

// exitUnwind carries an explicit exit from the routine that requested it
// up to the Spawn that owns the process.
type exitUnwind struct {
	proc *process
}

type processManager struct {
	mu      sync.Mutex
	current *process
	tag     boot.Tag
}

func (pm *processManager) ctor() {
	pm.tag = boot.TagCore
}

func (pm *processManager) dtor() {
	pm.mu.Lock()
	for p := pm.current; p != nil; p = p.parent {
		p.cancel(context.Canceled)
	}
	pm.current = nil
	pm.tag = boot.TagCore
	pm.mu.Unlock()
}

func (pm *processManager) push(p *process) {
	pm.mu.Lock()
	p.parent = pm.current
	p.prevTag = pm.tag
	pm.current = p
	pm.tag = p.module.Tag()
	pm.mu.Unlock()
}

func (pm *processManager) pop(p *process) {
	pm.mu.Lock()
	pm.tag = p.prevTag
	pm.current = p.parent
	pm.mu.Unlock()
}

// callTagged runs a library routine with the module's tag as the default
// allocation tag.
func (pm *processManager) callTagged(impl Boot, ctx context.Context, m boot.Module, addr uint64) (uint64, error) {
	pm.mu.Lock()
	prev := pm.tag
	pm.tag = m.Tag()
	pm.mu.Unlock()
	defer func() {
		pm.mu.Lock()
		pm.tag = prev
		pm.mu.Unlock()
	}()
	return impl.Call(ctx, addr)
}

func (pm *processManager) exitProcess(p *process, status int) {
	p.cancel(boot.ExitStatus(status & 0xFF))
	panic(exitUnwind{p})
}

func (pm *processManager) spawn(impl Boot, ctx context.Context, name string, argv []string) (int, error) {
	m, err := impl.Load(name)
	if err != nil {
		return boot.ExitFailure, err
	} else if m.MainAddr() == 0 {
		pm.unloadModule(impl, m)
		return boot.ExitFailure, &boot.StateError{Module: name, Reason: "no main routine"}
	}
	return pm.run(impl, ctx, m, argv)
}

// run executes a loaded program and unloads it afterwards. Everything the
// program allocated under its tag is released before its caller resumes.
func (pm *processManager) run(impl Boot, ctx context.Context, m boot.Module, argv []string) (int, error) {
	p := &process{module: m, args: slices.Clone(argv)}
	p.ctx, p.cancel = context.WithCancelCause(ctx)
	pm.push(p)
	status, err := pm.runMain(impl, p)
	n := impl.MemFreeTagged(m.Tag())
	pm.pop(p)
	p.cancel(nil)
	impl.Logger().Printf("%s: exited with status %d, released %d blocks", m.Name(), status, n)
	if uerr := pm.unloadModule(impl, m); uerr != nil && err == nil {
		return boot.ExitFailure, uerr
	}
	return status, err
}

func (pm *processManager) runMain(impl Boot, p *process) (status int, err error) {
	defer func() {
		if r := recover(); r != nil {
			u, ok := r.(exitUnwind)
			if !ok || u.proc != p {
				panic(r)
			}
			var s boot.ExitStatus
			if errors.As(context.Cause(p.ctx), &s) {
				status, err = int(s), nil
			}
		}
	}()
	ret, err := impl.Call(p.ctx, p.module.MainAddr(), int32(len(p.args)), p.args)
	if err != nil {
		return boot.ExitFailure, err
	}
	// returning from main is an exit with its result
	status = int(int32(ret)) & 0xFF
	p.cancel(boot.ExitStatus(status))
	return status, nil
}

func (pm *processManager) activate(impl Boot, ctx context.Context, name string) error {
	m, err := impl.Load(name)
	if err != nil {
		return err
	} else if m.MainAddr() != 0 {
		pm.unloadModule(impl, m)
		return &boot.StateError{Module: name, Reason: "cannot load executable module as library"}
	}
	return pm.runInit(impl, ctx, m)
}

func (pm *processManager) runInit(impl Boot, ctx context.Context, m boot.Module) error {
	addr := m.InitAddr()
	if addr == 0 {
		impl.Logger().Printf("%s: no initialization routine", m.Name())
		return nil
	}
	ret, err := pm.callTagged(impl, ctx, m, addr)
	if err == nil && int32(ret) != 0 {
		err = fmt.Errorf("%s: %w: returned %d", m.Name(), boot.ErrInitFailed, int32(ret))
	}
	if err != nil {
		pm.unloadModule(impl, m)
		return err
	}
	return nil
}

func (pm *processManager) exec(impl Boot, ctx context.Context, name string, argv []string) (int, error) {
	m, err := impl.Load(name)
	if err != nil {
		return boot.ExitFailure, err
	}
	switch boot.KindOf(m) {
	case boot.ModuleExec:
		return pm.run(impl, ctx, m, argv)
	case boot.ModuleLib:
		if err = pm.runInit(impl, ctx, m); err != nil {
			return boot.ExitFailure, err
		}
		return 0, nil
	}
	pm.unloadModule(impl, m)
	return boot.ExitFailure, &boot.StateError{Module: name, Reason: "neither main nor init routine"}
}

func (pm *processManager) unload(impl Boot, ctx context.Context, name string) error {
	m, err := impl.FindModule(name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	} else if m.Shallow() {
		return &boot.StateError{Module: name, Reason: "module is not unloadable"}
	} else if !impl.Unloadable(m) {
		return &boot.StateError{Module: name, Reason: "module has dependents"}
	}
	if addr := m.ExitAddr(); addr != 0 {
		if _, err = pm.callTagged(impl, ctx, m, addr); err != nil {
			impl.Logger().Printf("%s: exit routine: %v", name, err)
		}
	}
	return pm.unloadModule(impl, m)
}

func (pm *processManager) unloadModule(impl Boot, m boot.Module) error {
	if !impl.Unloadable(m) {
		return &boot.StateError{Module: m.Name(), Reason: "module has dependents"}
	}
	impl.ClearDependencies(m)
	impl.Deregister(m)
	if n := impl.MemFreeTagged(m.Tag()); n > 0 {
		impl.Logger().Printf("%s: released %d blocks", m.Name(), n)
	}
	return m.Close()
}

func (p *process) Module() boot.Module {
	return p.module
}

func (p *process) Parent() boot.Process {
	if p.parent == nil {
		return nil
	}
	return p.parent
}

func (p *process) Args() []string {
	return p.args
}

func (p *process) Context() context.Context {
	return p.ctx
}

func (c *Core) Spawn(ctx context.Context, name string, argv []string) (int, error) {
	return c.processManager.spawn(c.impl, ctx, name, argv)
}

func (c *Core) Activate(ctx context.Context, name string) error {
	return c.processManager.activate(c.impl, ctx, name)
}

func (c *Core) Unload(ctx context.Context, name string) error {
	return c.processManager.unload(c.impl, ctx, name)
}

func (c *Core) Exec(ctx context.Context, name string, argv []string) (int, error) {
	return c.processManager.exec(c.impl, ctx, name, argv)
}

func (c *Core) CurrentProcess() boot.Process {
	c.processManager.mu.Lock()
	defer c.processManager.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current
}

func (c *Core) DefaultTag() boot.Tag {
	c.processManager.mu.Lock()
	defer c.processManager.mu.Unlock()
	return c.tag
}
