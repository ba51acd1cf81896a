package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/wnxd/microboot/boot"
)

var ErrUnknownCommand = errors.New("unknown command kind")

// Handler boots a command line whose kind is not a loadable module.
type Handler func(ctx context.Context, cmd Command) error

type Dispatcher struct {
	b   boot.Boot
	out io.Writer
	log *log.Logger

	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewDispatcher(b boot.Boot, out io.Writer) *Dispatcher {
	if out == nil {
		out = io.Discard
	}
	return &Dispatcher{
		b:        b,
		out:      out,
		log:      log.New(b.Logger().Writer(), "[shell] ", log.LstdFlags|log.Lmsgprefix),
		handlers: make(map[Kind]Handler),
	}
}

// Handle installs the handler for a boot method. A nil handler removes it.
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, kind)
	} else {
		d.handlers[kind] = h
	}
}

func (d *Dispatcher) handler(kind Kind) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[kind]
}

// Dispatch runs one command line and returns the exit status of the
// program it started, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (int, error) {
	cmd, ok := Parse(line)
	if !ok {
		return 0, nil
	}
	return d.Run(ctx, cmd)
}

func (d *Dispatcher) Run(ctx context.Context, cmd Command) (int, error) {
	switch cmd.Kind {
	case KindModule:
		if _, err := d.b.FindModule(cmd.Name); err == nil {
			d.log.Printf("%s: already loaded", cmd.Name)
			return 0, nil
		}
		return d.b.Exec(ctx, cmd.Name, cmd.Args)
	case KindEcho:
		_, err := fmt.Fprintln(d.out, cmd.Line)
		return 0, err
	case KindUnknown:
		return boot.ExitFailure, fmt.Errorf("%s: %w", cmd.Name, ErrUnknownCommand)
	}
	h := d.handler(cmd.Kind)
	if h == nil {
		return boot.ExitFailure, fmt.Errorf("%s: %s boot: %w", cmd.Name, cmd.Kind, boot.ErrNotImplemented)
	}
	d.log.Printf("%s: %s boot", cmd.Name, cmd.Kind)
	if err := h(ctx, cmd); err != nil {
		return boot.ExitFailure, err
	}
	return 0, nil
}
