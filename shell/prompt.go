package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/peterh/liner"
)

const DefaultPrompt = "boot: "

// Prompt reads command lines interactively and dispatches each one.
type Prompt struct {
	d       *Dispatcher
	prompt  string
	history string
}

// NewPrompt returns a boot prompt. History is kept in the named file when
// it is not empty.
func NewPrompt(d *Dispatcher, history string) *Prompt {
	return &Prompt{d: d, prompt: DefaultPrompt, history: history}
}

func (p *Prompt) Run(ctx context.Context) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(p.complete)

	if p.history != "" {
		if f, err := os.Open(p.history); err == nil {
			ln.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(p.history); err == nil {
				ln.WriteHistory(f)
				f.Close()
			}
		}()
	}

	for ctx.Err() == nil {
		line, err := ln.Prompt(p.prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		} else if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.d.out)
			return nil
		} else if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)
		p.report(p.d.Dispatch(ctx, line))
	}
	return context.Cause(ctx)
}

func (p *Prompt) report(status int, err error) {
	if err != nil {
		fmt.Fprintln(p.d.out, err)
	} else if status != 0 {
		fmt.Fprintf(p.d.out, "exit status %d\n", status)
	}
}

// complete offers loaded modules and boot medium files for the first
// token.
func (p *Prompt) complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	var names []string
	for _, m := range p.d.b.Modules() {
		if !m.Shallow() && strings.HasPrefix(m.Name(), line) {
			names = append(names, m.Name())
		}
	}
	if matches, err := fs.Glob(p.d.b.GetFS(), line+"*"); err == nil {
		names = append(names, matches...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}
