package boot

import (
	"io"

	"github.com/wnxd/microboot/filesystem"
)

const RootName = "_root_.c32"

type Config struct {
	FS        filesystem.FS
	Log       io.Writer
	Console   io.Writer
	Heap      uint64
	LowHeap   uint64
	HeapLimit uint64
	Stack     uint64
	RootName  string
}

type Option func(*Config)

func DefaultConfig() Config {
	return Config{
		FS:       filesystem.NewMemFS(),
		Log:      io.Discard,
		Console:  io.Discard,
		Heap:     4 << 20,
		LowHeap:  256 << 10,
		Stack:    64 << 10,
		RootName: RootName,
	}
}

// WithFS sets the boot medium modules are loaded from.
func WithFS(fs filesystem.FS) Option {
	return func(c *Config) { c.FS = fs }
}

func WithLogger(w io.Writer) Option {
	return func(c *Config) { c.Log = w }
}

// WithConsole sets where the root module's output routines write.
func WithConsole(w io.Writer) Option {
	return func(c *Config) { c.Console = w }
}

func WithHeap(size uint64) Option {
	return func(c *Config) { c.Heap = size }
}

func WithLowHeap(size uint64) Option {
	return func(c *Config) { c.LowHeap = size }
}

// WithHeapLimit lets the main heap grow by mapping more memory until it
// spans limit bytes. Zero disables growth.
func WithHeapLimit(limit uint64) Option {
	return func(c *Config) { c.HeapLimit = limit }
}

func WithStack(size uint64) Option {
	return func(c *Config) { c.Stack = size }
}

func WithRootName(name string) Option {
	return func(c *Config) { c.RootName = name }
}
