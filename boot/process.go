package boot

import (
	"context"
	"fmt"
)

// ExitFailure is the status reported when a module could not be started.
const ExitFailure = -1

// ExitStatus carries a program's exit code through its context.
type ExitStatus int

func (s ExitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(s))
}

type Process interface {
	Module() Module
	Parent() Process
	Args() []string
	Context() context.Context
}

type ProcessManager interface {
	// Spawn runs the named program and returns its exit status.
	Spawn(ctx context.Context, name string, argv []string) (int, error)
	// Activate loads the named library and runs its init routine.
	Activate(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error
	// Exec spawns or activates the named module depending on its entries.
	Exec(ctx context.Context, name string, argv []string) (int, error)
	CurrentProcess() Process
	DefaultTag() Tag
}
