package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wnxd/microboot/boot"
	_ "github.com/wnxd/microboot/boot/x86"
	"github.com/wnxd/microboot/filesystem"
	"github.com/wnxd/microboot/machine"
	"github.com/wnxd/microboot/shell"
)

var (
	rootDir   string
	heap      uint64
	lowHeap   uint64
	heapLimit uint64
	stack     uint64
	verbose   bool
	history   string

	exitStatus int
)

var rootCmd = &cobra.Command{
	Use:          "microboot",
	Short:        "Load, link and run ELF32 boot modules from a boot medium directory",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <command line...>",
	Short: "Dispatch one command line and exit with the program's status",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(d *shell.Dispatcher) error {
			status, err := d.Dispatch(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			exitStatus = status
			return nil
		})
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive boot prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(d *shell.Dispatcher) error {
			return shell.NewPrompt(d, history).Run(cmd.Context())
		})
	},
}

func withDispatcher(cmd *cobra.Command, run func(*shell.Dispatcher) error) error {
	m, err := machine.NewFlat(machine.ARCH_X86)
	if err != nil {
		return err
	}
	defer m.Close()
	opts := []boot.Option{
		boot.WithFS(filesystem.SysDirFS(rootDir)),
		boot.WithConsole(cmd.OutOrStdout()),
		boot.WithHeap(heap),
		boot.WithLowHeap(lowHeap),
		boot.WithHeapLimit(heapLimit),
		boot.WithStack(stack),
	}
	if verbose {
		opts = append(opts, boot.WithLogger(cmd.ErrOrStderr()))
	}
	b, err := boot.New(m, opts...)
	if err != nil {
		return err
	}
	defer b.Close()
	return run(shell.NewDispatcher(b, cmd.OutOrStdout()))
}

func init() {
	cfg := boot.DefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootDir, "root", ".", "Boot medium directory modules are loaded from")
	flags.Uint64Var(&heap, "heap", cfg.Heap, "Initial size of the main heap in bytes")
	flags.Uint64Var(&lowHeap, "low-heap", cfg.LowHeap, "Size of the low heap in bytes")
	flags.Uint64Var(&heapLimit, "heap-limit", 64<<20, "Size the main heap may grow to in bytes, 0 disables growth")
	flags.Uint64Var(&stack, "stack", cfg.Stack, "Size of the boot stack in bytes")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log loader activity to stderr")
	home, _ := os.UserHomeDir()
	flags.StringVar(&history, "history", filepath.Join(home, ".microboot_history"), "Prompt history file, empty to disable")
	rootCmd.AddCommand(runCmd, shellCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(exitStatus)
}
