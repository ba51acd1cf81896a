package shell

import (
	"strings"
)

// MaxArgs caps the arguments taken from one command line.
const MaxArgs = 64

// Kind is the boot method a command line selects by its first token.
type Kind int

const (
	KindUnknown Kind = iota
	KindModule
	KindPXE
	KindBootSector
	KindFloppyImage
	KindEcho
	KindPatchedBootSector
	KindComboot
)

var suffixes = []struct {
	suffix string
	kind   Kind
}{
	{".c32", KindModule},
	{".0", KindPXE},
	{".bs", KindBootSector},
	{".img", KindFloppyImage},
	{".bin", KindEcho},
	{".bss", KindPatchedBootSector},
	{".com", KindComboot},
	{".cbt", KindComboot},
}

func KindOf(name string) Kind {
	for _, s := range suffixes {
		if len(name) > len(s.suffix) && strings.HasSuffix(name, s.suffix) {
			return s.kind
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindPXE:
		return "pxe"
	case KindBootSector:
		return "boot sector"
	case KindFloppyImage:
		return "floppy image"
	case KindEcho:
		return "echo"
	case KindPatchedBootSector:
		return "patched boot sector"
	case KindComboot:
		return "comboot"
	}
	return "unknown"
}

// Command is one parsed command line.
type Command struct {
	Line string
	Name string
	// Args holds the tokens after Name.
	Args []string
	Kind Kind
}

// Parse splits line on whitespace. It reports false for a blank line.
func Parse(line string) (Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false
	}
	args := fields[1:]
	if len(args) > MaxArgs {
		args = args[:MaxArgs]
	}
	return Command{
		Line: strings.TrimSpace(line),
		Name: fields[0],
		Args: args,
		Kind: KindOf(fields[0]),
	}, true
}
