package loader

import "fmt"

// RelocationKind is the patch a relocation applies, independent of the
// architecture's numbering.
type RelocationKind int

const (
	// RelocationNone leaves the destination untouched.
	RelocationNone RelocationKind = iota
	// RelocationAbsolute adds S to the destination word.
	RelocationAbsolute
	// RelocationPCRelative adds S - P to the destination word.
	RelocationPCRelative
	// RelocationCopy copies the symbol's bytes to the destination.
	RelocationCopy
	// RelocationBind stores S into the destination word.
	RelocationBind
	// RelocationRelative adds the module base to the destination word.
	RelocationRelative
)

func (k RelocationKind) String() string {
	switch k {
	case RelocationNone:
		return "none"
	case RelocationAbsolute:
		return "absolute"
	case RelocationPCRelative:
		return "pc-relative"
	case RelocationCopy:
		return "copy"
	case RelocationBind:
		return "bind"
	case RelocationRelative:
		return "relative"
	}
	return fmt.Sprintf("RelocationKind(%d)", int(k))
}

type Relocation struct {
	Offset uint64
	Symbol uint32
	Kind   RelocationKind
}
