package x86

import (
	"github.com/wnxd/microboot/boot"
	internal "github.com/wnxd/microboot/internal/boot/x86"
	"github.com/wnxd/microboot/machine"
)

var _ = boot.Register(machine.ARCH_X86, internal.NewX86Boot)
