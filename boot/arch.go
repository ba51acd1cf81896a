package boot

import (
	"github.com/wnxd/microboot/machine"
)

type BootCtor func(machine.Machine, Config) (Boot, error)

var bootMap = make(map[machine.Arch]BootCtor)

func Register(arch machine.Arch, ctor BootCtor) bool {
	if _, ok := bootMap[arch]; ok {
		return false
	}
	bootMap[arch] = ctor
	return true
}
