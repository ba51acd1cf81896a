package x86

import (
	"bytes"
	"encoding/binary"

	"github.com/wnxd/microboot/boot"
	internal "github.com/wnxd/microboot/internal/boot"
	"github.com/wnxd/microboot/machine"
)

// ud2 raises #UD; the routine id follows it.
var ud2 = []byte{0x0F, 0x0B}

type x86Boot struct {
	internal.Core
}

func NewX86Boot(m machine.Machine, cfg boot.Config) (boot.Boot, error) {
	if m.Arch() != machine.ARCH_X86 {
		return nil, machine.ErrArchMismatch
	}
	b := new(x86Boot)
	if err := b.Init(b, m, cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *x86Boot) PointerSize() uint64 {
	return 4
}

func (b *x86Boot) StackAlign() uint64 {
	return 16
}

func (b *x86Boot) TrapSize() uint64 {
	return uint64(len(ud2)) + 4
}

func (b *x86Boot) TrapCode(id uint32) []byte {
	return binary.LittleEndian.AppendUint32(bytes.Clone(ud2), id)
}

func (b *x86Boot) TrapDecode(code []byte) (uint32, bool) {
	if uint64(len(code)) < b.TrapSize() || !bytes.HasPrefix(code, ud2) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(code[len(ud2):]), true
}
