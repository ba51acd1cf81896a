package loader

// Region is the memory a module image occupies once placed.
type Region struct {
	Addr, Size uint64
	Align      uint64
	// Bias is added to an image virtual address to get its absolute
	// address. It wraps like the target's address arithmetic.
	Bias uint64
}

func (r Region) End() uint64 {
	return r.Addr + r.Size
}

func (r Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.End()
}
