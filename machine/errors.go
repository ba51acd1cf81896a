package machine

import "errors"

var (
	ErrArchUnsupported = errors.New("architecture unsupported")
	ErrArchMismatch    = errors.New("architecture mismatch")
	ErrMemUnmapped     = errors.New("memory unmapped")
	ErrMemOverlap      = errors.New("memory overlap")
	ErrMemRange        = errors.New("memory out of range")
	ErrMemAlign        = errors.New("memory unaligned")
)
