//go:build !unix

package machine

func mapAnon(size uint64) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
