package encoding

// Stream is a cursor over memory whose pointer words are BlockSize bytes.
type Stream interface {
	BlockSize() int
	Offset() uint64
	Skip(int) error
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	ReadString() (string, error)
	WriteString(string) error
	// ReadStream reads a pointer word and returns a stream at its target.
	ReadStream() (Stream, error)
	// WriteStream allocates size bytes, writes their address as a pointer
	// word and returns a stream at the allocation.
	WriteStream(size int) (Stream, error)
}
