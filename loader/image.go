package loader

import (
	"errors"
	"io"
)

var ErrSeekBackward = errors.New("image seek backward")

// Image is the sequential view of a module's backing bytes. Only forward
// seeks are supported.
type Image interface {
	io.Reader
	io.Closer
	SeekTo(offset int64) error
	Offset() int64
}

type image struct {
	r   io.Reader
	c   io.Closer
	off int64
}

func NewImage(rc io.ReadCloser) Image {
	return &image{r: rc, c: rc}
}

// Read fills b completely or fails.
func (img *image) Read(b []byte) (int, error) {
	n, err := io.ReadFull(img.r, b)
	img.off += int64(n)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (img *image) SeekTo(offset int64) error {
	if offset < img.off {
		return ErrSeekBackward
	}
	n, err := io.CopyN(io.Discard, img.r, offset-img.off)
	img.off += n
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (img *image) Offset() int64 {
	return img.off
}

func (img *image) Close() error {
	return img.c.Close()
}
