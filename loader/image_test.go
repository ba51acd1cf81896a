package loader

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestImageForwardOnly(t *testing.T) {
	img := NewImage(io.NopCloser(bytes.NewReader([]byte("0123456789"))))
	buf := make([]byte, 3)
	if _, err := img.Read(buf); err != nil || string(buf) != "012" {
		t.Fatalf("Read = %q, %v", buf, err)
	}
	if err := img.SeekTo(6); err != nil || img.Offset() != 6 {
		t.Fatalf("SeekTo(6) = %v, offset %d", err, img.Offset())
	}
	if err := img.SeekTo(2); !errors.Is(err, ErrSeekBackward) {
		t.Fatalf("SeekTo(2) = %v", err)
	}
	if err := img.SeekTo(6); err != nil {
		t.Fatalf("SeekTo current offset: %v", err)
	}
	if _, err := img.Read(make([]byte, 8)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("short Read = %v", err)
	}
	if err := img.SeekTo(100); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("SeekTo past end = %v", err)
	}
}
