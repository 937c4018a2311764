// Package buffer provides an in-memory image buffer that satisfies the
// byte-range Source contract of pkg/machinfo, used to assemble and serve
// synthetic Mach-O images without touching the filesystem.
package buffer

import (
	"errors"
	"io"
)

// Image is a growable in-memory byte buffer implementing io.WriterAt and
// io.ReaderAt. The zero value is an empty buffer ready to use.
type Image struct {
	d []byte
	m int
}

// NewImage creates an Image with the given initial size and maximum. If
// maximum is <= 0 it is unlimited.
func NewImage(size, max int) *Image {
	if max < size && max >= 0 {
		max = size
	}
	return &Image{make([]byte, size), max}
}

// Size returns the current length of the underlying byte slice. The error
// is always nil; the signature matches the machinfo Source contract.
func (im *Image) Size() (int64, error) { return int64(len(im.d)), nil }

// Bytes returns the Image's underlying data. The slice remains valid so
// long as no other methods are called on the Image.
func (im *Image) Bytes() []byte { return im.d }

// Truncate shrinks the buffer to n bytes.
func (im *Image) Truncate(n int) {
	if n < len(im.d) {
		im.d = im.d[:n]
	}
}

// WriteAt implements the io.WriterAt interface, growing the buffer as
// needed up to the configured maximum.
func (im *Image) WriteAt(dat []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("buffer.Image.WriteAt: negative offset")
	}
	if im.m > 0 && int(off)+len(dat) >= im.m {
		return 0, errors.New("buffer.Image.WriteAt: offset out of range")
	}
	// fast path extension
	if int(off) == len(im.d) {
		im.d = append(im.d, dat...)
		return len(dat), nil
	}
	if int(off)+len(dat) >= len(im.d) {
		nd := make([]byte, int(off)+len(dat))
		copy(nd, im.d)
		im.d = nd
	}
	copy(im.d[int(off):], dat)
	return len(dat), nil
}

// ReadAt implements the io.ReaderAt interface.
func (im *Image) ReadAt(b []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("buffer.Image.ReadAt: negative offset")
	}
	if off >= int64(len(im.d)) {
		return 0, io.EOF
	}
	n = copy(b, im.d[off:])
	if n < len(b) {
		err = io.EOF
	}
	return
}
