package machinfo

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

// A Source provides byte-range access to an on-disk image. It stands in for
// an already-open file handle plus its filesystem context; no path
// resolution happens behind it.
type Source interface {
	io.ReaderAt
	Size() (int64, error)
}

// A Filesystem hands out Sources for candidate image paths. Init borrows
// one to try each path in turn and closes every Source it opens (when the
// implementation supports io.Closer).
type Filesystem interface {
	Open(name string) (Source, error)
}

// FileSource adapts an open os.File into a Source.
type FileSource struct {
	*os.File
}

// Size returns the file's current size.
func (f FileSource) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// OSFilesystem opens candidate paths straight off the host filesystem.
type OSFilesystem struct{}

// Open implements Filesystem.
func (OSFilesystem) Open(name string) (Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return FileSource{f}, nil
}

// ReadFileSize returns the size of the image behind src, or 0 when the
// query fails.
func ReadFileSize(src Source) int64 {
	sz, err := src.Size()
	if err != nil {
		return 0
	}
	return sz
}

// ReadFileData reads exactly len(buf) bytes at off. Fewer available bytes
// than requested is an error, never a silent truncation.
func ReadFileData(src Source, off int64, buf []byte) error {
	n, err := src.ReadAt(buf, off)
	if n < len(buf) {
		if err == nil || err == io.EOF {
			return errors.Errorf("short read at %#x: want %d bytes, got %d", off, len(buf), n)
		}
		return errors.Wrapf(err, "failed to read %d bytes at %#x", len(buf), off)
	}
	return nil
}

// readMachHeader fills buf (sized no less than HeaderSize) from the image
// at the given container offset and validates the 64-bit magic. On
// mismatch the buffer must not be treated as a parsed header.
func (mi *MachInfo) readMachHeader(src Source, buf []byte, off int64) error {
	if err := ReadFileData(src, off, buf); err != nil {
		return err
	}
	if magic := types.Magic(binary.LittleEndian.Uint32(buf)); magic != types.Magic64 {
		return errors.Wrapf(ErrBadMagic, "magic %#x at offset %#x", magic.Int(), off)
	}
	return nil
}

// readLinkedit locates the __LINKEDIT segment command in the already-read
// header buffer and pulls the entire segment into an owned buffer, so that
// symbols can be solved later without touching the file again. On failure
// the descriptor keeps its pre-read state; no partial buffer is retained.
func (mi *MachInfo) readLinkedit(src Source) error {
	seg, err := findSegment64(mi.header, segLinkeditName)
	if err != nil {
		return err
	}
	if seg == nil {
		return errors.Errorf("image has no %s segment", segLinkeditName)
	}
	buf := make([]byte, seg.Filesz)
	if err := ReadFileData(src, mi.fatOffset+int64(seg.Offset), buf); err != nil {
		return errors.Wrapf(err, "failed to read %s segment", segLinkeditName)
	}
	mi.linkedit = buf
	mi.linkeditFileOff = seg.Offset
	mi.linkeditSize = seg.Filesz
	return nil
}
