package machinfo

import (
	"bytes"
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

const (
	segTextName     = "__TEXT"
	segLinkeditName = "__LINKEDIT"
)

const (
	segment64CmdSize = 72
	symtabCmdSize    = 24
	uuidCmdSize      = 24
)

// forEachCommand walks the load-command stream following a 64-bit mach
// header. Both the declared command count and the declared total size are
// validated against the buffer's real capacity before any command byte is
// touched; a command claiming to extend past the buffer is a parse error,
// not an out-of-bounds read. Unrecognized commands are skipped using their
// declared size, never assumed to be fixed-size.
func forEachCommand(buf []byte, fn func(cmd types.LoadCmd, body []byte) error) error {
	if len(buf) < types.FileHeaderSize64 {
		return errors.Wrapf(ErrCmdBounds, "buffer (%d bytes) smaller than a mach header", len(buf))
	}
	var hdr types.FileHeader
	if err := binary.Read(bytes.NewReader(buf[:types.FileHeaderSize64]), binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if hdr.Magic != types.Magic64 {
		return errors.Wrapf(ErrBadMagic, "magic %#x", hdr.Magic.Int())
	}

	end := uint64(types.FileHeaderSize64) + uint64(hdr.SizeCommands)
	if end > uint64(len(buf)) {
		return errors.Wrapf(ErrCmdBounds, "%#x bytes of load commands exceed %#x byte buffer", hdr.SizeCommands, len(buf))
	}

	off := uint64(types.FileHeaderSize64)
	for i := uint32(0); i < hdr.NCommands; i++ {
		if off+8 > end {
			return errors.Wrapf(ErrCmdBounds, "command %d header past declared size", i)
		}
		cmd := types.LoadCmd(binary.LittleEndian.Uint32(buf[off:]))
		size := uint64(binary.LittleEndian.Uint32(buf[off+4:]))
		if size < 8 || off+size > end {
			return errors.Wrapf(ErrCmdBounds, "command %d declares size %#x at offset %#x", i, size, off)
		}
		if err := fn(cmd, buf[off:off+size]); err != nil {
			return err
		}
		off += size
	}
	return nil
}

// findSegment64 returns the named 64-bit segment command from a header
// buffer, or nil when the image has no such segment.
func findSegment64(buf []byte, name string) (*types.Segment64, error) {
	var found *types.Segment64
	err := forEachCommand(buf, func(cmd types.LoadCmd, body []byte) error {
		if cmd != types.LC_SEGMENT_64 || found != nil {
			return nil
		}
		if len(body) < segment64CmdSize {
			return errors.Wrapf(ErrCmdBounds, "truncated segment command (%d bytes)", len(body))
		}
		var seg types.Segment64
		if err := binary.Read(bytes.NewReader(body[:segment64CmdSize]), binary.LittleEndian, &seg); err != nil {
			return err
		}
		if segmentName(seg.Name) == name {
			found = &seg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// processMachHeader extracts segment geometry, the symbol table layout and
// the build identifier out of an already-read header buffer.
func (mi *MachInfo) processMachHeader(buf []byte) error {
	err := forEachCommand(buf, func(cmd types.LoadCmd, body []byte) error {
		switch cmd {
		case types.LC_SEGMENT_64:
			if len(body) < segment64CmdSize {
				return errors.Wrapf(ErrCmdBounds, "truncated segment command (%d bytes)", len(body))
			}
			var seg types.Segment64
			if err := binary.Read(bytes.NewReader(body[:segment64CmdSize]), binary.LittleEndian, &seg); err != nil {
				return err
			}
			switch segmentName(seg.Name) {
			case segTextName:
				mi.diskTextAddr = seg.Addr
				mi.textSize = seg.Memsz
			case segLinkeditName:
				mi.linkeditFileOff = seg.Offset
				mi.linkeditSize = seg.Filesz
			}
		case types.LC_SYMTAB:
			if len(body) < symtabCmdSize {
				return errors.Wrapf(ErrCmdBounds, "truncated symtab command (%d bytes)", len(body))
			}
			var st types.SymtabCmd
			if err := binary.Read(bytes.NewReader(body[:symtabCmdSize]), binary.LittleEndian, &st); err != nil {
				return err
			}
			mi.symtabFileOff = st.Symoff
			mi.symtabNumSyms = st.Nsyms
			mi.strtabFileOff = st.Stroff
		case types.LC_UUID:
			if len(body) < uuidCmdSize {
				return errors.Wrapf(ErrCmdBounds, "truncated uuid command (%d bytes)", len(body))
			}
			copy(mi.uuid[:], body[8:8+16])
			mi.uuidSet = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	if mi.diskTextAddr == 0 {
		return errors.Errorf("image has no %s segment", segTextName)
	}
	if mi.linkeditSize == 0 {
		return errors.Errorf("image has no %s segment", segLinkeditName)
	}
	if mi.symtabNumSyms == 0 {
		return errors.New("image has no symbol table")
	}

	mi.updateAddresses()
	return nil
}

// GetUUID returns the LC_UUID build identifier embedded in the given header
// buffer. The token is compared for equality only, never parsed further.
func GetUUID(buf []byte) (types.UUID, error) {
	var uuid types.UUID
	found := false
	err := forEachCommand(buf, func(cmd types.LoadCmd, body []byte) error {
		if cmd != types.LC_UUID || found {
			return nil
		}
		if len(body) < uuidCmdSize {
			return errors.Wrapf(ErrCmdBounds, "truncated uuid command (%d bytes)", len(body))
		}
		copy(uuid[:], body[8:8+16])
		found = true
		return nil
	})
	if err != nil {
		return types.UUID{}, err
	}
	if !found {
		return types.UUID{}, errors.New("image has no uuid command")
	}
	return uuid, nil
}

func segmentName(raw [16]byte) string {
	return string(bytes.TrimRight(raw[:], "\x00"))
}
