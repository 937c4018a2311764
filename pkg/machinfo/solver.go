package machinfo

import (
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
)

const nlist64Size = 16

// SolveSymbol resolves an exported symbol name to its address in the
// running image. The symbol table is scanned in file order and the first
// exact match wins; duplicate names are not disambiguated further.
// Returns 0 when the descriptor is not fully resolved or the name is not
// present. A miss is an expected outcome the caller must check, not a
// fault, and repeated calls on an unchanged descriptor return the same
// result.
func (mi *MachInfo) SolveSymbol(name string) uint64 {
	if mi.linkedit == nil || !mi.slideSet || mi.runningTextAddr == 0 || name == "" {
		return 0
	}
	// symtab and strtab offsets are file-relative; re-base them against the
	// start of the owned __LINKEDIT buffer before indexing it.
	if uint64(mi.symtabFileOff) < mi.linkeditFileOff || uint64(mi.strtabFileOff) < mi.linkeditFileOff {
		return 0
	}
	symOff := uint64(mi.symtabFileOff) - mi.linkeditFileOff
	strOff := uint64(mi.strtabFileOff) - mi.linkeditFileOff
	if symOff >= uint64(len(mi.linkedit)) || strOff >= uint64(len(mi.linkedit)) {
		return 0
	}

	// never trust the declared entry count past the buffer actually owned
	nsyms := uint64(mi.symtabNumSyms)
	if avail := (uint64(len(mi.linkedit)) - symOff) / nlist64Size; nsyms > avail {
		nsyms = avail
	}

	for i := uint64(0); i < nsyms; i++ {
		entry := mi.linkedit[symOff+i*nlist64Size:]
		strx := binary.LittleEndian.Uint32(entry)
		typ := types.NType(entry[4])
		value := binary.LittleEndian.Uint64(entry[8:])

		// externally-defined, non-debug symbols only
		if typ.IsDebugSym() || !typ.IsExternalSym() || typ.IsUndefinedSym() {
			continue
		}
		if cstringAt(mi.linkedit, strOff+uint64(strx)) == name {
			// entry values are disk-relative; re-base onto the running image
			return mi.runningTextAddr + (value - mi.diskTextAddr)
		}
	}
	return 0
}

// cstringAt reads a NUL-terminated string out of buf, returning "" when off
// is out of range or no terminator exists before the end of the buffer.
func cstringAt(buf []byte, off uint64) string {
	if off >= uint64(len(buf)) {
		return ""
	}
	for end := off; end < uint64(len(buf)); end++ {
		if buf[end] == 0 {
			return string(buf[off:end])
		}
	}
	return ""
}
