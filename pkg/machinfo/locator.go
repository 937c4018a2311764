package machinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

// int80Vector is the legacy system-call trap slot. Its gate always points
// into kernel text, which makes it a usable anchor for a kernel that hides
// its own base address.
const int80Vector = 0x80

const idtDescriptorSize = 16

// calculateInt80Address extracts the handler address registered for the
// int80 trap out of its gate descriptor.
func (mi *MachInfo) calculateInt80Address() (uint64, error) {
	idt, err := mi.port.IDTBase()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read IDT base")
	}
	raw := make([]byte, idtDescriptorSize)
	if err := mi.port.ReadVirtual(idt+int80Vector*idtDescriptorSize, raw); err != nil {
		return 0, errors.Wrap(err, "failed to read int80 gate descriptor")
	}
	var gate DescriptorIDT
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &gate); err != nil {
		return 0, err
	}
	return gate.Address(), nil
}

// FindKernelBase locates the mach header of the running kernel with no
// external input: it walks backward page by page from the int80 handler
// until the 64-bit magic shows up. Returns 0 if the gate cannot be read or
// no header is found within MaxScanPages; the caller treats that as fatal
// since there is no other discovery path.
func (mi *MachInfo) FindKernelBase() uint64 {
	handler, err := mi.calculateInt80Address()
	if err != nil {
		log.WithError(err).Debug("failed to calculate int80 handler address")
		return 0
	}

	addr := handler &^ uint64(PageSize-1)
	word := make([]byte, 4)
	for i := 0; i < mi.maxScanPages; i++ {
		if err := mi.port.ReadVirtual(addr, word); err != nil {
			return 0
		}
		if types.Magic(binary.LittleEndian.Uint32(word)) == types.Magic64 {
			log.WithField("base", fmt.Sprintf("%#x", addr)).Debug("found kernel base")
			return addr
		}
		if addr < PageSize {
			break
		}
		addr -= PageSize
	}
	return 0
}
