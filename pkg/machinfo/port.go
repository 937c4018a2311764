package machinfo

// A PrivilegedPort exposes the privileged processor state the kernel base
// locator and the write-protection controller depend on. On real hardware
// it is backed by sidt, mov-from-cr0/mov-to-cr0 and kernel virtual memory
// reads; in tests a software fake supplies deterministic descriptor-table
// contents and a settable bit.
type PrivilegedPort interface {
	// IDTBase returns the base address of the interrupt descriptor table.
	IDTBase() (uint64, error)
	// CR0 reads the control register holding the write-protect bit.
	CR0() (uint64, error)
	// SetCR0 writes the control register back.
	SetCR0(value uint64) error
	// ReadVirtual copies len(buf) bytes from the given kernel virtual
	// address into buf.
	ReadVirtual(addr uint64, buf []byte) error
}

// CR0WP is the write-protect bit of the CR0 control register. While set,
// writes to read-only mapped pages fault even in supervisor mode.
const CR0WP uint64 = 1 << 16

// DescriptorIDT is a 16 byte IDT gate descriptor (64-bit capable cpus).
type DescriptorIDT struct {
	OffsetLow    uint16
	SegSelector  uint16
	Reserved     uint8
	Flag         uint8
	OffsetMiddle uint16
	OffsetHigh   uint32
	Reserved2    uint32
}

// Address reassembles the 64-bit handler address out of the gate's
// high/middle/low offset words.
func (d DescriptorIDT) Address() uint64 {
	return uint64(d.OffsetHigh)<<32 | uint64(d.OffsetMiddle)<<16 | uint64(d.OffsetLow)
}
