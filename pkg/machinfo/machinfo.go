// Package machinfo locates, reads and parses a 64-bit Mach-O image both as
// it exists on disk and as it is mapped in a running address space. It
// computes the KASLR slide between the two representations, resolves
// exported symbols to runtime addresses and toggles the processor
// write-protect bit so that resolved locations can be patched by a caller.
package machinfo

import (
	"io"

	"github.com/apex/log"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

const (
	// PageSize is the page granularity of the images we track.
	PageSize = 0x1000
	// HeaderSize bounds a mach header plus all of its load commands.
	// Images whose load commands spill past two pages are rejected.
	HeaderSize = PageSize * 2
	// DefaultMaxScanPages bounds the backward page scan of FindKernelBase.
	DefaultMaxScanPages = 0x10000
)

var (
	// ErrBadMagic is returned when a header window does not start with the
	// 64-bit mach magic.
	ErrBadMagic = errors.New("not a 64-bit mach-o")
	// ErrCmdBounds is returned when a load command claims to extend past
	// the buffer that holds it.
	ErrCmdBounds = errors.New("load command out of bounds")
	// ErrKernelBaseNotFound is returned when the backward page scan
	// exhausts its bound without seeing a mach header.
	ErrKernelBaseNotFound = errors.New("kernel base not found")
	// ErrNoMatch is returned when no candidate path yields an image whose
	// build identifier matches the running kernel.
	ErrNoMatch = errors.New("no candidate image matches the running kernel")
)

// Config selects how a descriptor discovers its running image.
type Config struct {
	// Kernel marks the descriptor as representing the kernel itself, which
	// self-locates through the IDT anchor. Kernel extensions cannot and
	// must have their slide supplied via GetRunningAddresses before Init.
	Kernel bool
	// FatOffset is the byte offset to skip when the file is wrapped in a
	// multi-architecture container. It is honored, never parsed.
	FatOffset int64
	// MaxScanPages overrides DefaultMaxScanPages for FindKernelBase.
	MaxScanPages int
}

// MachInfo tracks one binary, kernel or kernel extension. A descriptor is
// created empty, populated by Init (which either fully succeeds or leaves
// it Deinit-able) and owned by exactly one subsystem at a time; no internal
// locking is provided.
type MachInfo struct {
	fs   Filesystem
	port PrivilegedPort

	kernel       bool
	fatOffset    int64
	maxScanPages int

	runningTextAddr uint64 // address of the running __TEXT segment
	diskTextAddr    uint64 // the same address as recorded in the file
	slide           uint64 // runningTextAddr - diskTextAddr
	slideSet        bool   // a slide of zero is legal, distinct from unknown

	header   []byte // owned, mach header plus all load commands
	linkedit []byte // owned, the whole __LINKEDIT segment

	linkeditFileOff uint64
	linkeditSize    uint64
	symtabFileOff   uint32
	symtabNumSyms   uint32
	strtabFileOff   uint32

	runningHeader []byte // header of the running image, read via the port
	memorySize    uint64 // size of the running header window
	textSize      uint64 // vm size of __TEXT as recorded in the file

	uuid    types.UUID
	uuidSet bool
}

// New returns an empty descriptor. The filesystem and port are borrowed for
// the descriptor's lifetime, never closed by it. Kext descriptors that only
// parse on-disk state may pass a nil port.
func New(fs Filesystem, port PrivilegedPort, conf *Config) *MachInfo {
	mi := &MachInfo{
		fs:           fs,
		port:         port,
		memorySize:   HeaderSize,
		maxScanPages: DefaultMaxScanPages,
	}
	if conf != nil {
		mi.kernel = conf.Kernel
		mi.fatOffset = conf.FatOffset
		if conf.MaxScanPages > 0 {
			mi.maxScanPages = conf.MaxScanPages
		}
	}
	return mi
}

// IsKernel reports the representation mode the descriptor was created with.
func (mi *MachInfo) IsKernel() bool { return mi.kernel }

// Slide returns the load slide and whether it has been resolved yet.
func (mi *MachInfo) Slide() (uint64, bool) { return mi.slide, mi.slideSet }

// DiskBase returns the __TEXT address recorded in the on-disk image.
func (mi *MachInfo) DiskBase() uint64 { return mi.diskTextAddr }

// RunningBase returns the __TEXT address of the running image.
func (mi *MachInfo) RunningBase() uint64 { return mi.runningTextAddr }

// TextSize returns the mapped size of __TEXT as recorded in the file.
func (mi *MachInfo) TextSize() uint64 { return mi.textSize }

// SymbolCount returns the number of symbol table entries declared by the
// image's symtab command.
func (mi *MachInfo) SymbolCount() uint32 { return mi.symtabNumSyms }

// UUID returns the image's build identifier and whether one was parsed.
func (mi *MachInfo) UUID() (types.UUID, bool) { return mi.uuid, mi.uuidSet }

// GetRunningAddresses resolves where the tracked image sits in the running
// address space. Kernels self-locate by anchoring on the IDT; kernel
// extensions must have their load slide (and optionally mapped size)
// supplied here before Init. Calling it again after the addresses are
// resolved is a no-op.
func (mi *MachInfo) GetRunningAddresses(slide uint64, size uint64) error {
	if mi.slideSet || mi.runningTextAddr != 0 {
		return nil
	}
	if !mi.kernel || slide != 0 || size != 0 {
		mi.slide = slide
		mi.slideSet = true
		if size != 0 {
			mi.memorySize = size
		}
		mi.updateAddresses()
		return nil
	}

	if mi.port == nil {
		return errors.New("kernel descriptors require a privileged port")
	}
	base := mi.FindKernelBase()
	if base == 0 {
		return ErrKernelBaseNotFound
	}
	hdr := make([]byte, HeaderSize)
	if err := mi.port.ReadVirtual(base, hdr); err != nil {
		return errors.Wrap(err, "failed to read running kernel header")
	}
	mi.runningHeader = hdr
	mi.runningTextAddr = base
	mi.updateAddresses()
	return nil
}

// updateAddresses recomputes the slide whenever both base addresses are
// known. The result is the same whichever side got resolved first.
func (mi *MachInfo) updateAddresses() {
	if mi.slideSet && mi.runningTextAddr == 0 && mi.diskTextAddr != 0 {
		mi.runningTextAddr = mi.diskTextAddr + mi.slide
	}
	if !mi.slideSet && mi.runningTextAddr != 0 && mi.diskTextAddr != 0 {
		mi.slide = mi.runningTextAddr - mi.diskTextAddr
		mi.slideSet = true
	}
}

// Init correlates the running image with its on-disk counterpart. Candidate
// paths are tried in order; the first whose build identifier matches the
// running kernel wins (kernel mode), or simply the first that parses (kext
// mode). Per-path read and magic failures move on to the next candidate;
// once a candidate is accepted, any parse failure is fatal. Every failure
// leaves the descriptor safe to Deinit.
func (mi *MachInfo) Init(paths []string) error {
	if len(paths) == 0 {
		return errors.New("no candidate paths")
	}
	if mi.kernel {
		if err := mi.GetRunningAddresses(0, 0); err != nil {
			return err
		}
	} else if !mi.slideSet {
		return errors.New("running addresses must be supplied before init for kext images")
	}

	for _, path := range paths {
		src, err := mi.fs.Open(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Debug("skipping candidate")
			continue
		}
		hdr := make([]byte, HeaderSize)
		if err := mi.readMachHeader(src, hdr, mi.fatOffset); err != nil {
			closeSource(src)
			log.WithError(err).WithField("path", path).Debug("skipping candidate")
			continue
		}
		if mi.kernel && !mi.IsCurrentKernel(hdr) {
			closeSource(src)
			log.WithField("path", path).Debug("build identifier mismatch")
			continue
		}

		mi.header = hdr
		if err := mi.processMachHeader(mi.header); err != nil {
			closeSource(src)
			return errors.Wrapf(err, "failed to process header of %s", path)
		}
		if err := mi.readLinkedit(src); err != nil {
			closeSource(src)
			return errors.Wrapf(err, "failed to read __LINKEDIT of %s", path)
		}
		closeSource(src)

		mi.updateAddresses()
		log.WithFields(log.Fields{
			"path":  path,
			"slide": mi.slide,
		}).Debug("mach info initialized")
		return nil
	}

	return errors.Wrapf(ErrNoMatch, "tried %d path(s)", len(paths))
}

// Deinit releases both owned buffers and resets every flag. It is
// idempotent and safe to call any number of times, including right after a
// partial or failed Init.
func (mi *MachInfo) Deinit() {
	mi.header = nil
	mi.linkedit = nil
	mi.runningHeader = nil
	mi.linkeditFileOff = 0
	mi.linkeditSize = 0
	mi.symtabFileOff = 0
	mi.symtabNumSyms = 0
	mi.strtabFileOff = 0
	mi.runningTextAddr = 0
	mi.diskTextAddr = 0
	mi.slide = 0
	mi.slideSet = false
	mi.memorySize = HeaderSize
	mi.textSize = 0
	mi.uuid = types.UUID{}
	mi.uuidSet = false
}

// GetRunningPosition exposes the running image's mapped header and the size
// of its window for auxiliary inspection (structures beyond the load
// commands). Ownership is not transferred; the slice dies with Deinit.
func (mi *MachInfo) GetRunningPosition() ([]byte, uint64) {
	if mi.runningHeader == nil {
		return nil, 0
	}
	return mi.runningHeader, mi.memorySize
}

// IsCurrentKernel reports whether the given on-disk header carries the same
// build identifier as the running kernel image.
func (mi *MachInfo) IsCurrentKernel(header []byte) bool {
	if mi.runningHeader == nil {
		return false
	}
	running, err := GetUUID(mi.runningHeader)
	if err != nil {
		return false
	}
	disk, err := GetUUID(header)
	if err != nil {
		return false
	}
	return running == disk
}

func closeSource(src Source) {
	if c, ok := src.(io.Closer); ok {
		c.Close()
	}
}
