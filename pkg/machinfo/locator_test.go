package machinfo

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/blacktop/go-macho/types"
)

// fakePort is a software privileged-register port: a deterministic IDT, a
// block-mapped virtual address space and a settable control register.
type fakePort struct {
	idt    uint64
	idtErr error
	mem    []memBlock
	cr0    uint64
	cr0Log []uint64
}

type memBlock struct {
	base uint64
	data []byte
}

func (p *fakePort) IDTBase() (uint64, error) {
	if p.idtErr != nil {
		return 0, p.idtErr
	}
	return p.idt, nil
}

func (p *fakePort) CR0() (uint64, error) { return p.cr0, nil }

func (p *fakePort) SetCR0(v uint64) error {
	p.cr0 = v
	p.cr0Log = append(p.cr0Log, v)
	return nil
}

func (p *fakePort) ReadVirtual(addr uint64, buf []byte) error {
	for _, b := range p.mem {
		if addr >= b.base && addr+uint64(len(buf)) <= b.base+uint64(len(b.data)) {
			copy(buf, b.data[addr-b.base:])
			return nil
		}
	}
	return errors.New("unmapped read")
}

// map an IDT whose int80 gate points at handler
func (p *fakePort) mapIDT(idtBase, handler uint64) {
	table := make([]byte, (int80Vector+1)*idtDescriptorSize)
	gate := table[int80Vector*idtDescriptorSize:]
	binary.LittleEndian.PutUint16(gate[0:], uint16(handler))
	binary.LittleEndian.PutUint16(gate[2:], 0x08) // kernel code selector
	gate[5] = 0x8e                                // present 64-bit interrupt gate
	binary.LittleEndian.PutUint16(gate[6:], uint16(handler>>16))
	binary.LittleEndian.PutUint32(gate[8:], uint32(handler>>32))
	p.idt = idtBase
	p.mem = append(p.mem, memBlock{idtBase, table})
}

// runningKernelPort maps img at base with some trailing text pages and an
// int80 handler a few pages above the header.
func runningKernelPort(img []byte, base uint64) *fakePort {
	text := make([]byte, len(img)+3*PageSize)
	copy(text, img)
	p := &fakePort{cr0: 0x80050033} // WP set, as on a booted kernel
	p.mem = append(p.mem, memBlock{base, text})
	p.mapIDT(0xffffff80009a1000, base+uint64(len(img))+0x2f0)
	return p
}

func TestDescriptorIDTAddress(t *testing.T) {
	gate := DescriptorIDT{
		OffsetLow:    0xcdef,
		OffsetMiddle: 0x89ab,
		OffsetHigh:   0x01234567,
	}
	if got := gate.Address(); got != 0x0123456789abcdef {
		t.Errorf("Address() = %#x, want 0x0123456789abcdef", got)
	}
}

func TestFindKernelBase(t *testing.T) {
	img := buildImage(t, testTextAddr, testUUID, defaultSyms())
	base := testTextAddr + testSlide
	port := runningKernelPort(img, base)

	mi := New(nil, port, &Config{Kernel: true})
	if got := mi.FindKernelBase(); got != base {
		t.Errorf("FindKernelBase() = %#x, want %#x", got, base)
	}
}

func TestFindKernelBaseScanBound(t *testing.T) {
	// pages of mapped zeroes, no header magic anywhere within the bound
	base := testTextAddr + testSlide
	port := &fakePort{}
	port.mem = append(port.mem, memBlock{base, make([]byte, 64*PageSize)})
	port.mapIDT(0xffffff80009a1000, base+60*PageSize)

	mi := New(nil, port, &Config{Kernel: true, MaxScanPages: 8})
	if got := mi.FindKernelBase(); got != 0 {
		t.Errorf("FindKernelBase() = %#x, want 0 when the scan bound is exhausted", got)
	}
}

func TestFindKernelBaseNoIDT(t *testing.T) {
	port := &fakePort{idtErr: errors.New("no sidt for you")}
	mi := New(nil, port, &Config{Kernel: true})
	if got := mi.FindKernelBase(); got != 0 {
		t.Errorf("FindKernelBase() = %#x, want 0", got)
	}
}

func TestKernelInitEndToEnd(t *testing.T) {
	img := buildImage(t, testTextAddr, testUUID, defaultSyms())
	base := testTextAddr + testSlide
	port := runningKernelPort(img, base)

	// first candidate is a different build; init must skip it on uuid
	fs := fakeFS{
		"/S/L/K/kernel.old": buildImage(t, testTextAddr, types.UUID{0xba, 0xad}, defaultSyms()),
		"/S/L/K/kernel":     img,
	}

	mi := New(fs, port, &Config{Kernel: true})
	defer mi.Deinit()

	if err := mi.Init([]string{"/S/L/K/kernel.old", "/S/L/K/kernel"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if slide, ok := mi.Slide(); !ok || slide != testSlide {
		t.Errorf("Slide() = %#x, %v, want %#x, true", slide, ok, testSlide)
	}
	if got := mi.RunningBase(); got != base {
		t.Errorf("RunningBase() = %#x, want %#x", got, base)
	}
	if got, want := mi.SolveSymbol("_kern_os_malloc"), base+0x1000; got != want {
		t.Errorf("SolveSymbol() = %#x, want %#x", got, want)
	}

	hdr, size := mi.GetRunningPosition()
	if hdr == nil {
		t.Fatal("GetRunningPosition() header = nil")
	}
	if size != HeaderSize {
		t.Errorf("GetRunningPosition() size = %#x, want %#x", size, HeaderSize)
	}
	if !mi.IsCurrentKernel(img[:HeaderSize]) {
		t.Error("IsCurrentKernel() = false for the matching image")
	}
	if mi.IsCurrentKernel(fs["/S/L/K/kernel.old"][:HeaderSize]) {
		t.Error("IsCurrentKernel() = true for a different build")
	}
}

func TestKernelInitNoBase(t *testing.T) {
	port := &fakePort{idtErr: errors.New("no sidt for you")}
	mi := New(fakeFS{}, port, &Config{Kernel: true})
	defer mi.Deinit()

	err := mi.Init([]string{"/S/L/K/kernel"})
	if err == nil {
		t.Fatal("Init() without a locatable kernel base should fail")
	}
	if !errors.Is(err, ErrKernelBaseNotFound) {
		t.Errorf("Init() error = %v, want %v", err, ErrKernelBaseNotFound)
	}
}

func TestSetWPBit(t *testing.T) {
	port := &fakePort{cr0: 0x80050033}
	mi := New(nil, port, &Config{Kernel: true})

	if err := mi.SetWPBit(false); err != nil {
		t.Fatal(err)
	}
	if port.cr0&CR0WP != 0 {
		t.Error("SetWPBit(false) left the WP bit set")
	}
	if err := mi.SetWPBit(true); err != nil {
		t.Fatal(err)
	}
	if port.cr0&CR0WP == 0 {
		t.Error("SetWPBit(true) left the WP bit clear")
	}
}

func TestSetKernelWritingPaired(t *testing.T) {
	port := &fakePort{cr0: 0x80050033}
	mi := New(nil, port, &Config{Kernel: true})

	// every code path that opens the write window must close it before
	// returning control
	patch := func() error {
		if err := mi.SetKernelWriting(true); err != nil {
			return err
		}
		defer mi.SetKernelWriting(false)
		return nil
	}
	for i := 0; i < 3; i++ {
		if err := patch(); err != nil {
			t.Fatal(err)
		}
	}

	if len(port.cr0Log) != 6 {
		t.Fatalf("cr0 written %d times, want 6", len(port.cr0Log))
	}
	for i, v := range port.cr0Log {
		wantOpen := i%2 == 0
		if wantOpen && v&CR0WP != 0 {
			t.Errorf("write %d: WP set during an open window", i)
		}
		if !wantOpen && v&CR0WP == 0 {
			t.Errorf("write %d: WP not restored when closing the window", i)
		}
	}
	if port.cr0&CR0WP == 0 {
		t.Error("WP bit not restored after the last patch window")
	}
}
