package machinfo

import "github.com/pkg/errors"

// SetWPBit sets or clears the write-protect bit in CR0. The bit is a single
// machine-wide register, not a per-descriptor resource: between clearing
// and restoring it no other code path may rely on write protection being
// active, and the caller must not reenter.
func (mi *MachInfo) SetWPBit(enable bool) error {
	cr0, err := mi.port.CR0()
	if err != nil {
		return errors.Wrap(err, "failed to read cr0")
	}
	if enable {
		cr0 |= CR0WP
	} else {
		cr0 &^= CR0WP
	}
	if err := mi.port.SetCR0(cr0); err != nil {
		return errors.Wrap(err, "failed to write cr0")
	}
	return nil
}

// SetKernelWriting opens (enable=true) or closes the window during which
// normally read-only kernel pages may be written. Every enable must be
// paired with a disable before control returns to unrelated code.
func (mi *MachInfo) SetKernelWriting(enable bool) error {
	return mi.SetWPBit(!enable)
}
