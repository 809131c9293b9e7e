package eeprom

import "github.com/gatk555/simavr/internal/core"

// EECR bit positions, matching the real AVR EEPROM control register
// layout closely enough to exercise the read/write interlock; exact
// per-chip bit assignment is out of scope (spec.md 1).
const (
	eecrEERE = 0 // read strobe
	eecrEEWE = 1 // write strobe
	eecrEEMWE = 2 // master write enable, must be set before EEWE takes effect
	eecrEERIE = 3 // ready-interrupt enable
)

// Registers maps a Controller onto the EEARL/EEARH/EEDR/EECR
// memory-mapped register quartet spec.md 6 calls "a peripheral ioctl" —
// this is that ioctl surface's register-mapped front end, grounded on
// ioport.Port's write-hook installation shape.
type Registers struct {
	c *Controller
	m *core.Machine

	earlAddr, earhAddr, edrAddr, ecrAddr uint16

	readyVector *core.Vector
}

// Attach wires ctrl onto the given register addresses of m, installing
// write hooks so firmware's EECR strobes drive real reads/writes through
// the Controller instead of touching the byte store directly.
func Attach(m *core.Machine, ctrl *Controller, earlAddr, earhAddr, edrAddr, ecrAddr uint16) *Registers {
	r := &Registers{c: ctrl, m: m, earlAddr: earlAddr, earhAddr: earhAddr, edrAddr: edrAddr, ecrAddr: ecrAddr}

	m.Data.SetWriteHook(ecrAddr, func(_ uint16, v uint8) (uint8, bool) {
		r.onControlWrite(v)
		return v, true
	})
	m.RegisterPeripheral(r)
	return r
}

// SetReadyVector attaches the optional EERIE-gated "write complete"
// interrupt.
func (r *Registers) SetReadyVector(v *core.Vector) { r.readyVector = v }

func (r *Registers) address() uint16 {
	lo := r.m.Data.RawRead(r.earlAddr)
	hi := r.m.Data.RawRead(r.earhAddr)
	return uint16(hi)<<8 | uint16(lo)
}

func (r *Registers) onControlWrite(v uint8) {
	if v&(1<<eecrEERE) != 0 {
		r.m.Data.RawWrite(r.edrAddr, r.c.ReadByte(r.address()))
	}
	if v&(1<<eecrEEWE) != 0 && v&(1<<eecrEEMWE) != 0 {
		addr := r.address()
		value := r.m.Data.RawRead(r.edrAddr)
		r.c.WriteByte(addr, value, func(bool) {
			raw := r.m.Data.RawRead(r.ecrAddr)
			raw &^= (1 << eecrEEWE) | (1 << eecrEEMWE)
			r.m.Data.RawWrite(r.ecrAddr, raw)
			if raw&(1<<eecrEERIE) != 0 && r.readyVector != nil {
				r.m.Interrupts.Raise(r.readyVector)
			}
		})
	}
}

// Reset is a no-op: the Controller's own Reset governs content survival;
// the register front end has no state of its own beyond the byte store,
// which Machine.Reset does not clear for I/O registers.
func (r *Registers) Reset() {}
