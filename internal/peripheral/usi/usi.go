// Package usi implements a minimal Universal Serial Interface shift
// register, per SPEC_FULL.md 3.1. Grounded on the ioport package's
// register-bit/signal shape, generalized from GPIO levels to a shifting
// byte register.
package usi

import "github.com/gatk555/simavr/internal/core"

// USI models USIDR (data register), an internal 4-bit shift counter, and
// a clock-edge or software-strobed shift; USISR is not mapped (no hook
// reads or writes its address). This is enough to exercise the
// RegBit/signal mechanisms without chip-specific two-wire/SPI protocol
// logic.
type USI struct {
	m *core.Machine

	drAddr, srAddr uint16

	data    uint8
	counter uint8 // 4-bit shift counter

	overflowVector *core.Vector

	dataOutSignal *core.Signal // USI data-output pin level
}

// New creates a USI instance with its data register hooked at drAddr.
// srAddr is recorded, but no hook is installed on it.
func New(m *core.Machine, drAddr, srAddr uint16) *USI {
	u := &USI{m: m, drAddr: drAddr, srAddr: srAddr}
	u.dataOutSignal = m.Graph.AllocPool(core.ControlKey("usi\x00"), 1, nil).Signal(0)

	m.Data.SetWriteHook(drAddr, func(_ uint16, v uint8) (uint8, bool) {
		u.data = v
		u.dataOutSignal.Raise(uint32(v >> 7))
		return v, true
	})
	m.Data.SetReadHook(drAddr, func(uint16, uint8) uint8 { return u.data })

	m.RegisterPeripheral(u)
	return u
}

// SetOverflowVector attaches the counter-overflow interrupt vector,
// raised when the 4-bit counter wraps after 16 clock edges.
func (u *USI) SetOverflowVector(v *core.Vector) { u.overflowVector = v }

// Clock shifts in bit, MSB-first, advancing the counter and raising the
// overflow interrupt when it wraps, matching a single USICLK/USITC pulse.
func (u *USI) Clock(bit bool) {
	u.data <<= 1
	if bit {
		u.data |= 1
	}
	u.m.Data.RawWrite(u.drAddr, u.data)
	u.dataOutSignal.Raise(uint32(u.data >> 7))

	u.counter = (u.counter + 1) & 0x0f
	if u.counter == 0 && u.overflowVector != nil {
		u.m.Interrupts.Raise(u.overflowVector)
	}
}

// DataOut exposes the shift register's MSB as a signal a port can connect
// to for its DO pin.
func (u *USI) DataOut() *core.Signal { return u.dataOutSignal }

// Reset clears the data and counter registers.
func (u *USI) Reset() {
	u.data = 0
	u.counter = 0
}
