// Package ioport implements the DDR/PORT/PIN register triplet shared by
// every AVR GPIO port, per spec.md 4.E.
package ioport

import "github.com/gatk555/simavr/internal/core"

// Signal indices within a port's pool, per spec.md 4.E/6. The first 16
// follow spec.md 4.E's per-bit input (0..7) / per-bit output (8..15)
// layout; the whole-port/control signals are appended after them rather
// than reusing 8..11 for both purposes, since 4.E describes both sets of
// signals explicitly.
const (
	IdxInput0    = 0  // .. IdxInput0+7
	IdxOutput0   = 8  // .. IdxOutput0+7
	IdxPortWrite = 16
	IdxDDRWrite  = 17
	IdxPinRead   = 18
	IdxPinChange = 19
	IdxOverride0 = 20 // .. IdxOverride0+7: driven by a timer's compare-output signal
	numSignals   = 28
)

// OverrideValue packs the level a peripheral wants to drive onto a pin
// (bit 0) with the "this is an active override" flag (bit 1), per
// spec.md 4.G's "compare-output signal with the new bit value OR'd with
// an is-an-output flag" note.
func OverrideValue(level, active bool) uint32 {
	var v uint32
	if level {
		v |= 1
	}
	if active {
		v |= 2
	}
	return v
}

// Port models one 8-bit GPIO port: DDR (direction), PORT (output value /
// pullup enable), and PIN (input / toggle-on-write).
type Port struct {
	m    *core.Machine
	pool *core.Pool

	ddrAddr, portAddr, pinAddr uint16

	ddr      uint8 // 1 = output
	port     uint8 // output value / pullup-enable for input bits
	extLevel uint8 // externally driven level on input-configured bits
	pullups  bool

	overrideActive uint8 // bitmask: bits currently driven by a peripheral override
	overrideLevel  uint8 // driven level for those bits
}

// New builds a port named by a single letter ('A'..'H' typically),
// registering its signal pool under control key "iog"+name and installing
// its register hooks on m.Data at the given addresses.
func New(m *core.Machine, name byte, ddrAddr, portAddr, pinAddr uint16) *Port {
	p := &Port{m: m, ddrAddr: ddrAddr, portAddr: portAddr, pinAddr: pinAddr}
	key := core.ControlKey("iog" + string(name))
	p.pool = m.Graph.AllocPool(key, numSignals, nil)

	for i := 0; i < 8; i++ {
		bit := uint8(i)
		p.pool.Signal(IdxInput0 + i).RegisterNotify(func(_ *core.Signal, value uint32, _ interface{}) {
			p.setExternalBit(bit, value != 0)
		}, nil)
		p.pool.Signal(IdxOverride0 + i).RegisterNotify(func(_ *core.Signal, value uint32, _ interface{}) {
			p.setOverrideBit(bit, value)
		}, nil)
	}

	m.Data.SetWriteHook(ddrAddr, func(_ uint16, v uint8) (uint8, bool) {
		p.ddr = v
		p.recompute()
		p.pool.Signal(IdxDDRWrite).Raise(uint32(v))
		return v, true
	})
	m.Data.SetWriteHook(portAddr, func(_ uint16, v uint8) (uint8, bool) {
		p.port = v
		p.recompute()
		p.pool.Signal(IdxPortWrite).Raise(uint32(v))
		return v, true
	})
	m.Data.SetWriteHook(pinAddr, func(_ uint16, v uint8) (uint8, bool) {
		// AVR toggle-by-writing-PIN: XOR into PORT, do not store into PIN.
		m.Data.Write(portAddr, p.port^v)
		return 0, false
	})
	m.Data.SetReadHook(pinAddr, func(_ uint16, _ uint8) uint8 {
		p.pool.Signal(IdxPinRead).Raise(uint32(p.effective()))
		return p.effective()
	})

	m.RegisterPeripheral(p)
	return p
}

// SetPullupsEnabled reflects the chip-global pullup-disable bit (MCUCR.PUD
// on parts that have one). No register write hook calls it; it takes
// effect only when called directly.
func (p *Port) SetPullupsEnabled(on bool) {
	p.pullups = on
	p.recompute()
}

func (p *Port) setExternalBit(bit uint8, high bool) {
	mask := uint8(1) << bit
	if high {
		p.extLevel |= mask
	} else {
		p.extLevel &^= mask
	}
	p.recompute()
}

func (p *Port) setOverrideBit(bit uint8, packed uint32) {
	mask := uint8(1) << bit
	if packed&2 != 0 {
		p.overrideActive |= mask
		if packed&1 != 0 {
			p.overrideLevel |= mask
		} else {
			p.overrideLevel &^= mask
		}
	} else {
		p.overrideActive &^= mask
	}
	p.recompute()
}

// effective computes the live pin level byte per spec.md 4.E: a bit
// currently overridden by a peripheral (PWM compare output) reads that
// peripheral's driven level regardless of DDR; otherwise output bits read
// back PORT, and input bits read the external level, or pulled-up high
// when PORT requests a pullup and none is globally disabled.
func (p *Port) effective() uint8 {
	var v uint8
	for bit := uint8(0); bit < 8; bit++ {
		mask := uint8(1) << bit
		var high bool
		switch {
		case p.overrideActive&mask != 0:
			high = p.overrideLevel&mask != 0
		case p.ddr&mask != 0:
			high = p.port&mask != 0
		default:
			high = p.extLevel&mask != 0
			if !high && p.pullups && p.port&mask != 0 {
				high = true
			}
		}
		if high {
			v |= mask
		}
	}
	return v
}

func (p *Port) recompute() {
	v := p.effective()
	m := p.m
	m.Data.RawWrite(p.pinAddr, v)
	for bit := uint8(0); bit < 8; bit++ {
		mask := uint8(1) << bit
		high := uint32(0)
		if v&mask != 0 {
			high = 1
		}
		p.pool.Signal(IdxOutput0 + int(bit)).Raise(high)
	}
	p.pool.Signal(IdxPinChange).Raise(uint32(v))
}

// Pool exposes the port's signal pool to chip makers wiring PCINT vectors
// or connecting compare-unit pins from a timer.
func (p *Port) Pool() *core.Pool { return p.pool }

// Reset restores DDR/PORT to 0 (every pin an input, no pullups requested)
// without touching the externally driven level, matching real AVR reset
// behavior and spec.md 3's peripheral reset contract.
func (p *Port) Reset() {
	p.ddr = 0
	p.port = 0
	p.m.Data.RawWrite(p.ddrAddr, 0)
	p.m.Data.RawWrite(p.portAddr, 0)
	p.recompute()
}
