// Package extint maps GPIO pin level/edge transitions to interrupt
// vectors, per spec.md 4.F. Grounded on
// original_source/simavr/sim/avr_extint.c: sense-mode resolution and the
// re-evaluate-on-write control-change handler (spec.md 9 mandates this
// variant over the source's other, retrigger-on-ISR-return copy).
package extint

import "github.com/gatk555/simavr/internal/core"

// Sense encodes the ISC bits: 00=low-level, 01=any edge, 10=falling,
// 11=rising.
type Sense uint8

const (
	SenseLowLevel Sense = iota
	SenseAnyEdge
	SenseFalling
	SenseRising
)

// Entry links one external-interrupt source (INTn, or a pin-change group)
// to its vector.
type Entry struct {
	m      *core.Machine
	name   string
	vector *core.Vector

	pinSignal *core.Signal
	asyncOnly bool // pins that only support edge detection collapse to 2 modes

	enableBit core.RegBit
	iscLow    core.RegBit // 2-bit (or 1-bit for async-only sources) sense field

	connected bool
	prevLevel uint32
	haveLevel bool
}

// New creates an entry for one external-interrupt source. pinSignal is
// the ioport per-bit output signal (ioport.IdxOutput0+bit) this source
// watches. asyncOnly restricts sense resolution to falling/rising, for
// sources that have no synchronous level/toggle detector.
func New(m *core.Machine, name string, vector *core.Vector, pinSignal *core.Signal, enableBit, iscLow core.RegBit, asyncOnly bool) *Entry {
	e := &Entry{
		m: m, name: name, vector: vector,
		pinSignal: pinSignal, enableBit: enableBit, iscLow: iscLow, asyncOnly: asyncOnly,
	}
	m.RegisterPeripheral(e)

	// enableBit and iscLow are frequently shared registers (e.g. multiple
	// INTn sources packed into one EIMSK/MCUCR byte), so these use
	// AddWriteHook rather than SetWriteHook.
	m.Data.AddWriteHook(enableBit.Addr, func(_ uint16, v uint8) (uint8, bool) {
		wasOn := m.TestRegBit(enableBit)
		m.SetRegBitValue(enableBit, (v>>enableBit.Bit)&enableBit.Mask)
		isOn := m.TestRegBit(enableBit)
		if isOn && !wasOn {
			e.connect()
		} else if !isOn && wasOn {
			e.disconnect()
		}
		return v, true
	})
	m.Data.AddWriteHook(iscLow.Addr, func(_ uint16, v uint8) (uint8, bool) {
		oldSense := e.sense()
		m.SetRegBitValue(iscLow, (v>>iscLow.Bit)&iscLow.Mask)
		newSense := e.sense()
		if oldSense != newSense && m.TestRegBit(enableBit) {
			e.senseChanged(oldSense)
		}
		return v, true
	})
	return e
}

func (e *Entry) sense() Sense {
	v := Sense(e.m.GetRegBit(e.iscLow))
	if e.asyncOnly {
		// Async-only sources collapse 2 encoding bits to falling/rising.
		if v&1 != 0 {
			return SenseRising
		}
		return SenseFalling
	}
	return v
}

func (e *Entry) connect() {
	if e.connected {
		return
	}
	e.connected = true
	e.haveLevel = false
	e.pinSignal.RegisterNotify(e.onPinChange, nil)
	if e.sense() == SenseLowLevel {
		e.evaluateLevel(e.pinSignal.Value())
	}
}

func (e *Entry) disconnect() {
	if !e.connected {
		return
	}
	e.connected = false
	e.pinSignal.UnregisterNotify(nil)
	e.m.Interrupts.Clear(e.vector)
	e.vector.Level = false
	e.haveLevel = false
}

func (e *Entry) onPinChange(_ *core.Signal, value uint32, _ interface{}) {
	old := e.prevLevel
	rising := value != 0 && old == 0
	falling := value == 0 && old != 0
	e.prevLevel = value

	switch e.sense() {
	case SenseAnyEdge:
		if rising || falling {
			e.m.Interrupts.Raise(e.vector)
		}
	case SenseFalling:
		if falling {
			e.m.Interrupts.Raise(e.vector)
		}
	case SenseRising:
		if rising {
			e.m.Interrupts.Raise(e.vector)
		}
	case SenseLowLevel:
		e.evaluateLevel(value)
	}
}

// evaluateLevel implements the re-evaluate-on-write variant: the vector's
// level flag tracks the line continuously rather than latching once per
// ISR return.
func (e *Entry) evaluateLevel(value uint32) {
	e.vector.Level = true
	if value == 0 {
		e.m.Interrupts.Raise(e.vector)
		e.haveLevel = true
	} else if e.haveLevel {
		e.m.Interrupts.Clear(e.vector)
		e.haveLevel = false
	}
}

// senseChanged runs when the ISC bits change while the source is enabled:
// clear level state when leaving level mode, or re-evaluate the pin when
// entering it, per spec.md 4.F.
func (e *Entry) senseChanged(old Sense) {
	if old == SenseLowLevel {
		e.vector.Level = false
		e.m.Interrupts.Clear(e.vector)
		e.haveLevel = false
	}
	if e.sense() == SenseLowLevel {
		e.evaluateLevel(e.pinSignal.Value())
	}
}

// Reset disconnects and clears pending/level state, matching spec.md 3's
// peripheral reset contract. It also clears the enable and sense bits
// directly in the store (bypassing the write hooks), so a later write of
// the enable bit sees an off-to-on change and reconnects.
func (e *Entry) Reset() {
	e.disconnect()
	e.prevLevel = 0
	e.m.Data.Clear(e.enableBit)
	e.m.Data.Clear(e.iscLow)
}
