package core

import "log"

// MaxVectorCount bounds the interrupt vector table. 0 is reserved for
// reset; real AVR parts top out well under this.
const MaxVectorCount = 128

// RegBit describes a single bit in the data-memory window: an address, a
// bit index, and a mask width. It lets peripheral tables describe
// chip-specific register layouts without per-chip code (spec.md 3).
type RegBit struct {
	Addr uint16
	Bit  uint8
	Mask uint8 // bits in the field; 1 for a plain flag
}

// Vector describes one interrupt source (spec.md 3's "Interrupt vector").
type Vector struct {
	Number      uint8
	Enable      RegBit
	Raised      RegBit
	ClearBoth   bool // also clears Enable on service (watchdog)
	RaiseSticky bool // disables auto-clear of Raised on Clear
	Level       bool // level-triggered: not auto-cleared on service

	pending  bool
	indirect *Vector // non-nil if this registration aliases another
}

// InterruptController is the vector table plus pending/priority
// bookkeeping described in spec.md 4.C.
type InterruptController struct {
	m       *Machine
	vectors [MaxVectorCount]*Vector
	maxVec  uint8
	pending int
	next    uint8
	state   int32 // negative = latency countdown, 0 = idle, positive = pending count
	debug   bool
}

func newInterruptController(m *Machine) *InterruptController {
	return &InterruptController{m: m}
}

func (ic *InterruptController) resolve(v *Vector) *Vector {
	if v.indirect != nil {
		return v.indirect
	}
	return v
}

// RegisterVector adds v to the table. A duplicate registration with
// identical enable/raised descriptors and raise_sticky is allowed and marks
// v indirect so raise/clear route to the first registration (spec.md 4.C);
// any other mismatch is a fatal programming error.
func (ic *InterruptController) RegisterVector(v *Vector) {
	if v.Number == 0 {
		log.Printf("core: vector number 0 is reserved for reset; ignoring registration")
		return
	}
	if int(v.Number) >= MaxVectorCount {
		log.Printf("core: vector %d out of range, aborting", v.Number)
		panic("interrupt vector out of range")
	}
	if old := ic.vectors[v.Number]; old != nil {
		if old.Enable == v.Enable && old.Raised == v.Raised && old.RaiseSticky == v.RaiseSticky {
			v.indirect = old
			return
		}
		log.Printf("core: double registration of vector %d with mismatched descriptors, aborting", v.Number)
		panic("duplicate interrupt vector registration")
	}
	ic.vectors[v.Number] = v
	if v.Number > ic.maxVec {
		ic.maxVec = v.Number
	}
}

// Raise implements spec.md 4.C's raise algorithm.
func (ic *InterruptController) Raise(v *Vector) bool {
	if v == nil || v.Number == 0 {
		return false
	}
	v = ic.resolve(v)

	// Unconditionally mark the raised flag; peripherals implement
	// write-1-to-clear semantics on top of this.
	if v.Raised.Addr != 0 {
		ic.m.SetRegBit(v.Raised)
	}

	if !ic.m.TestRegBit(v.Enable) {
		return false
	}
	if v.pending {
		return false
	}

	v.pending = true
	ic.pending++
	if ic.next == 0 || v.Number < ic.next {
		ic.next = v.Number
	}

	if ic.m.cpuState == StateSleeping {
		ic.m.cpuState = StateRunning
	}
	if ic.m.sregI() && ic.state == 0 {
		ic.state = -1
	}
	return true
}

// Clear implements spec.md 4.C's clear algorithm.
func (ic *InterruptController) Clear(v *Vector) {
	if v == nil || v.Number == 0 {
		return
	}
	v = ic.resolve(v)
	if v.Raised.Addr != 0 && !v.RaiseSticky {
		ic.m.ClearRegBit(v.Raised)
	}
	if !v.pending {
		return
	}
	v.pending = false
	ic.pending--

	if ic.pending > 0 && ic.next == v.Number {
		ic.next = 0
		for i := v.Number + 1; i <= ic.maxVec; i++ {
			if vv := ic.vectors[i]; vv != nil && vv.pending {
				ic.next = i
				break
			}
		}
	} else if ic.pending <= 0 {
		ic.pending = 0
		ic.next = 0
		ic.state = 0
	}
}

// PendingCount reports the number of vectors currently pending.
func (ic *InterruptController) PendingCount() int { return ic.pending }

// NextVector reports the lowest pending vector number, or 0.
func (ic *InterruptController) NextVector() uint8 { return ic.next }

// Reset clears all pending state, per Machine.Reset's peripheral reset
// pass. Registrations and each vector's Level flag survive reset.
func (ic *InterruptController) Reset() {
	ic.state = 0
	ic.pending = 0
	ic.next = 0
	for i := 0; i <= int(ic.maxVec); i++ {
		if v := ic.vectors[i]; v != nil {
			v.pending = false
		}
	}
}

// service runs spec.md 4.C's service_interrupts algorithm, called by the
// core after each instruction.
func (ic *InterruptController) service() {
	if ic.state == 0 {
		return
	}
	if ic.state < 0 {
		ic.state++
		if ic.state == 0 {
			ic.state = int32(ic.pending)
		}
		return
	}
	if !ic.m.sregI() {
		ic.state = 0
		return
	}

	v := ic.vectors[ic.next]
	if v == nil {
		// Internal inconsistency: recover by going idle rather than
		// indexing a nil vector.
		ic.pending = 0
		ic.next = 0
		ic.state = 0
		return
	}

	ic.m.pushReturnPC()
	ic.m.setSregI(false)
	ic.m.pc = uint32(v.Number) * uint32(ic.m.vectorSizeWords)

	if !v.Level {
		ic.Clear(v)
		if v.ClearBoth && v.Enable.Addr != 0 {
			ic.m.ClearRegBit(v.Enable)
		}
	}
}
