// Package timer implements the AVR 8/16-bit Timer/Counter unit, per
// spec.md 4.G. Grounded on original_source/simavr/sim/avr_timer.c's WGM
// table/compare-unit/fractional-clock design, adapted to
// internal/core's scheduler and signal APIs instead of raw IRQ structs
// and a linked list of avr_t pointers.
package timer

import (
	"log"

	"github.com/gatk555/simavr/internal/core"
)

// Kind is the waveform-generation mode family.
type Kind uint8

const (
	Normal Kind = iota
	CTC
	FastPWM
	PhaseCorrectPWM
)

// TopSource says where a WGM entry's TOP value comes from.
type TopSource uint8

const (
	TopFixed TopSource = iota
	TopOCRA
	TopICR
)

// WGMEntry is one row of the chip-specific WGM table mapping the WGM
// configuration bits to a (kind, TOP source) pair.
type WGMEntry struct {
	Kind Kind
	Top  TopSource
}

// ClockSource is one row of the chip-specific CS table mapping the
// clock-select bits to a prescaler divisor, or to an external/async
// clock.
type ClockSource struct {
	Divisor  uint32 // 0 = stopped
	External bool   // counts on Tn pin edges instead of cycles
	Async    bool   // async (crystal-driven) clock
}

// CompareUnit is one OCRx compare channel: buffered/shadow OCR values,
// compare-output-mode bits, an optional pin-output signal, and its
// interrupt vector.
type CompareUnit struct {
	t    *Timer
	Name byte // 'A', 'B', 'C'

	ocrAddrL, ocrAddrH uint16 // ocrAddrH==0 for 8-bit timers

	ocr      uint32 // the value currently driving compares this period
	buffered uint32 // shadow written by firmware, copied in at TOP/BOTTOM
	com      uint8  // compare-output-mode bits (0=disconnected,1=toggle,2=clear,3=set — chip tables vary)

	Vector *Vector
	pinSig *core.Signal // raised with ioport.OverrideValue-style packed level

	upTok, downTok *int // distinct scheduler-param identities for the two match directions
}

// Vector is the (RegBit-backed) interrupt descriptor plumbing shared by
// every timer interrupt source; kept distinct from core.Vector only in
// name for readability at call sites.
type Vector = core.Vector

// Timer is one Timer/Counter instance.
type Timer struct {
	m    *core.Machine
	name string
	pool *core.Pool

	width    uint8 // 8 or 16
	maxCount uint32

	wgmTable []WGMEntry
	csTable  []ClockSource
	wgmBits  []core.RegBit // bits assembled MSB..LSB into the WGM index
	csBits   []core.RegBit // bits assembled MSB..LSB into the CS index

	tcntAddrL, tcntAddrH uint16
	icrAddrL, icrAddrH   uint16

	compares []*CompareUnit

	icr       uint32
	icrVector *Vector
	ovfVector *Vector

	currentWGM int
	currentCS  int

	tovBase uint64 // cycle at which the current period began (counter==0 or ==BOTTOM)
	running bool

	ovfTok    *int
	bottomTok *int
}

// New creates a timer instance. tcntAddrH is 0 for an 8-bit timer.
// wgmBits/csBits are listed most-significant first; their combined value
// indexes wgmTable/csTable.
func New(m *core.Machine, name string, width uint8, tcntAddrL, tcntAddrH uint16,
	wgmTable []WGMEntry, wgmBits []core.RegBit, csTable []ClockSource, csBits []core.RegBit) *Timer {

	t := &Timer{
		m: m, name: name, width: width,
		maxCount:  (uint32(1) << width) - 1,
		tcntAddrL: tcntAddrL, tcntAddrH: tcntAddrH,
		wgmTable: wgmTable, wgmBits: wgmBits,
		csTable: csTable, csBits: csBits,
		ovfTok:    new(int),
		bottomTok: new(int),
	}
	key := core.ControlKey("tim" + name)
	t.pool = m.Graph.AllocPool(key, 4, nil) // 0:OVF, 1:compareA, 2:compareB, 3:compareC pin signals

	for _, rb := range wgmBits {
		m.Data.AddWriteHook(rb.Addr, t.onConfigWrite)
	}
	for _, rb := range csBits {
		m.Data.AddWriteHook(rb.Addr, t.onConfigWrite)
	}
	m.Data.SetReadHook(tcntAddrL, func(uint16, uint8) uint8 { return uint8(t.readCount()) })
	if tcntAddrH != 0 {
		m.Data.SetReadHook(tcntAddrH, func(uint16, uint8) uint8 { return uint8(t.readCount() >> 8) })
	}

	m.RegisterPeripheral(t)
	return t
}

// SetOverflowVector attaches the overflow (TOV) interrupt vector.
func (t *Timer) SetOverflowVector(v *Vector) { t.ovfVector = v }

// SetICR wires the input-capture register's addresses and vector. Call
// only on 16-bit timers that have an ICP pin.
func (t *Timer) SetICR(addrL, addrH uint16, v *Vector) {
	t.icrAddrL, t.icrAddrH = addrL, addrH
	t.icrVector = v
	t.m.Data.SetReadHook(addrL, func(uint16, uint8) uint8 { return uint8(t.icr) })
	if addrH != 0 {
		t.m.Data.SetReadHook(addrH, func(uint16, uint8) uint8 { return uint8(t.icr >> 8) })
	}
}

// AddCompareUnit registers a compare channel. pinSig, if non-nil, is the
// signal this unit raises to drive a port bit via ioport's override
// mechanism (the chip maker passes that port's override signal here).
func (t *Timer) AddCompareUnit(name byte, ocrAddrL, ocrAddrH uint16, comBits core.RegBit, vector *Vector, pinSig *core.Signal) *CompareUnit {
	cu := &CompareUnit{
		t: t, Name: name, ocrAddrL: ocrAddrL, ocrAddrH: ocrAddrH, Vector: vector, pinSig: pinSig,
		upTok: new(int), downTok: new(int),
	}
	t.compares = append(t.compares, cu)

	t.m.Data.AddWriteHook(comBits.Addr, func(_ uint16, v uint8) (uint8, bool) {
		cu.com = core.ExtractFrom(comBits, v)
		return v, true
	})
	writeOCR := func(_ uint16, v uint8, high bool) (uint8, bool) {
		if high {
			cu.buffered = (cu.buffered & 0x00ff) | uint32(v)<<8
		} else {
			cu.buffered = (cu.buffered & 0xff00) | uint32(v)
		}
		if !t.bufferedMode() {
			cu.ocr = cu.buffered
			t.rearm()
		}
		return v, true
	}
	t.m.Data.AddWriteHook(ocrAddrL, func(addr uint16, v uint8) (uint8, bool) { return writeOCR(addr, v, false) })
	if ocrAddrH != 0 {
		t.m.Data.AddWriteHook(ocrAddrH, func(addr uint16, v uint8) (uint8, bool) { return writeOCR(addr, v, true) })
	}
	return cu
}

func (t *Timer) wgm() WGMEntry {
	if t.currentWGM < 0 || t.currentWGM >= len(t.wgmTable) {
		return WGMEntry{Kind: Normal, Top: TopFixed}
	}
	return t.wgmTable[t.currentWGM]
}

func (t *Timer) cs() ClockSource {
	if t.currentCS < 0 || t.currentCS >= len(t.csTable) {
		return ClockSource{}
	}
	return t.csTable[t.currentCS]
}

// bufferedMode reports whether OCR writes land in the shadow register
// (fast/phase-correct PWM) rather than taking effect immediately.
func (t *Timer) bufferedMode() bool {
	switch t.wgm().Kind {
	case FastPWM, PhaseCorrectPWM:
		return true
	default:
		return false
	}
}

func (t *Timer) top() uint32 {
	switch t.wgm().Top {
	case TopOCRA:
		if len(t.compares) > 0 {
			return t.compares[0].ocr
		}
		return t.maxCount
	case TopICR:
		return t.icr
	default:
		return t.maxCount
	}
}

func (t *Timer) onConfigWrite(addr uint16, v uint8) (uint8, bool) {
	t.m.Data.RawWrite(addr, v) // let decodeWGM/decodeCS see the bit in place
	t.currentWGM = t.decodeIndex(t.wgmBits)
	t.currentCS = t.decodeIndex(t.csBits)
	t.reconfigure()
	return v, true
}

func (t *Timer) decodeIndex(bits []core.RegBit) int {
	idx := 0
	for _, rb := range bits {
		idx = (idx << bitWidth(rb)) | int(t.m.GetRegBit(rb))
	}
	return idx
}

func bitWidth(rb core.RegBit) int {
	n := 0
	for m := rb.Mask; m != 0; m >>= 1 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// reconfigure cancels all of this timer's scheduled callbacks and re-arms
// them from the current cycle: tovBase is reset to now, so the count
// restarts at 0 rather than continuing from the value TCNT held before
// the configuration write.
func (t *Timer) reconfigure() {
	t.m.Scheduler.CancelParam(t.ovfTok)
	t.m.Scheduler.CancelParam(t.bottomTok)
	for _, cu := range t.compares {
		t.m.Scheduler.CancelParam(cu.upTok)
		t.m.Scheduler.CancelParam(cu.downTok)
	}
	cs := t.cs()
	if cs.Divisor == 0 || (cs.External && !t.haveExternalClock()) {
		t.running = false
		return
	}
	t.running = true
	t.tovBase = t.m.Cycle()
	if !t.bufferedMode() {
		for _, cu := range t.compares {
			cu.ocr = cu.buffered
		}
	}
	t.rearm()
}

// haveExternalClock reports whether a Tn-pin source is configured; this
// module does not model external clock pins directly (no chip in scope
// drives one), so external clock selection always falls back to stopped,
// matching spec.md 4.G's documented failure semantics.
func (t *Timer) haveExternalClock() bool { return false }

func (t *Timer) divisor() uint64 {
	cs := t.cs()
	if cs.Divisor == 0 {
		return 0
	}
	return uint64(cs.Divisor)
}

// readCount implements spec.md 4.G's on-demand TCNT formula: single-slope
// modes wrap modulo TOP+1; phase-correct is the symmetric triangle-wave
// value.
func (t *Timer) readCount() uint32 {
	div := t.divisor()
	if !t.running || div == 0 {
		return 0
	}
	elapsed := t.m.Cycle() - t.tovBase
	ticks := elapsed / div
	top := uint64(t.top())

	if t.wgm().Kind == PhaseCorrectPWM {
		if top == 0 {
			return 0
		}
		period := 2 * top
		phase := ticks % period
		if phase <= top {
			return uint32(phase)
		}
		return uint32(period - phase)
	}
	return uint32(ticks % (top + 1))
}

// rearm schedules the overflow/period-boundary callback and every active
// compare unit's match callback for the remainder of the current period.
func (t *Timer) rearm() {
	if !t.running {
		return
	}
	div := t.divisor()
	top := uint64(t.top())
	kind := t.wgm().Kind

	switch kind {
	case PhaseCorrectPWM:
		t.m.Scheduler.RegisterAbs(t.tovBase+top*div, t.onTopPhaseCorrect, t.ovfTok)
	default:
		t.m.Scheduler.RegisterAbs(t.tovBase+(top+1)*div, t.onPeriodEnd, t.ovfTok)
	}

	for _, cu := range t.compares {
		if uint64(cu.ocr) > top {
			continue // never matches this period
		}
		// Compare matches fire one prescaler tick after the count reaches
		// OCR, not at the tick the count reaches OCR itself.
		target := t.tovBase + (uint64(cu.ocr)+1)*div
		if kind == PhaseCorrectPWM && uint64(cu.ocr) > 0 {
			// second match on the way back down
			downTarget := t.tovBase + (2*top-(uint64(cu.ocr)+1))*div
			t.m.Scheduler.RegisterAbs(downTarget, t.makeCompareCB(cu, false), cu.downTok)
		}
		t.m.Scheduler.RegisterAbs(target, t.makeCompareCB(cu, true), cu.upTok)
	}
}

func (t *Timer) makeCompareCB(cu *CompareUnit, counting bool) core.CycleCallback {
	return func(now uint64, _ interface{}) uint64 {
		t.onCompareMatch(cu, counting)
		return 0
	}
}

func (t *Timer) onCompareMatch(cu *CompareUnit, countingUp bool) {
	kind := t.wgm().Kind
	if kind == CTC && t.wgm().Top == TopOCRA && cu.Name == 'A' {
		// handled centrally by onPeriodEnd to avoid double-raising
		return
	}
	t.m.Interrupts.Raise(cu.Vector)
	t.drivePin(cu, countingUp)
}

// drivePin applies COM-bit pin action for a match, per spec.md 4.G.
// com encoding: 0=disconnected, 1=toggle, 2=clear-on-match, 3=set-on-match
// (the common AVR non-inverting PWM encoding; chips with other encodings
// supply their own comBits/OCR wiring but share this action table).
func (t *Timer) drivePin(cu *CompareUnit, countingUp bool) {
	if cu.pinSig == nil || cu.com == 0 {
		return
	}
	kind := t.wgm().Kind
	var level bool
	switch cu.com {
	case 1: // toggle
		level = cu.pinSig.Value() == 0
	case 2: // clear-on-match (set at BOTTOM/period start)
		level = false
		if kind == PhaseCorrectPWM && !countingUp {
			level = true
		}
	case 3: // set-on-match (clear at BOTTOM/period start)
		level = true
		if kind == PhaseCorrectPWM && !countingUp {
			level = false
		}
	}
	var packed uint32
	if level {
		packed |= 1
	}
	packed |= 2 // override active
	cu.pinSig.Raise(packed)
}

// onPeriodEnd runs at TOP+1 (Normal/CTC/FastPWM): resets the period base,
// raises overflow per-kind, and copies buffered OCR for FastPWM.
func (t *Timer) onPeriodEnd(now uint64, _ interface{}) uint64 {
	top := t.top()
	kind := t.wgm().Kind
	t.tovBase = now

	switch kind {
	case Normal:
		t.m.Interrupts.Raise(t.ovfVector)
	case CTC:
		if t.wgm().Top == TopOCRA && len(t.compares) > 0 {
			t.m.Interrupts.Raise(t.compares[0].Vector)
			t.drivePin(t.compares[0], true)
		}
		if top == t.maxCount {
			t.m.Interrupts.Raise(t.ovfVector)
		}
	case FastPWM:
		t.m.Interrupts.Raise(t.ovfVector)
		for _, cu := range t.compares {
			cu.ocr = cu.buffered
			t.setPinAtBottom(cu)
		}
	}
	if t.running {
		t.rearm()
	}
	return 0
}

// onTopPhaseCorrect runs when the counter reaches TOP in phase-correct
// mode; it schedules the BOTTOM callback (TOP-1)*divisor later, per
// spec.md 4.G's exact wording grounded on avr_timer.c's quirk.
func (t *Timer) onTopPhaseCorrect(now uint64, _ interface{}) uint64 {
	div := t.divisor()
	top := uint64(t.top())
	var delay uint64
	if top > 0 {
		delay = (top - 1) * div
	}
	t.m.Scheduler.RegisterAbs(now+delay, t.onBottomPhaseCorrect, t.bottomTok)
	return 0
}

func (t *Timer) onBottomPhaseCorrect(now uint64, _ interface{}) uint64 {
	t.tovBase = now
	t.m.Interrupts.Raise(t.ovfVector)
	for _, cu := range t.compares {
		cu.ocr = cu.buffered
		t.setPinAtBottom(cu)
	}
	if t.running {
		t.rearm()
	}
	return 0
}

func (t *Timer) setPinAtBottom(cu *CompareUnit) {
	if cu.pinSig == nil || cu.com == 0 {
		return
	}
	level := cu.com == 2 // clear-on-match sets at BOTTOM; set-on-match clears
	var packed uint32 = 2
	if level {
		packed |= 1
	}
	cu.pinSig.Raise(packed)
}

// OnICPEdge is called by the chip maker's wiring when the input-capture
// pin changes, implementing spec.md 4.G's capture semantics.
func (t *Timer) OnICPEdge(risingEdge bool, capturesOnRising bool) {
	if t.wgm().Top == TopICR {
		return // ICR is in use as TOP, not available for capture
	}
	if risingEdge != capturesOnRising {
		return
	}
	t.icr = t.readCount()
	if t.icrVector != nil {
		t.m.Interrupts.Raise(t.icrVector)
	}
}

// Reset stops the timer and clears its scheduled work, per spec.md 3.
func (t *Timer) Reset() {
	t.running = false
	t.currentWGM = 0
	t.currentCS = 0
	t.icr = 0
	for _, cu := range t.compares {
		cu.ocr = 0
		cu.buffered = 0
		cu.com = 0
	}
	t.m.Scheduler.CancelParam(t.ovfTok)
	t.m.Scheduler.CancelParam(t.bottomTok)
	for _, cu := range t.compares {
		t.m.Scheduler.CancelParam(cu.upTok)
		t.m.Scheduler.CancelParam(cu.downTok)
	}
	if t.m.Debug {
		log.Printf("timer %s: reset", t.name)
	}
}
