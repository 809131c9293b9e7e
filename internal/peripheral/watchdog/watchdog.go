// Package watchdog implements the prescaled watchdog timer, per
// SPEC_FULL.md 3.1. Grounded on the cycle scheduler's re-arm idiom
// (internal/core/scheduler.go) and the interrupt controller's clear_both
// bit (internal/core/interrupt.go), which this peripheral is the spec's
// named user of.
package watchdog

import "github.com/gatk555/simavr/internal/core"

// Watchdog models WDTCR-style prescaler bits producing a timeout in
// cycles, with the interrupt/reset behavior split spec.md 3 describes via
// a vector's clear_both bit.
type Watchdog struct {
	m *core.Machine

	freqHz   uint32
	prescale uint32 // timeout in CPU cycles, as last passed to Enable
	enabled  bool
	interruptMode bool // WDIE: raise vector instead of resetting the core

	vector *core.Vector
	tok    *int
}

// New creates a watchdog driven by the machine's CPU frequency.
func New(m *core.Machine, freqHz uint32) *Watchdog {
	w := &Watchdog{m: m, freqHz: freqHz, tok: new(int)}
	m.RegisterPeripheral(w)
	return w
}

// SetVector attaches the watchdog interrupt vector. clear_both is set on
// the vector itself by the chip maker (core.Vector{ClearBoth: true}),
// matching spec.md 4.C's "watchdog uses this" note.
func (w *Watchdog) SetVector(v *core.Vector) { w.vector = v }

// SetInterruptMode toggles WDIE: true raises the vector (one-shot, since
// clear_both then disables WDIE), false lets the timeout reset the core.
func (w *Watchdog) SetInterruptMode(on bool) { w.interruptMode = on }

// Enable arms the watchdog (Disable disarms it) with a timeout given in
// prescaled watchdog oscillator ticks converted to CPU cycles by the chip
// maker, since the watchdog runs off a separate ~128kHz oscillator on
// real silicon rather than the CPU clock.
func (w *Watchdog) Enable(timeoutCycles uint32) {
	w.enabled = true
	w.prescale = timeoutCycles
	w.m.Scheduler.Register(uint64(timeoutCycles), w.onTimeout, w.tok)
}

// Disable cancels any pending timeout.
func (w *Watchdog) Disable() {
	w.enabled = false
	w.m.Scheduler.CancelParam(w.tok)
}

// Kick restarts the countdown, as a firmware WDR instruction does.
func (w *Watchdog) Kick() {
	if w.enabled {
		w.Enable(w.prescale)
	}
}

func (w *Watchdog) onTimeout(uint64, interface{}) uint64 {
	if w.interruptMode && w.vector != nil {
		w.m.Interrupts.Raise(w.vector)
		return 0
	}
	w.m.Reset()
	return 0
}

// Reset disarms the watchdog, matching spec.md 3's peripheral reset
// contract (the watchdog does not survive its own reset as armed).
func (w *Watchdog) Reset() {
	w.enabled = false
	w.m.Scheduler.CancelParam(w.tok)
}
