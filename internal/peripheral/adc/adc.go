// Package adc implements a minimal 10-bit analog-to-digital converter,
// per SPEC_FULL.md 3.1. Grounded on the register-mapped peripheral shape
// of core_engine/devices/serial.go and keyboard.go, and on the timer
// package's scheduler-driven "conversion takes N cycles" idiom.
package adc

import "github.com/gatk555/simavr/internal/core"

// conversionCycles is the fixed cost of one ADC conversion in CPU cycles:
// the 25-clock length of a real part's first conversion, applied to every
// conversion with no ADC prescaler; exact analog timing is explicitly out
// of scope (spec.md 1's non-goals).
const conversionCycles = 25

// Channel supplies the millivolt reading for one MUX selection. Inputs
// are discrete millivolt steps, matching the non-goal that rules out
// continuous-voltage modeling.
type Channel func() int

// ADC models the ADCL/ADCH result registers. Start, free-running and
// channel selection are set through Go methods rather than ADCSRA/ADMUX
// register writes, there is no prescaler, and the reference voltage is
// fixed when the ADC is created.
type ADC struct {
	m *core.Machine

	adclAddr, adchAddr uint16
	channels           []Channel
	arefMilliVolts     int

	mux        int
	freeRun    bool
	running    bool
	result     uint16
	vector     *core.Vector
	resampleAt *int // scheduler param token

	onResample func() // lazy-read hook installed by the chip's firmware bridge
}

// New creates an ADC instance reading the given channels against a fixed
// AREF in millivolts.
func New(m *core.Machine, adclAddr, adchAddr uint16, arefMilliVolts int, channels []Channel) *ADC {
	a := &ADC{m: m, adclAddr: adclAddr, adchAddr: adchAddr, arefMilliVolts: arefMilliVolts, channels: channels, resampleAt: new(int)}
	m.Data.SetReadHook(adchAddr, func(uint16, uint8) uint8 {
		if a.onResample != nil {
			a.onResample()
		}
		return uint8(a.result >> 8)
	})
	m.Data.SetReadHook(adclAddr, func(uint16, uint8) uint8 { return uint8(a.result) })
	m.RegisterPeripheral(a)
	return a
}

// SetVector attaches the conversion-complete interrupt vector.
func (a *ADC) SetVector(v *core.Vector) { a.vector = v }

// SetResampleHook installs the lazy-evaluation callback spec.md 6
// describes: invoked from within the ADCH read hook, it may call
// m.FaultCurrent() to ask the harness to supply a value before the read
// completes.
func (a *ADC) SetResampleHook(hook func()) { a.onResample = hook }

// SelectChannel sets the MUX index, as firmware writing ADMUX would.
func (a *ADC) SelectChannel(mux int) { a.mux = mux }

// SetFreeRunning toggles free-running mode (ADFR/ADATE-style bit).
func (a *ADC) SetFreeRunning(on bool) { a.freeRun = on }

// StartConversion begins a conversion, scheduled to complete
// conversionCycles later, mirroring the timer package's
// schedule-then-fire idiom instead of computing the result synchronously.
func (a *ADC) StartConversion() {
	if a.running {
		return
	}
	a.running = true
	a.m.Scheduler.Register(conversionCycles, a.onComplete, a.resampleAt)
}

func (a *ADC) onComplete(uint64, interface{}) uint64 {
	a.running = false
	if a.mux >= 0 && a.mux < len(a.channels) {
		mv := a.channels[a.mux]()
		a.result = code(mv, a.arefMilliVolts)
	}
	if a.vector != nil {
		a.m.Interrupts.Raise(a.vector)
	}
	if a.freeRun {
		a.StartConversion()
	}
	return 0
}

// code converts a millivolt reading to a 10-bit ADC code against aref.
func code(milliVolts, aref int) uint16 {
	if aref <= 0 {
		return 0
	}
	v := milliVolts * 1023 / aref
	if v < 0 {
		v = 0
	}
	if v > 1023 {
		v = 1023
	}
	return uint16(v)
}

// Reset stops any in-flight conversion and zeroes the result register.
func (a *ADC) Reset() {
	a.running = false
	a.result = 0
	a.mux = 0
	a.freeRun = false
	a.m.Scheduler.CancelParam(a.resampleAt)
}
