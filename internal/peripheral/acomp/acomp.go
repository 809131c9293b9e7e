// Package acomp implements the analog comparator, per SPEC_FULL.md 3.1.
// Grounded on the extint package's sense-mode dispatch, adapted from a
// port-pin source to a comparison between two millivolt-valued channels.
package acomp

import "github.com/gatk555/simavr/internal/core"

// Sense is the decoded ACIS meaning: toggle (0), falling (1), rising (2).
type Sense uint8

const (
	SenseToggle Sense = iota
	SenseFalling
	SenseRising
)

// Source supplies a channel's current millivolt reading.
type Source func() int

// ACMP models AIN0/AIN1 (or an ADC-mux-selected negative input when ACME
// is set) comparison and its interrupt.
type ACMP struct {
	m *core.Machine

	ain0, ain1 Source
	useMux     bool
	muxSource  Source

	sense  Sense
	vector *core.Vector

	output    *core.Signal // observable comparator output
	prevHigh  bool
	havePrev  bool
}

// New creates a comparator comparing ain0 against ain1 (or muxSource when
// SetUseMux(true) is later called, matching ACME-selected ADC channels).
func New(m *core.Machine, ain0, ain1 Source) *ACMP {
	c := &ACMP{m: m, ain0: ain0, ain1: ain1}
	c.output = m.Graph.AllocPool(core.ControlKey("acmp"), 1, nil).Signal(0)
	m.RegisterPeripheral(c)
	return c
}

// SetVector attaches the comparator interrupt vector.
func (c *ACMP) SetVector(v *core.Vector) { c.vector = v }

// SetSense sets the ACIS bits' decoded meaning.
func (c *ACMP) SetSense(s Sense) { c.sense = s }

// SetUseMux switches the negative input to the ADC mux channel (ACME),
// matching real hardware's AIN1-or-ADC-channel negative input mux.
func (c *ACMP) SetUseMux(on bool, muxSource Source) {
	c.useMux = on
	c.muxSource = muxSource
}

// Poll re-evaluates the comparator, firing the interrupt and updating the
// output signal if the qualifying transition occurred. Nothing in this
// module calls it on its own (no ADC completion or scheduled tick does):
// the comparator is evaluated only when Poll is called.
func (c *ACMP) Poll() {
	neg := c.ain1
	if c.useMux && c.muxSource != nil {
		neg = c.muxSource
	}
	high := c.ain0() > neg()
	c.output.Raise(boolToUint32(high))

	if !c.havePrev {
		c.prevHigh, c.havePrev = high, true
		return
	}
	rising := high && !c.prevHigh
	falling := !high && c.prevHigh
	c.prevHigh = high

	switch c.sense {
	case SenseToggle:
		if rising || falling {
			c.raise()
		}
	case SenseRising:
		if rising {
			c.raise()
		}
	case SenseFalling:
		if falling {
			c.raise()
		}
	}
}

func (c *ACMP) raise() {
	if c.vector != nil {
		c.m.Interrupts.Raise(c.vector)
	}
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Output exposes the comparator's observable output signal, for a timer's
// input-capture source to connect to.
func (c *ACMP) Output() *core.Signal { return c.output }

// Reset clears cached comparator state.
func (c *ACMP) Reset() {
	c.havePrev = false
	c.prevHigh = false
}
