package acomp

import (
	"testing"

	"github.com/gatk555/simavr/internal/core"
)

func newTestMachine() *core.Machine {
	m := core.NewMachine(1024, 256, 0x20, 2, 1_000_000, false)
	m.Init()
	return m
}

func newVector(m *core.Machine) *core.Vector {
	v := &core.Vector{Number: 1, Enable: core.RegBit{Addr: 0x50, Bit: 0, Mask: 1}, Raised: core.RegBit{Addr: 0x51, Bit: 0, Mask: 1}}
	m.Interrupts.RegisterVector(v)
	m.SetRegBit(v.Enable)
	return v
}

func TestToggleSenseFiresOnEitherTransition(t *testing.T) {
	m := newTestMachine()
	var ain0 int
	c := New(m, func() int { return ain0 }, func() int { return 1000 })
	c.SetSense(SenseToggle)
	v := newVector(m)
	c.SetVector(v)

	ain0 = 2000 // establish initial baseline (high)
	c.Poll()
	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected no interrupt on the first poll (no prior state to compare)")
	}

	ain0 = 0 // falling
	c.Poll()
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected toggle sense to raise on a falling transition, pending=%d", m.Interrupts.PendingCount())
	}
	m.Interrupts.Clear(v)

	ain0 = 2000 // rising
	c.Poll()
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected toggle sense to raise on a rising transition, pending=%d", m.Interrupts.PendingCount())
	}
}

func TestRisingOnlyIgnoresFallingTransition(t *testing.T) {
	m := newTestMachine()
	var ain0 int
	c := New(m, func() int { return ain0 }, func() int { return 1000 })
	c.SetSense(SenseRising)
	v := newVector(m)
	c.SetVector(v)

	ain0 = 2000
	c.Poll() // baseline high
	ain0 = 0
	c.Poll() // falling: ignored
	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected falling transition ignored in rising-only mode")
	}
	ain0 = 2000
	c.Poll() // rising: raised
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected rising transition to raise")
	}
}

func TestUseMuxSwitchesNegativeInput(t *testing.T) {
	m := newTestMachine()
	c := New(m, func() int { return 1500 }, func() int { return 9999 })
	c.SetUseMux(true, func() int { return 1000 })

	if c.output.Value() != 0 {
		t.Fatalf("sanity: expected initial output 0")
	}
	c.Poll()
	if c.output.Value() != 1 {
		t.Fatalf("expected mux-selected negative input (1000) to make ain0 (1500) the high side")
	}
}

func TestResetClearsPriorStateSoNextPollEstablishesBaseline(t *testing.T) {
	m := newTestMachine()
	var ain0 int
	c := New(m, func() int { return ain0 }, func() int { return 1000 })
	c.SetSense(SenseToggle)
	v := newVector(m)
	c.SetVector(v)

	ain0 = 2000
	c.Poll()
	c.Reset()

	ain0 = 0 // would be a falling edge, but Reset dropped the baseline
	c.Poll()
	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected the post-reset poll to only establish a new baseline, not raise")
	}
}
