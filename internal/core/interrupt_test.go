package core

import "testing"

func newTestMachine() *Machine {
	m := NewMachine(1024, 256, 0x20, 2, 1_000_000, false)
	m.SetStackRegisters(0xfd, 0xfe, 0xff)
	m.Init()
	m.SetSREGBit(SREG_I, true)
	return m
}

func TestRaiseSetsPendingAndNextVector(t *testing.T) {
	m := newTestMachine()
	v := &Vector{Number: 5, Enable: RegBit{Addr: 0x30, Bit: 0, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 0, Mask: 1}}
	m.Interrupts.RegisterVector(v)
	m.SetRegBit(v.Enable)

	if !m.Interrupts.Raise(v) {
		t.Fatalf("expected Raise to succeed when enabled")
	}
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected pending count 1, got %d", m.Interrupts.PendingCount())
	}
	if m.Interrupts.NextVector() != 5 {
		t.Fatalf("expected next vector 5, got %d", m.Interrupts.NextVector())
	}
}

func TestRaiseWithoutEnableStillSetsFlagButNotPending(t *testing.T) {
	m := newTestMachine()
	v := &Vector{Number: 3, Enable: RegBit{Addr: 0x30, Bit: 1, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 1, Mask: 1}}
	m.Interrupts.RegisterVector(v)

	m.Interrupts.Raise(v)
	if !m.TestRegBit(v.Raised) {
		t.Fatalf("expected raised flag set even when disabled")
	}
	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected pending count 0 when disabled, got %d", m.Interrupts.PendingCount())
	}
}

func TestClearWhenNotPendingHasNoEffect(t *testing.T) {
	m := newTestMachine()
	v := &Vector{Number: 4, Enable: RegBit{Addr: 0x30, Bit: 2, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 2, Mask: 1}}
	m.Interrupts.RegisterVector(v)

	before := m.Interrupts.PendingCount()
	m.Interrupts.Clear(v) // never raised
	if m.Interrupts.PendingCount() != before {
		t.Fatalf("clearing a never-pending vector changed pending count")
	}
}

func TestLowestVectorNumberServicedFirst(t *testing.T) {
	m := newTestMachine()
	v1 := &Vector{Number: 1, Enable: RegBit{Addr: 0x30, Bit: 0, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 0, Mask: 1}}
	v2 := &Vector{Number: 2, Enable: RegBit{Addr: 0x30, Bit: 1, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 1, Mask: 1}}
	m.Interrupts.RegisterVector(v1)
	m.Interrupts.RegisterVector(v2)
	m.SetRegBit(v1.Enable)
	m.SetRegBit(v2.Enable)

	m.Interrupts.Raise(v2)
	m.Interrupts.Raise(v1)
	if m.Interrupts.NextVector() != 1 {
		t.Fatalf("expected lowest-numbered vector 1 to be next, got %d", m.Interrupts.NextVector())
	}
}

func TestDuplicateRegistrationGoesIndirect(t *testing.T) {
	m := newTestMachine()
	v1 := &Vector{Number: 7, Enable: RegBit{Addr: 0x30, Bit: 3, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 3, Mask: 1}}
	v2 := &Vector{Number: 7, Enable: RegBit{Addr: 0x30, Bit: 3, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 3, Mask: 1}}
	m.Interrupts.RegisterVector(v1)
	m.Interrupts.RegisterVector(v2)
	m.SetRegBit(v1.Enable)

	m.Interrupts.Raise(v2)
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected raising the duplicate to route to the first registration")
	}
}

func TestServiceClearsPendingForEdgeVector(t *testing.T) {
	m := newTestMachine()
	v := &Vector{Number: 2, Enable: RegBit{Addr: 0x30, Bit: 0, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 0, Mask: 1}}
	m.Interrupts.RegisterVector(v)
	m.SetRegBit(v.Enable)
	m.Interrupts.Raise(v)

	// drive the one-cycle latency countdown to zero, then service.
	m.Interrupts.service()
	m.Interrupts.service()

	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected edge vector cleared after service, pending=%d", m.Interrupts.PendingCount())
	}
	if m.SREGBit(SREG_I) {
		t.Fatalf("expected SREG.I cleared after entering the ISR")
	}
}

func TestLevelVectorNotAutoCleared(t *testing.T) {
	m := newTestMachine()
	v := &Vector{Number: 2, Enable: RegBit{Addr: 0x30, Bit: 0, Mask: 1}, Raised: RegBit{Addr: 0x31, Bit: 0, Mask: 1}, Level: true}
	m.Interrupts.RegisterVector(v)
	m.SetRegBit(v.Enable)
	m.Interrupts.Raise(v)

	m.Interrupts.service()
	m.Interrupts.service()

	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected level-triggered vector to remain pending after service")
	}
}
