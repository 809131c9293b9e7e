package ioport

import (
	"testing"

	"github.com/gatk555/simavr/internal/core"
)

func newTestPort() (*core.Machine, *Port) {
	m := core.NewMachine(1024, 256, 0x20, 2, 1_000_000, false)
	m.Init()
	p := New(m, 'B', 0x24, 0x25, 0x26)
	return m, p
}

func TestWritingDDRThenPORTDrivesOutputPins(t *testing.T) {
	m, _ := newTestPort()
	m.Data.Write(0x24, 0x01) // DDRB bit0 = output
	m.Data.Write(0x25, 0x01) // PORTB bit0 = high

	if got := m.Data.Read(0x26); got != 0x01 {
		t.Fatalf("expected PINB to read back the driven output 0x01, got %#x", got)
	}
}

func TestTogglingPINBitXorsPort(t *testing.T) {
	m, _ := newTestPort()
	m.Data.Write(0x24, 0x03) // bits 0,1 output
	m.Data.Write(0x25, 0x01) // bit0 high, bit1 low

	m.Data.Write(0x26, 0x03) // write-to-PIN toggles bits 0 and 1

	if got := m.Data.Read(0x26); got != 0x02 {
		t.Fatalf("expected toggled output 0x02, got %#x", got)
	}
}

func TestPullupAppliesOnlyWhenRequestedAndEnabled(t *testing.T) {
	m, p := newTestPort()
	p.SetPullupsEnabled(true)
	m.Data.Write(0x24, 0x00) // all input
	m.Data.Write(0x25, 0x01) // bit0 requests pullup

	if got := m.Data.Read(0x26); got&0x01 == 0 {
		t.Fatalf("expected pulled-up bit0 to read high")
	}

	p.SetPullupsEnabled(false)
	if got := m.Data.Read(0x26); got&0x01 != 0 {
		t.Fatalf("expected bit0 low once pullups are globally disabled")
	}
}

func TestExternalLevelDrivesInputBits(t *testing.T) {
	m, p := newTestPort()
	m.Data.Write(0x24, 0x00) // all input

	p.Pool().Signal(IdxInput0 + 2).Raise(1)
	if got := m.Data.Read(0x26); got&0x04 == 0 {
		t.Fatalf("expected external high level on bit2 to read back")
	}

	p.Pool().Signal(IdxInput0 + 2).Raise(0)
	if got := m.Data.Read(0x26); got&0x04 != 0 {
		t.Fatalf("expected external level to drop back to low")
	}
}

func TestOverrideTakesPrecedenceOverDDRAndPort(t *testing.T) {
	m, p := newTestPort()
	m.Data.Write(0x24, 0x01) // bit0 output
	m.Data.Write(0x25, 0x00) // bit0 driven low by firmware

	p.Pool().Signal(IdxOverride0 + 0).Raise(OverrideValue(true, true))
	if got := m.Data.Read(0x26); got&0x01 == 0 {
		t.Fatalf("expected override to force bit0 high despite PORT=0")
	}

	p.Pool().Signal(IdxOverride0 + 0).Raise(OverrideValue(false, false))
	if got := m.Data.Read(0x26); got&0x01 != 0 {
		t.Fatalf("expected releasing the override to fall back to PORT-driven low")
	}
}

func TestPerBitOutputSignalFiresOnRecompute(t *testing.T) {
	m, p := newTestPort()
	var lastHigh uint32 = 99
	p.Pool().Signal(IdxOutput0 + 3).RegisterNotify(func(_ *core.Signal, v uint32, _ interface{}) {
		lastHigh = v
	}, nil)

	m.Data.Write(0x24, 0x08) // bit3 output
	m.Data.Write(0x25, 0x08) // bit3 high
	if lastHigh != 1 {
		t.Fatalf("expected per-bit output signal to report 1, got %d", lastHigh)
	}
}

func TestResetClearsDDRAndPortButNotExternalLevel(t *testing.T) {
	m, p := newTestPort()
	m.Data.Write(0x24, 0x00) // all input
	p.Pool().Signal(IdxInput0 + 5).Raise(1)

	m.Data.Write(0x24, 0xff)
	m.Data.Write(0x25, 0xff)
	m.Reset()

	if got := m.Data.Read(0x24); got != 0 {
		t.Fatalf("expected DDR cleared on reset, got %#x", got)
	}
	if got := m.Data.Read(0x26)&0x20 == 0; got {
		t.Fatalf("expected external level on bit5 to survive reset")
	}
}
