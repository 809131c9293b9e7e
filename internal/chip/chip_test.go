package chip

import (
	"testing"

	"github.com/gatk555/simavr/internal/core"
	"github.com/gatk555/simavr/internal/peripheral/ioport"
)

func runCycles(m *Machine, n uint64) {
	for i := uint64(0); i < n; i++ {
		m.Scheduler.Process(^uint64(0))
		m.AddCycles(1)
	}
	m.Scheduler.Process(^uint64(0))
}

// Scenario 1: an I/O port write drives PIN readback, and an edge on the
// watched pin raises the external interrupt.
func TestATmega168PortAndExternalInterrupt(t *testing.T) {
	m := NewATmega168(false)
	l := commonLayoutForTest()
	m.Init()

	m.Data.Write(l.PortDDR, 0x08) // bit3 output
	m.Data.Write(l.PortPORT, 0x08)
	if got := m.Data.Read(l.PortPIN); got&0x08 == 0 {
		t.Fatalf("expected PINB bit3 to read back the driven output")
	}

	m.Data.Write(l.EICRA, uint8(1)) // ISC0=01: any edge
	m.Data.Write(l.EIMSK, 1)

	watched := m.Port.Pool().Signal(ioport.IdxOutput0 + 2)
	watched.Raise(0)
	watched.Raise(1)
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected INT0 to be pending after a rising edge on its watched pin, pending=%d", m.Interrupts.PendingCount())
	}
}

// Scenario 2: with several vectors pending simultaneously, the
// lowest-numbered vector services first, matching the 2560's wide vector
// table.
func TestATmega2560InterruptPriorityOrdering(t *testing.T) {
	m := NewATmega2560(false)
	m.Init()
	m.SetSREGBit(core.SREG_I, true)

	l := commonLayoutForTest()
	m.Data.Set(core.RegBit{Addr: l.WDTCR, Bit: 6, Mask: 1}) // WDIE
	m.Watchdog.SetInterruptMode(true)
	m.Watchdog.Enable(50) // vector number 6

	m.Data.Write(l.EICRA, uint8(1)) // any edge
	m.Data.Write(l.EIMSK, 1)
	watched := m.Port.Pool().Signal(ioport.IdxOutput0 + 2)
	watched.Raise(0)
	watched.Raise(1) // INT0 pending, vector number 1

	runCycles(m, 50) // watchdog also goes pending now
	if m.Interrupts.PendingCount() != 2 {
		t.Fatalf("expected both INT0 and the watchdog pending, got %d", m.Interrupts.PendingCount())
	}
	if m.Interrupts.NextVector() != l.VectorExtInt0 {
		t.Fatalf("expected the lower-numbered INT0 vector (%d) to be serviced first, got vector %d", l.VectorExtInt0, m.Interrupts.NextVector())
	}
}

// Scenario 3: the 16-bit timer's compare unit drives waveform generation
// across WGM modes; Normal mode raises the compare interrupt one tick after
// the count reaches OCR, at cycle OCR+1.
func TestATmega324ATimerWaveformNormalMode(t *testing.T) {
	m := NewATmega324A(false)
	m.Init()

	l := commonLayoutForTest()
	m.Data.Write(l.TCCRB, 0x01) // CS=001 (divisor 1), WGM stays at table index 0 (Normal)
	m.Data.Write(l.OCRAL, 20)
	m.Data.Set(core.RegBit{Addr: l.TIMSK, Bit: 1, Mask: 1}) // compare-A interrupt enable

	runCycles(m, 20)
	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected no compare match before cycle 21")
	}
	runCycles(m, 1)
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected compare match at cycle 21 (OCR+1)")
	}
}

// Scenario 4: reading ADCH triggers the lazy-resample hook, which can stall
// the current instruction via FaultCurrent until the embedder supplies a
// fresh sample.
func TestATmega32LazyADCReadFaultsUntilSampleSupplied(t *testing.T) {
	m := NewATmega32(false)
	m.Init()

	l := commonLayoutForTest()
	supplied := false
	m.ADC.SetResampleHook(func() {
		if !supplied {
			m.FaultCurrent()
		}
	})

	m.Decoder = readADCHDecoder{addr: l.ADCH}
	state := m.RunOne()
	if state != core.StateFault {
		t.Fatalf("expected the first read attempt to fault pending a sample, got %s", state)
	}

	supplied = true
	m.Resume()
	state = m.RunOne()
	if state == core.StateFault {
		t.Fatalf("expected the retried read to succeed once a sample was supplied")
	}
}

type readADCHDecoder struct{ addr uint16 }

func (d readADCHDecoder) Execute(m *core.Machine) (uint8, error) {
	m.Data.Read(d.addr)
	m.SetPC(m.PC() + 1)
	return 1, nil
}

// Scenario 5: the analog comparator raises its interrupt on a qualifying
// transition between two millivolt-valued inputs.
func TestATmega88AnalogComparatorTogglesOnTransition(t *testing.T) {
	m := NewATmega88(false)
	m.Init()

	l := commonLayoutForTest()
	m.Data.Set(core.RegBit{Addr: l.ACSR, Bit: 3, Mask: 1}) // ACIE

	m.ACMP.Poll() // establish baseline (both sources at 0)
	if m.Interrupts.PendingCount() != 0 {
		t.Fatalf("expected no interrupt on the baseline poll")
	}

	// Switching the negative input below AIN0 turns the output high: a
	// rising transition, which the default toggle sense raises.
	m.ACMP.SetUseMux(true, func() int { return -1 })
	m.ACMP.Poll()
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected the comparator interrupt pending after its output rose, pending=%d", m.Interrupts.PendingCount())
	}
}

// Scenario 6: the 16-bit timer's on-demand TCNT read formula wraps
// correctly even on a reduced-data-space part like the tiny84.
func TestATtiny84TimerReadBack(t *testing.T) {
	m := NewATtiny84(false)
	m.Init()

	l := commonLayoutForTest()
	m.Data.Write(l.TCCRB, 0x01) // start the clock at divisor 1

	runCycles(m, 70000) // past one full 16-bit wrap (65536) plus change
	lo := m.Data.Read(l.TCNTL)
	hi := m.Data.Read(l.TCNTH)
	got := uint32(hi)<<8 | uint32(lo)
	want := uint32(70000 % 65536)
	if got != want {
		t.Fatalf("expected wrapped TCNT %d, got %d", want, got)
	}
}

// Firmware-level EEPROM access: writing EEARL/EEARH/EEDR then strobing
// EEWE+EEMWE in EECR schedules a write that completes writeCycleCost
// cycles later and raises the ready interrupt once EERIE is set.
func TestATmega168EEPROMWriteThroughRegisters(t *testing.T) {
	m := NewATmega168(false)
	m.Init()

	l := commonLayoutForTest()
	m.Data.Set(core.RegBit{Addr: l.EECR, Bit: 3, Mask: 1}) // EERIE
	m.Data.Write(l.EEARL, 5)
	m.Data.Write(l.EEARH, 0)
	m.Data.Write(l.EEDR, 0x99)
	m.Data.Write(l.EECR, (1<<1)|(1<<2)|(1<<3)) // EEWE|EEMWE|EERIE

	runCycles(m, 3300)
	if got := m.EEPROM.ReadByte(5); got != 0x99 {
		t.Fatalf("expected EEPROM byte 5 to hold 0x99, got %#x", got)
	}
	if m.Interrupts.PendingCount() != 1 {
		t.Fatalf("expected the EEPROM-ready interrupt pending after the write completed")
	}
}

func commonLayoutForTest() Layout { return common() }
