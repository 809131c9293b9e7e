// Package chip builds concrete *core.Machine instances for specific AVR
// parts. Per-MCU register/bit-position tables are explicitly out of
// scope (spec.md 1): this package wires a small, representative set of
// peripherals using the generic packages in internal/peripheral, the way
// core_engine/virtual_machine.go's NewVirtualMachine wires its fixed
// device set, rather than reproducing each chip's full datasheet.
package chip

import (
	"github.com/gatk555/simavr/internal/core"
	"github.com/gatk555/simavr/internal/peripheral/acomp"
	"github.com/gatk555/simavr/internal/peripheral/adc"
	"github.com/gatk555/simavr/internal/peripheral/eeprom"
	"github.com/gatk555/simavr/internal/peripheral/extint"
	"github.com/gatk555/simavr/internal/peripheral/ioport"
	"github.com/gatk555/simavr/internal/peripheral/timer"
	"github.com/gatk555/simavr/internal/peripheral/usi"
	"github.com/gatk555/simavr/internal/peripheral/watchdog"
)

// Layout is the subset of a real AVR's memory map and vector geometry
// this package needs to build a Machine; chip makers below are just
// Layout literals plus a peripheral-wiring pass.
type Layout struct {
	Name            string
	FlashBytes      int
	DataBytes       int
	IOBase          uint16
	VectorSizeWords uint8
	FreqHz          uint32

	SPLAddr, SPHAddr, SREGAddr uint16

	// Register addresses, generic across the six parts this package
	// builds: a single GPIO port, one 16-bit timer with two compare
	// units, one external-interrupt source, a two-channel ADC, one analog
	// comparator, a watchdog, and a USI — enough to exercise every
	// component spec.md 4 specifies, without per-chip exhaustive tables.
	PortDDR, PortPORT, PortPIN uint16

	TCNTL, TCNTH         uint16
	TCCRA, TCCRB         uint16
	OCRAL, OCRAH         uint16
	OCRBL, OCRBH         uint16
	ICRL, ICRH           uint16
	TIMSK, TIFR          uint16

	EIMSK, EIFR, EICRA uint16

	ADMUX, ADCSRA, ADCL, ADCH uint16

	ACSR uint16

	WDTCR uint16

	USIDR, USISR, USICR uint16

	EEARL, EEARH, EEDR, EECR uint16
	EEPROMBytes              int

	VectorOverflow  uint8
	VectorCompareA  uint8
	VectorCompareB  uint8
	VectorCapture   uint8
	VectorExtInt0   uint8
	VectorADC       uint8
	VectorACMP      uint8
	VectorWatchdog  uint8
	VectorUSIOvf    uint8
	VectorEEReady   uint8
}

// Machine bundles the constructed core.Machine with the peripherals a
// scenario test needs direct handles to (input injection, polling the
// comparator, etc).
type Machine struct {
	*core.Machine
	Port     *ioport.Port
	Timer    *timer.Timer
	ExtInt0  *extint.Entry
	ADC      *adc.ADC
	ACMP     *acomp.ACMP
	Watchdog *watchdog.Watchdog
	USI      *usi.USI
	EEPROM   *eeprom.Controller
	EERegs   *eeprom.Registers
}

// Build constructs a Machine from a Layout, wiring the generic peripheral
// set every chip in this package shares.
func Build(l Layout, debug bool) *Machine {
	m := core.NewMachine(l.FlashBytes, l.DataBytes, l.IOBase, l.VectorSizeWords, l.FreqHz, debug)
	m.SetStackRegisters(l.SPLAddr, l.SPHAddr, l.SREGAddr)

	port := ioport.New(m, 'B', l.PortDDR, l.PortPORT, l.PortPIN)

	ovfVector := &core.Vector{Number: l.VectorOverflow, Enable: bit(l.TIMSK, 0), Raised: bit(l.TIFR, 0)}
	cmpAVector := &core.Vector{Number: l.VectorCompareA, Enable: bit(l.TIMSK, 1), Raised: bit(l.TIFR, 1)}
	cmpBVector := &core.Vector{Number: l.VectorCompareB, Enable: bit(l.TIMSK, 2), Raised: bit(l.TIFR, 2)}
	capVector := &core.Vector{Number: l.VectorCapture, Enable: bit(l.TIMSK, 5), Raised: bit(l.TIFR, 5)}
	m.Interrupts.RegisterVector(ovfVector)
	m.Interrupts.RegisterVector(cmpAVector)
	m.Interrupts.RegisterVector(cmpBVector)
	m.Interrupts.RegisterVector(capVector)

	wgmTable := []timer.WGMEntry{
		{Kind: timer.Normal, Top: timer.TopFixed},
		{Kind: timer.PhaseCorrectPWM, Top: timer.TopFixed},
		{Kind: timer.CTC, Top: timer.TopOCRA},
		{Kind: timer.FastPWM, Top: timer.TopFixed},
		{Kind: timer.PhaseCorrectPWM, Top: timer.TopICR},
		{Kind: timer.FastPWM, Top: timer.TopICR},
	}
	csTable := []timer.ClockSource{
		{Divisor: 0},
		{Divisor: 1},
		{Divisor: 8},
		{Divisor: 64},
		{Divisor: 256},
		{Divisor: 1024},
	}
	wgmBits := []core.RegBit{bit(l.TCCRB, 3), bit(l.TCCRA, 1), bit(l.TCCRA, 0)}
	csBits := []core.RegBit{bit(l.TCCRB, 2), bit(l.TCCRB, 1), bit(l.TCCRB, 0)}

	tm := timer.New(m, "1", 16, l.TCNTL, l.TCNTH, wgmTable, wgmBits, csTable, csBits)
	tm.SetOverflowVector(ovfVector)
	tm.SetICR(l.ICRL, l.ICRH, capVector)

	pinB4 := port.Pool().Signal(ioport.IdxOverride0 + 4)
	tm.AddCompareUnit('A', l.OCRAL, l.OCRAH, bit(l.TCCRA, 7), cmpAVector, nil)
	tm.AddCompareUnit('B', l.OCRBL, l.OCRBH, bit(l.TCCRA, 5), cmpBVector, pinB4)

	extVector := &core.Vector{Number: l.VectorExtInt0, Enable: bit(l.EIMSK, 0), Raised: bit(l.EIFR, 0)}
	m.Interrupts.RegisterVector(extVector)
	ext0 := extint.New(m, "INT0", extVector, port.Pool().Signal(ioport.IdxOutput0+2), bit(l.EIMSK, 0), core.RegBit{Addr: l.EICRA, Bit: 0, Mask: 3}, false)

	adcVector := &core.Vector{Number: l.VectorADC, Enable: bit(l.ADCSRA, 3), Raised: bit(l.ADCSRA, 4)}
	m.Interrupts.RegisterVector(adcVector)
	adcUnit := adc.New(m, l.ADCL, l.ADCH, 5000, []adc.Channel{
		func() int { return 0 },
		func() int { return 0 },
	})
	adcUnit.SetVector(adcVector)

	acmpVector := &core.Vector{Number: l.VectorACMP, Enable: bit(l.ACSR, 3), Raised: bit(l.ACSR, 4)}
	m.Interrupts.RegisterVector(acmpVector)
	acmpUnit := acomp.New(m, func() int { return 0 }, func() int { return 0 })
	acmpUnit.SetVector(acmpVector)

	wdVector := &core.Vector{Number: l.VectorWatchdog, Enable: bit(l.WDTCR, 6), Raised: bit(l.WDTCR, 3), ClearBoth: true}
	m.Interrupts.RegisterVector(wdVector)
	wd := watchdog.New(m, l.FreqHz)
	wd.SetVector(wdVector)

	usiOvfVector := &core.Vector{Number: l.VectorUSIOvf, Enable: bit(l.USICR, 6), Raised: bit(l.USISR, 6)}
	m.Interrupts.RegisterVector(usiOvfVector)
	usiUnit := usi.New(m, l.USIDR, l.USISR)
	usiUnit.SetOverflowVector(usiOvfVector)

	eepromSize := l.EEPROMBytes
	if eepromSize == 0 {
		eepromSize = 512
	}
	eepromCtrl := eeprom.New(eepromSize, m.Scheduler)
	eeRegs := eeprom.Attach(m, eepromCtrl, l.EEARL, l.EEARH, l.EEDR, l.EECR)
	if l.VectorEEReady != 0 {
		// Bit 4 of EECR is a synthetic "write completed" flag private to
		// this model (real silicon has no separate raised bit here: the
		// interrupt is level-triggered on EERIE&&!EEWE); bit 3 is EERIE.
		eeReadyVector := &core.Vector{Number: l.VectorEEReady, Enable: bit(l.EECR, 3), Raised: bit(l.EECR, 4)}
		m.Interrupts.RegisterVector(eeReadyVector)
		eeRegs.SetReadyVector(eeReadyVector)
	}

	return &Machine{Machine: m, Port: port, Timer: tm, ExtInt0: ext0, ADC: adcUnit, ACMP: acmpUnit, Watchdog: wd, USI: usiUnit, EEPROM: eepromCtrl, EERegs: eeRegs}
}

func bit(addr uint16, b uint8) core.RegBit { return core.RegBit{Addr: addr, Bit: b, Mask: 1} }
