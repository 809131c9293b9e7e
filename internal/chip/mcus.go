package chip

// Register address assignments below follow the real ATmega/ATtiny I/O
// map closely enough for the scenario tests to exercise genuine register
// offsets; they are not exhaustively verified against every datasheet
// revision, since per-MCU tables are out of scope (spec.md 1).

func common() Layout {
	return Layout{
		IOBase:          0x20,
		VectorSizeWords: 2,
		FreqHz:          16_000_000,
		SPLAddr:         0x5d,
		SPHAddr:         0x5e,
		SREGAddr:        0x5f,

		PortDDR: 0x24, PortPORT: 0x25, PortPIN: 0x23,

		TCNTL: 0x84, TCNTH: 0x85,
		TCCRA: 0x80, TCCRB: 0x81,
		OCRAL: 0x88, OCRAH: 0x89,
		OCRBL: 0x8a, OCRBH: 0x8b,
		ICRL: 0x86, ICRH: 0x87,
		TIMSK: 0x6f, TIFR: 0x36,

		EIMSK: 0x3d, EIFR: 0x3c, EICRA: 0x69,

		ADMUX: 0x7c, ADCSRA: 0x7a, ADCL: 0x78, ADCH: 0x79,

		ACSR: 0x50,

		WDTCR: 0x60,

		USIDR: 0x0e, USISR: 0x0f, USICR: 0x0d,

		EEARL: 0x41, EEARH: 0x42, EEDR: 0x40, EECR: 0x3f, EEPROMBytes: 512,

		VectorOverflow: 17, VectorCompareA: 15, VectorCompareB: 16, VectorCapture: 14,
		VectorExtInt0: 1, VectorADC: 21, VectorACMP: 20, VectorWatchdog: 6, VectorUSIOvf: 12,
		VectorEEReady: 22,
	}
}

// NewATmega168 builds a Machine for scenario 1 (I/O-port and
// external-interrupt exercise).
func NewATmega168(debug bool) *Machine {
	l := common()
	l.Name = "ATmega168"
	l.FlashBytes = 16 * 1024
	l.DataBytes = 0x500
	return Build(l, debug)
}

// NewATmega2560 builds a Machine for scenario 2 (interrupt priority
// across 54 vectors). VectorSizeWords is 2: the 2560 has extended flash
// and wide CALL/JMP, so interrupt vectors occupy 4 bytes.
func NewATmega2560(debug bool) *Machine {
	l := common()
	l.Name = "ATmega2560"
	l.FlashBytes = 256 * 1024
	l.DataBytes = 0x2200
	l.VectorSizeWords = 2
	return Build(l, debug)
}

// NewATmega324A builds a Machine for scenario 3 (16-bit timer waveform
// generation across WGM modes).
func NewATmega324A(debug bool) *Machine {
	l := common()
	l.Name = "ATmega324A"
	l.FlashBytes = 32 * 1024
	l.DataBytes = 0x900
	return Build(l, debug)
}

// NewATmega32 builds a Machine for scenario 4 (lazy ADC and port reads).
func NewATmega32(debug bool) *Machine {
	l := common()
	l.Name = "ATmega32"
	l.FlashBytes = 32 * 1024
	l.DataBytes = 0x460
	return Build(l, debug)
}

// NewATmega88 builds a Machine for scenario 5 (analog comparator).
func NewATmega88(debug bool) *Machine {
	l := common()
	l.Name = "ATmega88"
	l.FlashBytes = 8 * 1024
	l.DataBytes = 0x500
	return Build(l, debug)
}

// NewATtiny84 builds a Machine for scenario 6 (timer read-back). The
// tiny84 has no separate RAMPZ/extended flash and a smaller data space.
func NewATtiny84(debug bool) *Machine {
	l := common()
	l.Name = "ATtiny84"
	l.FlashBytes = 8 * 1024
	l.DataBytes = 0x200
	l.IOBase = 0x20
	return Build(l, debug)
}
