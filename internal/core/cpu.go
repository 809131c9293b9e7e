package core

import (
	"fmt"
	"log"
)

// CPUState is the fetch/execute/sleep/fault state machine from spec.md
// 4.D, mirroring the shape of core_engine/vcpu.go's exit-reason switch but
// driving a software instruction loop instead of KVM exits.
type CPUState int

const (
	StateLimbo CPUState = iota
	StateRunning
	StateSleeping
	StateStopped
	StateStep
	StateStepDone
	StateFault
	StateCrashed
	StateDone
)

func (s CPUState) String() string {
	switch s {
	case StateLimbo:
		return "Limbo"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateStopped:
		return "Stopped"
	case StateStep:
		return "Step"
	case StateStepDone:
		return "StepDone"
	case StateFault:
		return "Fault"
	case StateCrashed:
		return "Crashed"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// SREG bit positions, matching the real AVR status register layout.
const (
	SREG_C = iota
	SREG_Z
	SREG_N
	SREG_V
	SREG_S
	SREG_H
	SREG_T
	SREG_I
)

// Decoder executes the instruction at the current PC. It is the contract
// opcode decoding must satisfy (spec.md 1: decoding itself is out of
// scope). Execute advances m.PC itself and returns the instruction's
// cycle cost; a non-nil error is treated as an illegal-opcode crash.
type Decoder interface {
	Execute(m *Machine) (cycles uint8, err error)
}

// Peripheral is the minimal contract every on-chip device satisfies so
// the machine can reset it uniformly, per spec.md 3's reset lifecycle.
type Peripheral interface {
	Reset()
}

// Machine is the CPU core and its owned memory, register file, and
// peripheral arena — spec.md 3's "Machine state". It is built by a
// chip-specific maker (internal/chip), not constructed directly, mirroring
// core_engine/virtual_machine.go's NewVirtualMachine device-registration
// shape.
type Machine struct {
	Debug bool

	FreqHz uint32

	Flash        []uint8
	flashOverlay uint16 // trap opcode placed past the end of Flash's valid region

	Data   *MemBus
	IOBase uint16 // first address of the I/O window
	RAMEnd uint16

	Decoder Decoder

	Graph       *Graph
	Interrupts  *InterruptController
	Scheduler   *Scheduler
	peripherals []Peripheral

	vectorSizeWords uint8
	pcBytes         uint8 // 2 or 3, size of a pushed return address

	cycle    uint64
	pc       uint32 // word address
	instrPC  uint32 // PC at the start of the instruction currently executing
	sp       uint16
	sreg     [8]uint8
	cpuState CPUState

	sregAddr uint16
	spAddrL  uint16
	spAddrH  uint16
}

// NewMachine allocates an empty machine with the given flash/data sizes.
// Chip makers populate Data's register layout, Decoder, and peripherals
// after construction.
func NewMachine(flashBytes, dataBytes int, ioBase uint16, vectorSizeWords uint8, freqHz uint32, debug bool) *Machine {
	m := &Machine{
		Debug:           debug,
		FreqHz:          freqHz,
		Flash:           make([]uint8, flashBytes),
		Data:            NewMemBus(dataBytes),
		IOBase:          ioBase,
		RAMEnd:          uint16(dataBytes - 1),
		vectorSizeWords: vectorSizeWords,
		pcBytes:         2,
		cpuState:        StateLimbo,
	}
	if flashBytes > 2*65536 {
		m.pcBytes = 3
	}
	m.Graph = NewGraph(debug)
	m.Interrupts = newInterruptController(m)
	m.Scheduler = NewScheduler(func() uint64 { return m.cycle })
	m.Decoder = NopDecoder{}
	return m
}

// SetStackRegisters tells the machine which data-memory addresses hold
// SPL/SPH/SREG, since their exact address varies by chip. Chip makers call
// this once during construction.
func (m *Machine) SetStackRegisters(splAddr, sphAddr, sregAddr uint16) {
	m.spAddrL, m.spAddrH, m.sregAddr = splAddr, sphAddr, sregAddr
	m.Data.SetReadHook(sregAddr, func(uint16, uint8) uint8 { return m.packSREG() })
	m.Data.SetWriteHook(sregAddr, func(_ uint16, v uint8) (uint8, bool) {
		m.unpackSREG(v)
		return v, true
	})
}

func (m *Machine) packSREG() uint8 {
	var v uint8
	for i, bit := range m.sreg {
		if bit != 0 {
			v |= 1 << uint(i)
		}
	}
	return v
}

func (m *Machine) unpackSREG(v uint8) {
	for i := range m.sreg {
		if v&(1<<uint(i)) != 0 {
			m.sreg[i] = 1
		} else {
			m.sreg[i] = 0
		}
	}
}

func (m *Machine) sregI() bool { return m.sreg[SREG_I] != 0 }

func (m *Machine) setSregI(v bool) {
	if v {
		m.sreg[SREG_I] = 1
	} else {
		m.sreg[SREG_I] = 0
	}
}

// SREGBit returns the current value of SREG flag index (SREG_C..SREG_I).
func (m *Machine) SREGBit(index int) bool { return m.sreg[index] != 0 }

// SetSREGBit sets SREG flag index to v.
func (m *Machine) SetSREGBit(index int, v bool) {
	if v {
		m.sreg[index] = 1
	} else {
		m.sreg[index] = 0
	}
}

// SetRegBit, TestRegBit, ClearRegBit, SetRegBitValue delegate to Data,
// giving the interrupt controller and peripherals a Machine-scoped
// shorthand for register-bit descriptor operations.
func (m *Machine) SetRegBit(rb RegBit)               { m.Data.Set(rb) }
func (m *Machine) ClearRegBit(rb RegBit)             { m.Data.Clear(rb) }
func (m *Machine) TestRegBit(rb RegBit) bool         { return m.Data.Test(rb) }
func (m *Machine) SetRegBitValue(rb RegBit, v uint8) { m.Data.SetValue(rb, v) }
func (m *Machine) GetRegBit(rb RegBit) uint8         { return m.Data.Get(rb) }

// PC returns the current word-addressed program counter.
func (m *Machine) PC() uint32 { return m.pc }

// SetPC sets the program counter directly, used by the decoder for
// jumps/calls/returns.
func (m *Machine) SetPC(pc uint32) { m.pc = pc }

// Cycle returns the current monotonic cycle count.
func (m *Machine) Cycle() uint64 { return m.cycle }

// AddCycles advances the cycle counter, used by the decoder after
// executing an instruction whose cost it alone knows, and by sleep
// fast-forwarding.
func (m *Machine) AddCycles(n uint64) { m.cycle += n }

// State returns the current CPU state.
func (m *Machine) State() CPUState { return m.cpuState }

// SetState lets the decoder (SLEEP instruction) and peripherals (watchdog
// reset) drive state transitions directly.
func (m *Machine) SetState(s CPUState) { m.cpuState = s }

// RegisterPeripheral adds p to the reset arena. Chip makers call this for
// every peripheral they construct.
func (m *Machine) RegisterPeripheral(p Peripheral) { m.peripherals = append(m.peripherals, p) }

// LoadFlash copies code into flash starting at byte offset 0, returning an
// error if it does not fit — spec.md 7's "loading code past flash end" is
// a fatal programming error, reported here rather than panicking so the
// CLI can print a clean message.
func (m *Machine) LoadFlash(code []uint8) error {
	if len(code) > len(m.Flash) {
		return fmt.Errorf("core: firmware image of %d bytes exceeds flash size %d", len(code), len(m.Flash))
	}
	copy(m.Flash, code)
	return nil
}

// Init transitions the machine from Limbo to Running, matching
// core_engine/virtual_machine.go's construct-then-Run split. Init must run
// exactly once before the first Run/RunOne call.
func (m *Machine) Init() {
	if m.cpuState != StateLimbo {
		log.Printf("core: Init called twice, ignoring")
		return
	}
	m.Reset()
	m.cpuState = StateRunning
	if m.Debug {
		log.Printf("core: machine initialized, %d bytes flash, %d bytes data", len(m.Flash), m.Data.Len())
	}
}

// Reset reinitializes PC/SP/SREG, clears every peripheral's scheduled
// callbacks and pending interrupts, and clears cached previous values —
// spec.md 3's reset lifecycle. Signals persist across reset.
func (m *Machine) Reset() {
	m.pc = 0
	m.sp = m.RAMEnd
	for i := range m.sreg {
		m.sreg[i] = 0
	}
	m.cycle = 0
	m.Scheduler.Reset()
	m.Interrupts.Reset()
	for _, p := range m.peripherals {
		p.Reset()
	}
	if m.Debug {
		log.Println("core: machine reset")
	}
}

// Terminate tears the machine down; after this call it must not be
// reused. Mirrors core_engine/virtual_machine.go's Close.
func (m *Machine) Terminate() {
	m.cpuState = StateDone
	if m.Debug {
		log.Println("core: machine terminated")
	}
}

// pushReturnPC pushes the current PC onto the data stack as pcBytes bytes,
// low byte first at the current SP (the highest address), each later byte
// one address below it, matching AVR CALL/interrupt-entry push order.
func (m *Machine) pushReturnPC() {
	pc := m.pc
	for i := uint8(0); i < m.pcBytes; i++ {
		m.Data.RawWrite(m.sp, uint8(pc))
		m.sp--
		pc >>= 8
	}
	m.syncSP()
}

// PopReturnPC pops a previously pushed PC (RET/RETI), for the decoder.
func (m *Machine) PopReturnPC() uint32 {
	var pc uint32
	for i := uint8(0); i < m.pcBytes; i++ {
		m.sp++
		pc |= uint32(m.Data.RawRead(m.sp)) << (8 * (m.pcBytes - 1 - i))
	}
	m.syncSP()
	return pc
}

func (m *Machine) syncSP() {
	if m.spAddrL == 0 {
		return
	}
	m.Data.RawWrite(m.spAddrL, uint8(m.sp))
	m.Data.RawWrite(m.spAddrH, uint8(m.sp>>8))
}

// SP returns the current stack pointer.
func (m *Machine) SP() uint16 { return m.sp }

// SetSP sets the stack pointer directly (POP/PUSH use it via Data writes
// normally; this is for the decoder's direct SP manipulation instructions).
func (m *Machine) SetSP(sp uint16) { m.sp = sp; m.syncSP() }

// FaultCurrent implements spec.md 6's lazy-input protocol: called from
// inside a signal-listener callback invoked during instruction execution,
// it stops the current instruction without advancing the PC so the same
// instruction is retried once the caller resumes Running.
func (m *Machine) FaultCurrent() {
	m.cpuState = StateFault
}

// RunOne executes exactly the instruction at PC, updates PC and the cycle
// counter, and returns the resulting state (Running normally, Fault if a
// listener called FaultCurrent, Crashed on decode error).
func (m *Machine) RunOne() CPUState {
	m.instrPC = m.pc
	cycles, err := m.Decoder.Execute(m)
	if m.cpuState == StateFault {
		m.pc = m.instrPC
		return m.cpuState
	}
	if err != nil {
		log.Printf("core: illegal opcode at word %#x: %v", m.instrPC, err)
		m.cpuState = StateCrashed
		return m.cpuState
	}
	m.cycle += uint64(cycles)
	return m.cpuState
}

// afterInstruction drains expired scheduler entries and, if the CPU is
// Running or Sleeping, services interrupts — spec.md 4.D's "between
// instructions" contract.
func (m *Machine) afterInstruction() uint64 {
	wait := m.Scheduler.Process(^uint64(0))
	if m.cpuState == StateRunning || m.cpuState == StateSleeping {
		m.Interrupts.service()
	}
	return wait
}

// Run executes instructions until the CPU leaves the Running/Sleeping
// cycle, i.e. until it reaches Stopped, Step-done, Fault, Crashed, or
// Done, matching core_engine/vcpu.go's run-until-notable-exit shape and
// core_engine/virtual_machine.go's Run/Stop split.
func (m *Machine) Run() CPUState {
	for {
		switch m.cpuState {
		case StateRunning:
			m.RunOne()
			if m.cpuState != StateRunning {
				if m.cpuState == StateFault || m.cpuState == StateCrashed {
					return m.cpuState
				}
				continue
			}
			m.afterInstruction()

		case StateStep:
			m.RunOne()
			if m.cpuState == StateRunning {
				m.cpuState = StateStepDone
			}
			m.afterInstruction()
			return m.cpuState

		case StateSleeping:
			wait := m.afterInstruction()
			if m.cpuState != StateSleeping {
				continue // an interrupt woke the core
			}
			if !m.sregI() && m.Interrupts.PendingCount() == 0 {
				m.cpuState = StateDone
				if m.Debug {
					log.Println("core: sleeping with interrupts disabled and nothing pending, done")
				}
				return m.cpuState
			}
			// Nothing will happen until the next scheduled event: fast
			// forward the cycle counter in one step instead of iterating.
			if wait > 0 {
				m.cycle += wait
			} else {
				m.cycle++
			}

		case StateStopped, StateFault, StateCrashed, StateDone, StateStepDone, StateLimbo:
			return m.cpuState

		default:
			return m.cpuState
		}
	}
}

// Stop requests the run loop exit at the next instruction boundary.
func (m *Machine) Stop() {
	if m.cpuState == StateRunning || m.cpuState == StateSleeping {
		m.cpuState = StateStopped
	}
}

// Resume transitions out of Fault/Stopped/StepDone back to Running, for
// the caller to re-enter Run after handling a lazy-input fault or a step.
func (m *Machine) Resume() {
	switch m.cpuState {
	case StateFault, StateStopped, StateStepDone:
		m.cpuState = StateRunning
	}
}
