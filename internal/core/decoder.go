package core

// NopDecoder is a Decoder that treats every flash word as a one-cycle
// no-op, advancing PC by one word. It satisfies the Decoder contract
// spec.md 1 leaves out of scope (opcode-by-opcode decoding) so a Machine
// is runnable out of the box; callers exercising real instruction
// semantics install their own Decoder, typically a small hand-built
// fake driving one scenario's exact register sequence.
type NopDecoder struct{}

// Execute advances PC by one word and costs one cycle.
func (NopDecoder) Execute(m *Machine) (uint8, error) {
	m.SetPC(m.PC() + 1)
	return 1, nil
}
