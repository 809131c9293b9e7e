// Command avrsim loads a firmware image and drives the simulator core.
// Grounded on oisee-z80-optimizer/cmd/z80opt/main.go's cobra root-plus-
// subcommands shape.
package main

import (
	"fmt"
	"os"

	"github.com/gatk555/simavr/internal/chip"
	"github.com/gatk555/simavr/internal/core"
	"github.com/spf13/cobra"
)

var mcus = map[string]func(bool) *chip.Machine{
	"atmega168":  chip.NewATmega168,
	"atmega2560": chip.NewATmega2560,
	"atmega324a": chip.NewATmega324A,
	"atmega32":   chip.NewATmega32,
	"atmega88":   chip.NewATmega88,
	"attiny84":   chip.NewATtiny84,
}

func main() {
	var mcuName string
	var freqHz uint32
	var firmwarePath string
	var gdbPort int
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "avrsim",
		Short: "Cycle-accurate AVR microcontroller simulator",
	}
	rootCmd.PersistentFlags().StringVar(&mcuName, "mcu", "atmega168", "target MCU (one of: atmega168, atmega2560, atmega324a, atmega32, atmega88, attiny84)")
	rootCmd.PersistentFlags().Uint32Var(&freqHz, "frequency", 16_000_000, "CPU clock frequency in Hz")
	rootCmd.PersistentFlags().StringVar(&firmwarePath, "firmware", "", "path to a raw binary or Intel HEX firmware image")
	rootCmd.PersistentFlags().IntVar(&gdbPort, "gdb-port", 0, "GDB remote-stub listen port (0 disables; stub itself is out of scope)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable trace-level logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load firmware and run until the core reaches Done, Crashed, or Stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildMachine(mcuName, freqHz, firmwarePath, debug)
			if err != nil {
				return err
			}
			m.Init()
			state := m.Run()
			fmt.Printf("avrsim: run ended in state %s after %d cycles\n", state, m.Cycle())
			if state == core.StateCrashed {
				os.Exit(1)
			}
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Load firmware, reset the core, and report its initial state",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildMachine(mcuName, freqHz, firmwarePath, debug)
			if err != nil {
				return err
			}
			m.Init()
			m.Reset()
			fmt.Printf("avrsim: %s reset, PC=%#x, state=%s\n", mcuName, m.PC(), m.State())
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, resetCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildMachine(mcuName string, freqHz uint32, firmwarePath string, debug bool) (*chip.Machine, error) {
	makeFn, ok := mcus[mcuName]
	if !ok {
		return nil, fmt.Errorf("avrsim: unknown MCU %q", mcuName)
	}
	m := makeFn(debug)
	if freqHz != 0 {
		m.FreqHz = freqHz
	}
	if firmwarePath != "" {
		code, err := loadFirmware(firmwarePath)
		if err != nil {
			return nil, err
		}
		if err := m.LoadFlash(code); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// loadFirmware reads a raw binary or Intel HEX image. HEX decoding is a
// few dozen lines of glue (spec.md 1); ELF is explicitly out of scope.
func loadFirmware(path string) ([]uint8, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("avrsim: read %s: %w", path, err)
	}
	if len(data) > 0 && data[0] == ':' {
		return decodeIntelHex(data)
	}
	return data, nil
}
