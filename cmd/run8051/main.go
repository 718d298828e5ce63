// Command run8051 loads an 8051/MCS-51 ROM image and runs the core's
// step loop, implementing the conventional serial-out and shutdown I/O
// hooks as a driver layered on top of the core. The core itself never
// knows these addresses are special.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/planet-s/area8051/cpu"
	"github.com/planet-s/area8051/memory"
	"github.com/spf13/cobra"
)

func main() {
	var serialAddr uint8
	var shutdownAddr uint16
	var maxSteps int
	var trace bool

	root := &cobra.Command{
		Use:   "run8051",
		Short: "Run an 8051/MCS-51 ROM image against the core simulator",
	}

	runCmd := &cobra.Command{
		Use:   "run <rom-file>",
		Short: "Load a ROM image and step the core until shutdown or max-steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], serialAddr, shutdownAddr, maxSteps, trace)
		},
	}
	runCmd.Flags().Uint8Var(&serialAddr, "serial-addr", 0x99, "SFR address polled for a serial-out byte after every step (cleared once printed)")
	runCmd.Flags().Uint16Var(&shutdownAddr, "shutdown-addr", 0xFFFF, "XRAM address that halts the run loop once non-zero")
	runCmd.Flags().IntVar(&maxSteps, "max-steps", 0, "stop after this many steps (0 = unbounded, rely on shutdown-addr)")
	runCmd.Flags().BoolVar(&trace, "trace", false, "print a trace line for every executed instruction to stderr")

	root.AddCommand(runCmd)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(romPath string, serialAddr uint8, shutdownAddr uint16, maxSteps int, trace bool) error {
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("reading rom: %w", err)
	}

	chip, err := cpu.New(rom)
	if err != nil {
		return fmt.Errorf("constructing cpu: %w", err)
	}
	if trace {
		chip.Trace = func(line string) {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	mem := chip.Mem()
	for steps := 0; maxSteps <= 0 || steps < maxSteps; steps++ {
		if err := chip.Step(); err != nil {
			return fmt.Errorf("step %d at pc 0x%04X: %w", steps, chip.PC, err)
		}

		if b := mem.Load(memory.Reg(serialAddr)); b > 0 {
			fmt.Print(string(rune(b)))
			mem.Store(memory.Reg(serialAddr), 0)
		}
		if mem.Load(memory.XRam(shutdownAddr)) > 0 {
			return nil
		}
	}
	return nil
}
