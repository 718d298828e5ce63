// Command disasm8051 statically disassembles an 8051/MCS-51 ROM image.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/planet-s/area8051/disassemble"
	"github.com/planet-s/area8051/memory"
	"github.com/spf13/cobra"
)

func main() {
	var start uint16

	root := &cobra.Command{
		Use:   "disasm8051 <rom-file>",
		Short: "Disassemble an 8051/MCS-51 ROM image starting at --start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disasm(args[0], start)
		},
	}
	root.Flags().Uint16Var(&start, "start", 0x0000, "PC value to start disassembling from")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func disasm(romPath string, start uint16) error {
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("reading rom: %w", err)
	}
	banks, err := memory.NewBanks(rom)
	if err != nil {
		return fmt.Errorf("loading rom: %w", err)
	}

	pc := start
	for {
		line, count := disassemble.Step(pc, banks)
		fmt.Println(line)
		next := pc + uint16(count)
		if next <= pc {
			break // wrapped around 64 KiB
		}
		pc = next
		if int(pc) >= len(rom) {
			break
		}
	}
	return nil
}
