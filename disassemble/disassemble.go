// Package disassemble implements a static disassembler for 8051/MCS-51
// opcodes. Nothing in here mutates machine state, and the cpu package
// doesn't depend on this one; it only reads through memory.Mem.
package disassemble

import (
	"fmt"

	"github.com/planet-s/area8051/memory"
)

// Step disassembles the instruction at pc, reading only from program
// memory, and returns a formatted line plus the number of bytes the
// instruction occupies. It does not interpret control flow: a JMP
// followed by its target in memory disassembles as that literal byte
// sequence, not as the jump's destination.
func Step(pc uint16, rom memory.Mem) (string, int) {
	cur := pc
	op := readPMem(rom, &cur)

	mnemonic := decode(op, rom, &cur)
	count := int(cur - pc)
	return fmt.Sprintf("%04X: %02X  %-28s", pc, op, mnemonic), count
}

func readPMem(rom memory.Mem, pc *uint16) uint8 {
	v := rom.Load(memory.PMem(*pc))
	*pc++
	return v
}

func read16PMem(rom memory.Mem, pc *uint16) uint16 {
	hi := readPMem(rom, pc)
	lo := readPMem(rom, pc)
	return uint16(hi)<<8 | uint16(lo)
}

// operandName mirrors cpu.operand's decode but renders a
// symbolic name instead of resolving an address.
func operandName(op uint8, rom memory.Mem, pc *uint16) string {
	n := op & 0xF
	switch {
	case n == 0x4:
		return "A"
	case n == 0x5:
		d := readPMem(rom, pc)
		return fmt.Sprintf("0x%02X", d)
	case n == 0x6 || n == 0x7:
		return fmt.Sprintf("@R%d", n-6)
	case n >= 0x8 && n <= 0xF:
		return fmt.Sprintf("R%d", n-8)
	default:
		return fmt.Sprintf("?0x%X", n)
	}
}

func bitName(rom memory.Mem, pc *uint16) string {
	return fmt.Sprintf("bit(0x%02X)", readPMem(rom, pc))
}

func relTarget(rom memory.Mem, pc *uint16) string {
	rel := int8(readPMem(rom, pc))
	return fmt.Sprintf("%d (-> 0x%04X)", rel, *pc+uint16(int16(rel)))
}

//nolint:gocyclo // one mnemonic table, same shape as cpu.dispatch.
func decode(op uint8, rom memory.Mem, pc *uint16) string {
	switch op {
	case 0x00:
		return "NOP"
	case 0x02:
		return fmt.Sprintf("LJMP 0x%04X", read16PMem(rom, pc))
	case 0x12:
		return fmt.Sprintf("LCALL 0x%04X", read16PMem(rom, pc))
	case 0x22:
		return "RET"
	case 0x73:
		return "JMP @A+DPTR"
	case 0x80:
		return fmt.Sprintf("SJMP %s", relTarget(rom, pc))
	case 0x10:
		b := bitName(rom, pc)
		return fmt.Sprintf("JBC %s, %s", b, relTarget(rom, pc))
	case 0x20:
		b := bitName(rom, pc)
		return fmt.Sprintf("JB %s, %s", b, relTarget(rom, pc))
	case 0x30:
		b := bitName(rom, pc)
		return fmt.Sprintf("JNB %s, %s", b, relTarget(rom, pc))
	case 0x40:
		return fmt.Sprintf("JC %s", relTarget(rom, pc))
	case 0x50:
		return fmt.Sprintf("JNC %s", relTarget(rom, pc))
	case 0x60:
		return fmt.Sprintf("JZ %s", relTarget(rom, pc))
	case 0x70:
		return fmt.Sprintf("JNZ %s", relTarget(rom, pc))
	case 0x03:
		return "RR A"
	case 0x23:
		return "RL A"
	case 0x13:
		return "RRC A"
	case 0x33:
		return "RLC A"
	case 0xC4:
		return "SWAP A"
	case 0xF4:
		return "CPL A"
	case 0xE4:
		return "CLR A"
	case 0xA3:
		return "INC DPTR"
	case 0xA4:
		return "MUL AB"
	case 0x42:
		return fmt.Sprintf("ORL 0x%02X, A", readPMem(rom, pc))
	case 0x43:
		addr := readPMem(rom, pc)
		return fmt.Sprintf("ORL 0x%02X, #0x%02X", addr, readPMem(rom, pc))
	case 0x52:
		return fmt.Sprintf("ANL 0x%02X, A", readPMem(rom, pc))
	case 0x53:
		addr := readPMem(rom, pc)
		return fmt.Sprintf("ANL 0x%02X, #0x%02X", addr, readPMem(rom, pc))
	case 0x90:
		return fmt.Sprintf("MOV DPTR, #0x%04X", read16PMem(rom, pc))
	case 0x93:
		return "MOVC A, @A+DPTR"
	case 0x85:
		src := readPMem(rom, pc)
		dst := readPMem(rom, pc)
		return fmt.Sprintf("MOV 0x%02X, 0x%02X", dst, src)
	case 0xE0:
		return "MOVX A, @DPTR"
	case 0xE2, 0xE3:
		return fmt.Sprintf("MOVX A, @R%d", op-0xE2)
	case 0xF0:
		return "MOVX @DPTR, A"
	case 0xF2, 0xF3:
		return fmt.Sprintf("MOVX @R%d, A", op-0xF2)
	case 0x92:
		return fmt.Sprintf("MOV %s, C", bitName(rom, pc))
	case 0xC2:
		return fmt.Sprintf("CLR %s", bitName(rom, pc))
	case 0xD2:
		return fmt.Sprintf("SETB %s", bitName(rom, pc))
	case 0xC3:
		return "CLR C"
	case 0xD3:
		return "SETB C"
	case 0xC0:
		return fmt.Sprintf("PUSH 0x%02X", readPMem(rom, pc))
	case 0xD0:
		return fmt.Sprintf("POP 0x%02X", readPMem(rom, pc))
	case 0xD5:
		addr := readPMem(rom, pc)
		return fmt.Sprintf("DJNZ 0x%02X, %s", addr, relTarget(rom, pc))
	}

	n := op & 0xF
	switch {
	case op >= 0x04 && op <= 0x0F:
		return fmt.Sprintf("INC %s", operandName(op, rom, pc))
	case op >= 0x14 && op <= 0x1F:
		return fmt.Sprintf("DEC %s", operandName(op, rom, pc))
	case op >= 0x24 && op <= 0x2F:
		return fmt.Sprintf("ADD A, %s", arithOperand(op, rom, pc))
	case op >= 0x34 && op <= 0x3F:
		return fmt.Sprintf("ADDC A, %s", arithOperand(op, rom, pc))
	case op >= 0x94 && op <= 0x9F:
		return fmt.Sprintf("SUBB A, %s", arithOperand(op, rom, pc))
	case op >= 0x44 && op <= 0x4F:
		return fmt.Sprintf("ORL A, %s", arithOperand(op, rom, pc))
	case op >= 0x54 && op <= 0x5F:
		return fmt.Sprintf("ANL A, %s", arithOperand(op, rom, pc))
	case op >= 0x64 && op <= 0x6F:
		return fmt.Sprintf("XRL A, %s", arithOperand(op, rom, pc))
	case op >= 0x74 && op <= 0x7F:
		dst := operandName(op, rom, pc)
		return fmt.Sprintf("MOV %s, #0x%02X", dst, readPMem(rom, pc))
	case op >= 0x86 && op <= 0x8F:
		dst := readPMem(rom, pc)
		return fmt.Sprintf("MOV 0x%02X, %s", dst, operandName(op, rom, pc))
	case op >= 0xA6 && op <= 0xAF:
		dst := operandName(op, rom, pc)
		return fmt.Sprintf("MOV %s, 0x%02X", dst, readPMem(rom, pc))
	case op >= 0xE5 && op <= 0xEF:
		return fmt.Sprintf("MOV A, %s", operandName(op, rom, pc))
	case op >= 0xF5 && op <= 0xFF:
		return fmt.Sprintf("MOV %s, A", operandName(op, rom, pc))
	case op >= 0xC5 && op <= 0xCF:
		return fmt.Sprintf("XCH A, %s", operandName(op, rom, pc))
	case op >= 0xB4 && op <= 0xBF:
		return cjneText(op, n, rom, pc)
	case op >= 0xD8 && op <= 0xDF:
		return fmt.Sprintf("DJNZ R%d, %s", n-8, relTarget(rom, pc))
	default:
		return fmt.Sprintf("??? (undefined opcode 0x%02X)", op)
	}
}

// arithOperand renders the ADD/ADDC/SUBB/ORL/ANL/XRL operand form, where
// nibble 0x4 is an immediate rather than the address of A.
func arithOperand(op uint8, rom memory.Mem, pc *uint16) string {
	if op&0xF == 0x4 {
		return fmt.Sprintf("#0x%02X", readPMem(rom, pc))
	}
	return operandName(op, rom, pc)
}

func cjneText(op, n uint8, rom memory.Mem, pc *uint16) string {
	switch {
	case n == 0x4:
		imm := readPMem(rom, pc)
		return fmt.Sprintf("CJNE A, #0x%02X, %s", imm, relTarget(rom, pc))
	case n == 0x5:
		addr := readPMem(rom, pc)
		return fmt.Sprintf("CJNE A, 0x%02X, %s", addr, relTarget(rom, pc))
	default:
		name := operandName(op, rom, pc)
		imm := readPMem(rom, pc)
		return fmt.Sprintf("CJNE %s, #0x%02X, %s", name, imm, relTarget(rom, pc))
	}
}
