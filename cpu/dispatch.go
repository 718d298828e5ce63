package cpu

import (
	"fmt"

	"github.com/planet-s/area8051/memory"
)

// operand decodes the low nibble of an opcode byte into an address per
// one of the four addressing-mode nibbles. Any additional bytes it needs
// (a direct address byte) are
// read through loadPC so PC always advances by exactly the bytes consumed.
func (c *Chip) operand(op uint8) (memory.Addr, error) {
	n := op & 0xF
	switch {
	case n == 0x4:
		return c.A(), nil
	case n == 0x5:
		d := c.loadPC()
		return memory.Reg(d), nil
	case n == 0x6 || n == 0x7:
		rAddr, err := c.R(n - 6)
		if err != nil {
			return memory.Addr{}, err
		}
		return memory.IRam(c.mem.Load(rAddr)), nil
	case n >= 0x8 && n <= 0xF:
		return c.R(n - 8)
	default:
		return memory.Addr{}, invalidOperandNibble(n)
	}
}

// operandValue decodes the arithmetic-instruction operand form, where the
// low nibble 0x4 means an immediate byte rather than the address of A
// (the ADD/ADDC/SUBB/ORL/ANL/XRL family).
func (c *Chip) operandValue(op uint8) (uint8, error) {
	if op&0xF == 0x4 {
		return c.loadPC(), nil
	}
	addr, err := c.operand(op)
	if err != nil {
		return 0, err
	}
	return c.mem.Load(addr), nil
}

// Step fetches and executes exactly one instruction, returning a non-nil
// error only for fatal conditions (undefined opcode,
// irregular operand nibble, invalid bank/port index, write to program
// memory). It never blocks and never leaves partial state on error.
func (c *Chip) Step() (err error) {
	startPC := c.PC
	defer func() {
		if r := recover(); r != nil {
			if rw, ok := r.(memory.ROMWriteError); ok {
				c.PC = startPC
				err = InvalidState{Reason: rw.Error()}
				return
			}
			panic(r)
		}
	}()

	op := c.loadPC()
	err = c.dispatch(op)
	if err != nil {
		c.PC = startPC
		return err
	}
	if c.Trace != nil {
		c.Trace(fmt.Sprintf("0x%04X: op=0x%02X  %s", startPC, op, c))
	}
	return err
}

//nolint:gocyclo // the opcode table is inherently one big dispatch.
func (c *Chip) dispatch(op uint8) error {
	switch op {

	// ---- Zero-operand / control ----
	case 0x00: // NOP
	case 0x02: // LJMP addr16
		c.PC = c.load16PC()
	case 0x12: // LCALL addr16
		target := c.load16PC()
		ret := c.PC
		c.pushSP(uint8(ret))
		c.pushSP(uint8(ret >> 8))
		c.PC = target
	case 0x22: // RET
		hi := c.popSP()
		lo := c.popSP()
		c.PC = uint16(hi)<<8 | uint16(lo)
	case 0x73: // JMP @A+DPTR
		c.PC = c.dptrValue() + uint16(c.mem.Load(c.A()))
	case 0x80: // SJMP rel
		rel := int8(c.loadPC())
		c.reljmp(rel)

	// ---- Conditional relative jumps ----
	case 0x10: // JBC bitaddr, rel
		b := c.loadPC()
		addr, mask := c.Bit(b)
		rel := int8(c.loadPC())
		v := c.mem.Load(addr)
		if v&mask != 0 {
			c.mem.Store(addr, v&^mask)
			c.reljmp(rel)
		}
	case 0x20: // JB bitaddr, rel
		b := c.loadPC()
		addr, mask := c.Bit(b)
		rel := int8(c.loadPC())
		if c.mem.Load(addr)&mask != 0 {
			c.reljmp(rel)
		}
	case 0x30: // JNB bitaddr, rel
		b := c.loadPC()
		addr, mask := c.Bit(b)
		rel := int8(c.loadPC())
		if c.mem.Load(addr)&mask == 0 {
			c.reljmp(rel)
		}
	case 0x40: // JC rel
		rel := int8(c.loadPC())
		if c.carrySet() {
			c.reljmp(rel)
		}
	case 0x50: // JNC rel
		rel := int8(c.loadPC())
		if !c.carrySet() {
			c.reljmp(rel)
		}
	case 0x60: // JZ rel
		rel := int8(c.loadPC())
		if c.mem.Load(c.A()) == 0 {
			c.reljmp(rel)
		}
	case 0x70: // JNZ rel
		rel := int8(c.loadPC())
		if c.mem.Load(c.A()) != 0 {
			c.reljmp(rel)
		}

	// ---- Rotates on A ----
	case 0x03: // RR A
		old := c.mem.Load(c.A())
		c.mem.Store(c.A(), (old>>1)|(old<<7))
	case 0x23: // RL A
		old := c.mem.Load(c.A())
		c.mem.Store(c.A(), (old<<1)|(old>>7))
	case 0x13: // RRC A
		old := c.mem.Load(c.A())
		var cin uint8
		if c.carrySet() {
			cin = 1
		}
		c.mem.Store(c.A(), (old>>1)|(cin<<7))
		c.setPSWBit(pswC, old&1 != 0)
	case 0x33: // RLC A
		old := c.mem.Load(c.A())
		var cin uint8
		if c.carrySet() {
			cin = 1
		}
		c.mem.Store(c.A(), (old<<1)|cin)
		c.setPSWBit(pswC, old&0x80 != 0)
	case 0xC4: // SWAP A
		old := c.mem.Load(c.A())
		c.mem.Store(c.A(), (old<<4)|(old>>4))
	case 0xF4: // CPL A
		c.mem.Store(c.A(), ^c.mem.Load(c.A()))
	case 0xE4: // CLR A
		c.mem.Store(c.A(), 0)

	// ---- Increment / decrement ----
	case 0xA3: // INC DPTR
		c.setDPTR(c.dptrValue() + 1)

	// ---- MUL AB ----
	case 0xA4:
		a := c.mem.Load(c.A())
		b := c.mem.Load(c.B())
		product := uint16(a) * uint16(b)
		c.mem.Store(c.A(), uint8(product))
		c.mem.Store(c.B(), uint8(product>>8))
		c.updatePSW(false, false, product > 0xFF)

	// ---- ORL/ANL direct forms ----
	case 0x42: // ORL direct, A
		addr := memory.Reg(c.loadPC())
		c.mem.Store(addr, c.mem.Load(addr)|c.mem.Load(c.A()))
	case 0x43: // ORL direct, #imm8
		addr := memory.Reg(c.loadPC())
		imm := c.loadPC()
		c.mem.Store(addr, c.mem.Load(addr)|imm)
	case 0x52: // ANL direct, A
		addr := memory.Reg(c.loadPC())
		c.mem.Store(addr, c.mem.Load(addr)&c.mem.Load(c.A()))
	case 0x53: // ANL direct, #imm8
		addr := memory.Reg(c.loadPC())
		imm := c.loadPC()
		c.mem.Store(addr, c.mem.Load(addr)&imm)

	// ---- MOV DPTR, #imm16 / MOVC ----
	case 0x90:
		c.setDPTR(c.load16PC())
	case 0x93: // MOVC A, @A+DPTR
		addr := c.dptrValue() + uint16(c.mem.Load(c.A()))
		c.mem.Store(c.A(), c.mem.Load(memory.PMem(addr)))

	// ---- MOV direct, direct ----
	case 0x85: // MOV dst, src -- wire order: src byte then dst byte
		srcAddr := memory.Reg(c.loadPC())
		dstAddr := memory.Reg(c.loadPC())
		c.mem.Store(dstAddr, c.mem.Load(srcAddr))

	// ---- MOVX ----
	case 0xE0: // MOVX A, @DPTR
		c.mem.Store(c.A(), c.mem.Load(memory.XRam(c.dptrValue())))
	case 0xE2, 0xE3: // MOVX A, @Ri
		v, err := c.movxRiAddr(op - 0xE2)
		if err != nil {
			return err
		}
		c.mem.Store(c.A(), c.mem.Load(memory.XRam(v)))
	case 0xF0: // MOVX @DPTR, A
		c.mem.Store(memory.XRam(c.dptrValue()), c.mem.Load(c.A()))
	case 0xF2, 0xF3: // MOVX @Ri, A
		v, err := c.movxRiAddr(op - 0xF2)
		if err != nil {
			return err
		}
		c.mem.Store(memory.XRam(v), c.mem.Load(c.A()))

	// ---- Bit ops ----
	case 0x92: // MOV bit, C
		b := c.loadPC()
		addr, mask := c.Bit(b)
		c.mem.Store(addr, setBit(c.mem.Load(addr), mask, c.carrySet()))
	case 0xC2: // CLR bit
		b := c.loadPC()
		addr, mask := c.Bit(b)
		c.mem.Store(addr, c.mem.Load(addr)&^mask)
	case 0xD2: // SETB bit
		b := c.loadPC()
		addr, mask := c.Bit(b)
		c.mem.Store(addr, c.mem.Load(addr)|mask)
	case 0xC3: // CLR C
		c.setPSWBit(pswC, false)
	case 0xD3: // SETB C
		c.setPSWBit(pswC, true)

	// ---- Stack ----
	case 0xC0: // PUSH direct
		addr := memory.Reg(c.loadPC())
		c.pushSP(c.mem.Load(addr))
	case 0xD0: // POP direct
		addr := memory.Reg(c.loadPC())
		c.mem.Store(addr, c.popSP())

	// ---- DJNZ direct, rel ----
	case 0xD5:
		addr := memory.Reg(c.loadPC())
		rel := int8(c.loadPC())
		v := c.mem.Load(addr) - 1
		c.mem.Store(addr, v)
		if v != 0 {
			c.reljmp(rel)
		}

	default:
		return c.dispatchRange(op)
	}
	return nil
}

// movxRiAddr composes the 16-bit address (P2:Ri) used by MOVX @Ri forms.
func (c *Chip) movxRiAddr(i uint8) (uint16, error) {
	rAddr, err := c.R(i)
	if err != nil {
		return 0, err
	}
	p2Addr, err := c.P(2)
	if err != nil {
		return 0, err
	}
	ri := c.mem.Load(rAddr)
	p2 := c.mem.Load(p2Addr)
	return uint16(p2)<<8 | uint16(ri), nil
}

// dispatchRange handles every opcode family that spans a contiguous
// low-nibble range (INC/DEC/ADD/ADDC/SUBB/ORL/ANL/XRL/MOV.../XCH/CJNE/DJNZ),
// split out from dispatch's flat switch purely for readability.
func (c *Chip) dispatchRange(op uint8) error {
	n := op & 0xF
	switch {
	case op >= 0x04 && op <= 0x0F: // INC operand
		addr, err := c.operand(op)
		if err != nil {
			return err
		}
		c.mem.Store(addr, c.mem.Load(addr)+1)
		return nil

	case op >= 0x14 && op <= 0x1F: // DEC operand
		addr, err := c.operand(op)
		if err != nil {
			return err
		}
		c.mem.Store(addr, c.mem.Load(addr)-1)
		return nil

	case op >= 0x24 && op <= 0x2F: // ADD A, operand
		return c.addOrAddc(op, 0)

	case op >= 0x34 && op <= 0x3F: // ADDC A, operand
		var cin uint8
		if c.carrySet() {
			cin = 1
		}
		return c.addOrAddc(op, cin)

	case op >= 0x94 && op <= 0x9F: // SUBB A, operand
		v, err := c.operandValue(op)
		if err != nil {
			return err
		}
		var cin uint8
		if c.carrySet() {
			cin = 1
		}
		a := c.mem.Load(c.A())
		res, carry, ac, ov := subFlags(a, v, cin)
		c.mem.Store(c.A(), res)
		c.updatePSW(carry, ac, ov)
		return nil

	case op >= 0x44 && op <= 0x4F: // ORL A, operand
		v, err := c.operandValue(op)
		if err != nil {
			return err
		}
		c.mem.Store(c.A(), c.mem.Load(c.A())|v)
		return nil

	case op >= 0x54 && op <= 0x5F: // ANL A, operand
		v, err := c.operandValue(op)
		if err != nil {
			return err
		}
		c.mem.Store(c.A(), c.mem.Load(c.A())&v)
		return nil

	case op >= 0x64 && op <= 0x6F: // XRL A, operand
		v, err := c.operandValue(op)
		if err != nil {
			return err
		}
		c.mem.Store(c.A(), c.mem.Load(c.A())^v)
		return nil

	case op >= 0x74 && op <= 0x7F: // MOV operand, #imm8
		addr, err := c.operand(op)
		if err != nil {
			return err
		}
		imm := c.loadPC()
		c.mem.Store(addr, imm)
		return nil

	case op >= 0x86 && op <= 0x8F: // MOV direct, operand
		dst := memory.Reg(c.loadPC())
		src, err := c.operand(op)
		if err != nil {
			return err
		}
		c.mem.Store(dst, c.mem.Load(src))
		return nil

	case op >= 0xA6 && op <= 0xAF: // MOV operand, direct
		dst, err := c.operand(op)
		if err != nil {
			return err
		}
		src := memory.Reg(c.loadPC())
		c.mem.Store(dst, c.mem.Load(src))
		return nil

	case op >= 0xE5 && op <= 0xEF: // MOV A, operand
		src, err := c.operand(op)
		if err != nil {
			return err
		}
		c.mem.Store(c.A(), c.mem.Load(src))
		return nil

	case op >= 0xF5 && op <= 0xFF: // MOV operand, A
		dst, err := c.operand(op)
		if err != nil {
			return err
		}
		c.mem.Store(dst, c.mem.Load(c.A()))
		return nil

	case op >= 0xC5 && op <= 0xCF: // XCH A, operand
		addr, err := c.operand(op)
		if err != nil {
			return err
		}
		a := c.mem.Load(c.A())
		v := c.mem.Load(addr)
		c.mem.Store(c.A(), v)
		c.mem.Store(addr, a)
		return nil

	case op >= 0xB4 && op <= 0xBF: // CJNE
		return c.cjne(op, n)

	case op >= 0xD8 && op <= 0xDF: // DJNZ Rn, rel
		addr, err := c.R(n - 8)
		if err != nil {
			return err
		}
		rel := int8(c.loadPC())
		v := c.mem.Load(addr) - 1
		c.mem.Store(addr, v)
		if v != 0 {
			c.reljmp(rel)
		}
		return nil

	default:
		return invalidOpcode(op)
	}
}

func (c *Chip) addOrAddc(op, cin uint8) error {
	v, err := c.operandValue(op)
	if err != nil {
		return err
	}
	a := c.mem.Load(c.A())
	res, carry, ac, ov := addFlags(a, v, cin)
	c.mem.Store(c.A(), res)
	c.updatePSW(carry, ac, ov)
	return nil
}

func (c *Chip) cjne(op, n uint8) error {
	var a, b uint8
	switch {
	case n == 0x4: // CJNE A, #imm8, rel
		a = c.mem.Load(c.A())
		b = c.loadPC()
	case n == 0x5: // CJNE A, direct, rel
		a = c.mem.Load(c.A())
		b = c.mem.Load(memory.Reg(c.loadPC()))
	default: // CJNE operand, #imm8, rel
		addr, err := c.operand(op)
		if err != nil {
			return err
		}
		a = c.mem.Load(addr)
		b = c.loadPC()
	}
	rel := int8(c.loadPC())
	c.setPSWBit(pswC, a < b)
	if a != b {
		c.reljmp(rel)
	}
	return nil
}
