// Package cpu implements the 8051/MCS-51 instruction-dispatch engine: the
// program counter, the register/bit-addressing projections over the
// memory backend, and the opcode table that executes one instruction per
// Step call.
package cpu

import (
	"fmt"

	"github.com/planet-s/area8051/memory"
)

// PSW bit positions.
const (
	pswC   = uint8(0x80) // Carry
	pswAC  = uint8(0x40) // Auxiliary carry
	pswF0  = uint8(0x20) // User flag, not touched by the core
	pswRS1 = uint8(0x10)
	pswRS0 = uint8(0x08)
	pswOV  = uint8(0x04) // Overflow
	pswP   = uint8(0x01) // Parity, not maintained by the core
)

// SFR addresses.
const (
	addrP0   = uint8(0x80)
	addrSP   = uint8(0x81)
	addrDPL0 = uint8(0x82)
	addrDPH0 = uint8(0x83)
	addrDPL1 = uint8(0x84)
	addrDPH1 = uint8(0x85)
	addrDPS  = uint8(0x86)
	addrP1   = uint8(0x90)
	addrP2   = uint8(0xA0)
	addrP3   = uint8(0xB0)
	addrPSW  = uint8(0xD0)
	addrACC  = uint8(0xE0)
	addrB    = uint8(0xF0)
)

// Chip is a single 8051/MCS-51 core: a program counter plus a memory
// backend it addresses through the register-layer helpers below. It owns
// no goroutines and performs no I/O; Step executes exactly one instruction
// to completion and returns.
type Chip struct {
	PC uint16

	mem memory.Mem

	// Trace, when non-nil, receives a textual description of each executed
	// instruction. It has no effect on machine state and can be left nil.
	Trace func(string)
}

// ChipDef configures a new Chip.
type ChipDef struct {
	// Mem is the memory backend. Required.
	Mem memory.Mem
	// PC is the initial program counter. Reset() overrides this to 0, so
	// it only matters if the caller runs Step before ever calling Reset.
	PC uint16
}

// Init constructs a Chip from a ChipDef. It does not reset memory; call
// Reset explicitly (or use New, which does) to get the architecturally
// defined power-on state.
func Init(def *ChipDef) (*Chip, error) {
	if def.Mem == nil {
		return nil, InvalidState{Reason: "ChipDef.Mem must not be nil"}
	}
	return &Chip{PC: def.PC, mem: def.Mem}, nil
}

// New builds a Chip backed by a fresh memory.Banks loaded with rom (padded
// to 64 KiB with zeros) and immediately resets it: IRAM/XRAM start
// zeroed, PC starts at 0, SP at 7.
func New(rom []byte) (*Chip, error) {
	banks, err := memory.NewBanks(rom)
	if err != nil {
		return nil, err
	}
	c, err := Init(&ChipDef{Mem: banks})
	if err != nil {
		return nil, err
	}
	c.Reset()
	return c, nil
}

// Mem exposes the backing memory so a driver can inspect SFRs/XRAM between
// Step calls; it is the only way to observe program behavior from outside.
func (c *Chip) Mem() memory.Mem { return c.mem }

// ---- Register layer. Pure address computations; none of these
// mutate state on their own. ----

// A returns the address of the accumulator.
func (c *Chip) A() memory.Addr { return memory.Reg(addrACC) }

// B returns the address of the B register.
func (c *Chip) B() memory.Addr { return memory.Reg(addrB) }

// SP returns the address of the stack pointer SFR.
func (c *Chip) SP() memory.Addr { return memory.Reg(addrSP) }

// PSW returns the address of the program status word.
func (c *Chip) PSW() memory.Addr { return memory.Reg(addrPSW) }

// DPS returns the address of the data pointer selector.
func (c *Chip) DPS() memory.Addr { return memory.Reg(addrDPS) }

// P returns the address of I/O port i (0..3).
func (c *Chip) P(i uint8) (memory.Addr, error) {
	if i >= 4 {
		return memory.Addr{}, invalidPort(i)
	}
	return memory.Reg(0x80 + i*0x10), nil
}

// bankBase returns 8 * RS, where RS = (PSW>>3)&3 selects the active
// register bank.
func (c *Chip) bankBase() uint8 {
	rs := (c.mem.Load(c.PSW()) >> 3) & 3
	return rs * 8
}

// R returns the address of Rn (n in 0..7), resolved against the bank
// currently selected by PSW bits RS1:RS0.
func (c *Chip) R(n uint8) (memory.Addr, error) {
	if n >= 8 {
		return memory.Addr{}, invalidBank(n)
	}
	return memory.Reg(c.bankBase() + n), nil
}

// DPTR returns the low (high=false) or high (high=true) half of whichever
// DPTR is currently selected by DPS bit 0.
func (c *Chip) DPTR(high bool) memory.Addr {
	base := addrDPL0
	if c.mem.Load(c.DPS())&1 != 0 {
		base = addrDPL1
	}
	if high {
		base++
	}
	return memory.Reg(base)
}

// dptrValue reads the currently selected 16-bit DPTR.
func (c *Chip) dptrValue() uint16 {
	lo := c.mem.Load(c.DPTR(false))
	hi := c.mem.Load(c.DPTR(true))
	return uint16(hi)<<8 | uint16(lo)
}

// setDPTR writes the currently selected 16-bit DPTR.
func (c *Chip) setDPTR(v uint16) {
	c.mem.Store(c.DPTR(false), uint8(v))
	c.mem.Store(c.DPTR(true), uint8(v>>8))
}

// Bit decodes a bit address into its containing byte address and bit mask.
// It is total over the full range of uint8: an out-of-range bit number
// would only matter above 0xFF, which a uint8 argument can never reach, so
// there is nothing for this function to fail on.
func (c *Chip) Bit(b uint8) (memory.Addr, uint8) {
	byteIdx := b / 8
	mask := uint8(1) << (b % 8)
	if byteIdx <= 0xF {
		return memory.Reg(0x20 + byteIdx), mask
	}
	return memory.Reg(byteIdx * 8), mask
}

// ---- ISA primitives. ----

// loadPC reads the next program-memory byte and advances PC, wrapping mod
// 2^16 via ordinary uint16 overflow.
func (c *Chip) loadPC() uint8 {
	v := c.mem.Load(memory.PMem(c.PC))
	c.PC++
	return v
}

// load16PC reads a big-endian 16-bit immediate (addr16): high byte first.
func (c *Chip) load16PC() uint16 {
	hi := c.loadPC()
	lo := c.loadPC()
	return uint16(hi)<<8 | uint16(lo)
}

// reljmp applies a signed relative offset to PC, wrapping mod 2^16.
func (c *Chip) reljmp(off int8) {
	c.PC += uint16(int16(off))
}

// pushSP pre-increments SP then stores v at IRam(SP).
func (c *Chip) pushSP(v uint8) {
	sp := c.mem.Load(c.SP()) + 1
	c.mem.Store(c.SP(), sp)
	c.mem.Store(memory.IRam(sp), v)
}

// popSP reads IRam(SP) then post-decrements SP.
func (c *Chip) popSP() uint8 {
	sp := c.mem.Load(c.SP())
	v := c.mem.Load(memory.IRam(sp))
	c.mem.Store(c.SP(), sp-1)
	return v
}

// updatePSW writes only the carry, auxiliary-carry, and overflow bits of
// PSW, leaving the bank-select and other bits untouched.
func (c *Chip) updatePSW(carry, auxCarry, overflow bool) {
	psw := c.mem.Load(c.PSW())
	psw = setBit(psw, pswC, carry)
	psw = setBit(psw, pswAC, auxCarry)
	psw = setBit(psw, pswOV, overflow)
	c.mem.Store(c.PSW(), psw)
}

func setBit(v, mask uint8, on bool) uint8 {
	if on {
		return v | mask
	}
	return v &^ mask
}

func (c *Chip) carrySet() bool {
	return c.mem.Load(c.PSW())&pswC != 0
}

// setPSWBit updates a single PSW bit, leaving every other bit untouched.
// Used by the instructions that only ever affect C (CLR C, SETB C, the
// carry-out of CJNE, the shifted-out bit of RRC/RLC) without disturbing
// AC/OV the way updatePSW's three-bit write would.
func (c *Chip) setPSWBit(mask uint8, on bool) {
	c.mem.Store(c.PSW(), setBit(c.mem.Load(c.PSW()), mask, on))
}

// Reset restores the architecturally defined power-on state: PC = 0, every
// byte of the direct-address space cleared (which zeros IRAM's low half and
// every SFR: A, B, both DPTRs, DPS, PSW, Rn in every bank), then SP = 7.
func (c *Chip) Reset() {
	c.PC = 0
	for i := 0; i <= 0xFF; i++ {
		c.mem.Store(memory.Reg(uint8(i)), 0)
	}
	c.mem.Store(c.SP(), 7)
}

// ---- Flag computation for arithmetic on A. ----

// addFlags computes the result and flags of ADD/ADDC: A <- a + v + cin.
func addFlags(a, v, cin uint8) (result uint8, carry, auxCarry, overflow bool) {
	u := uint16(a) + uint16(v) + uint16(cin)
	n := (a & 0xF) + (v & 0xF) + cin
	s := int16(int8(a)) + int16(int8(v)) + int16(cin)
	return uint8(u), u > 0xFF, n > 0xF, s < -128 || s > 127
}

// subFlags computes the result and flags of SUBB: A <- a - v - cin.
func subFlags(a, v, cin uint8) (result uint8, carry, auxCarry, overflow bool) {
	w := uint16(v) + uint16(cin)
	carry = w > uint16(a)
	auxCarry = (v&0xF)+cin > a&0xF
	s := int16(int8(a)) - int16(int8(v)) - int16(cin)
	overflow = s < -128 || s > 127
	result = uint8(int16(a) - int16(w))
	return result, carry, auxCarry, overflow
}

// String renders a short diagnostic summary of architectural state, useful
// for trace sinks and test failures.
func (c *Chip) String() string {
	return fmt.Sprintf("PC=0x%04X A=0x%02X B=0x%02X SP=0x%02X PSW=0x%02X",
		c.PC, c.mem.Load(c.A()), c.mem.Load(c.B()), c.mem.Load(c.SP()), c.mem.Load(c.PSW()))
}
