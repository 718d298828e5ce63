// Package memory defines the 8051/MCS-51 address model and the byte-addressable
// backing stores (IRAM, SFR, PMEM, XRAM) the core is built on.
package memory

import "fmt"

// Space names one of the four address spaces the 8051 exposes.
type Space uint8

const (
	// SpaceReg is the direct-address space: 0x00-0x7F aliases low IRAM,
	// 0x80-0xFF is the SFR window.
	SpaceReg Space = iota
	// SpaceIRam is internal RAM, reachable only through indirect (@Rn) addressing.
	// Its low 128 bytes are the same physical bytes as SpaceReg's low half.
	SpaceIRam
	// SpacePMem is program memory (ROM). Read-only; movc is the only reader.
	SpacePMem
	// SpaceXRam is external data memory, reachable only through movx.
	SpaceXRam
)

func (s Space) String() string {
	switch s {
	case SpaceReg:
		return "reg"
	case SpaceIRam:
		return "iram"
	case SpacePMem:
		return "pmem"
	case SpaceXRam:
		return "xram"
	default:
		return fmt.Sprintf("space(%d)", uint8(s))
	}
}

// Addr is a tagged address: which space, and where within it. Never treat
// this as a raw integer: the same numeric Idx means different bytes in
// different spaces.
type Addr struct {
	Space Space
	Idx   uint16
}

func (a Addr) String() string {
	return fmt.Sprintf("%s(0x%02X)", a.Space, a.Idx)
}

// Reg addresses the 8-bit direct-address space.
func Reg(i uint8) Addr { return Addr{Space: SpaceReg, Idx: uint16(i)} }

// IRam addresses the 8-bit indirect (internal RAM) space.
func IRam(i uint8) Addr { return Addr{Space: SpaceIRam, Idx: uint16(i)} }

// PMem addresses the 16-bit, read-only program memory space.
func PMem(i uint16) Addr { return Addr{Space: SpacePMem, Idx: i} }

// XRam addresses the 16-bit external data memory space.
func XRam(i uint16) Addr { return Addr{Space: SpaceXRam, Idx: i} }

// Mem is the memory backend contract the register and ISA layers are built
// against. Load is total. Store fails (panics) for SpacePMem: no defined
// opcode ever writes PMem, so this is a low-level contract violation, not
// a recoverable opcode error, and only a misbehaving driver calling Store
// directly can trigger it.
type Mem interface {
	Load(addr Addr) uint8
	Store(addr Addr, v uint8)
}

// ROMWriteError is the fatal, low-level error recovered and reported when a
// caller stores to program memory.
type ROMWriteError struct {
	Addr Addr
}

func (e ROMWriteError) Error() string {
	return fmt.Sprintf("store to read-only program memory at %s", e.Addr)
}

// Banks is the concrete Mem implementation: the four backing stores of a
// single 8051. The low 128 bytes of iram back both SpaceReg's low half and
// all of SpaceIRam's low half: the same array, not a mirrored copy, so the
// aliasing invariant holds by construction.
type Banks struct {
	iram [256]uint8
	sfr  [128]uint8
	pmem [65536]uint8
	xram [65536]uint8
}

// NewBanks builds a Banks with rom copied into program memory (zero-padded
// out to 64 KiB) and all RAM-like stores zeroed.
func NewBanks(rom []byte) (*Banks, error) {
	if len(rom) > 1<<16 {
		return nil, fmt.Errorf("rom image of %d bytes exceeds 64 KiB program memory", len(rom))
	}
	b := &Banks{}
	copy(b.pmem[:], rom)
	return b, nil
}

// Load implements Mem.
func (b *Banks) Load(addr Addr) uint8 {
	switch addr.Space {
	case SpaceReg:
		i := addr.Idx
		if i < 0x80 {
			return b.iram[i]
		}
		return b.sfr[i-0x80]
	case SpaceIRam:
		return b.iram[addr.Idx]
	case SpacePMem:
		return b.pmem[addr.Idx]
	case SpaceXRam:
		return b.xram[addr.Idx]
	default:
		panic(fmt.Sprintf("memory: load from unknown space %d", addr.Space))
	}
}

// Store implements Mem. Panics on SpacePMem per the package-level contract.
func (b *Banks) Store(addr Addr, v uint8) {
	switch addr.Space {
	case SpaceReg:
		i := addr.Idx
		if i < 0x80 {
			b.iram[i] = v
		} else {
			b.sfr[i-0x80] = v
		}
	case SpaceIRam:
		b.iram[addr.Idx] = v
	case SpacePMem:
		panic(ROMWriteError{Addr: addr})
	case SpaceXRam:
		b.xram[addr.Idx] = v
	default:
		panic(fmt.Sprintf("memory: store to unknown space %d", addr.Space))
	}
}

// PowerOn zeros every RAM-like byte (IRAM, SFRs, XRAM). Program memory is
// left untouched: it was set once at construction and movc is the only
// reader of it. Unlike the 6502 convention of randomizing RAM at power-on
// to catch uninitialized-read bugs, the 8051 architecture defines a zeroed
// power-on state, so this is deterministic rather than random.
func (b *Banks) PowerOn() {
	for i := range b.iram {
		b.iram[i] = 0
	}
	for i := range b.sfr {
		b.sfr[i] = 0
	}
	for i := range b.xram {
		b.xram[i] = 0
	}
}
