package cpu

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"
	"github.com/planet-s/area8051/memory"
)

// newChip builds a Chip over a 64 KiB program image, fully reset.
func newChip(t *testing.T, rom []byte) *Chip {
	t.Helper()
	c, err := New(rom)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func step(t *testing.T, c *Chip) {
	t.Helper()
	if err := c.Step(); err != nil {
		t.Fatalf("Step() at pc 0x%04X: %v\n%s", c.PC, err, spew.Sdump(c))
	}
}

func TestReset(t *testing.T) {
	c := newChip(t, nil)
	if c.PC != 0 {
		t.Errorf("PC = 0x%04X, want 0", c.PC)
	}
	if got := c.mem.Load(c.SP()); got != 7 {
		t.Errorf("SP = 0x%02X, want 7", got)
	}
	for i := 0; i <= 0xFF; i++ {
		if got := c.mem.Load(memory.Reg(uint8(i))); got != 0 && uint8(i) != addrSP {
			t.Errorf("Reg(0x%02X) = 0x%02X after reset, want 0", i, got)
		}
	}
}

func TestNOPAdvancesPCByOne(t *testing.T) {
	c := newChip(t, []byte{0x00, 0x00})
	step(t, c)
	if c.PC != 1 {
		t.Fatalf("PC = %d, want 1", c.PC)
	}
}

// NOP then a shutdown-style MOVX write.
func TestNOPThenShutdownScenario(t *testing.T) {
	rom := []byte{0x00, 0x90, 0xFF, 0xFF, 0x74, 0x01, 0xF0, 0x80, 0xFE}
	c := newChip(t, rom)
	for i := 0; i < 4; i++ {
		step(t, c)
	}
	if got := c.mem.Load(memory.XRam(0xFFFF)); got != 1 {
		t.Errorf("xram[0xFFFF] = %d, want 1", got)
	}
	if c.PC != 7 {
		t.Errorf("PC = %d, want 7", c.PC)
	}
}

// ADD A, R0 with carry out.
func TestAddWithCarryScenario(t *testing.T) {
	c := newChip(t, []byte{0x28}) // ADD A, R0
	c.mem.Store(c.A(), 0xF0)
	r0, err := c.R(0)
	if err != nil {
		t.Fatal(err)
	}
	c.mem.Store(r0, 0x20)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x10 {
		t.Errorf("A = 0x%02X, want 0x10", got)
	}
	psw := c.mem.Load(c.PSW())
	if psw&pswC == 0 {
		t.Error("C not set")
	}
	if psw&pswAC != 0 {
		t.Error("AC set, want clear")
	}
	if psw&pswOV != 0 {
		t.Error("OV set, want clear")
	}
}

// Signed overflow on ADD A, #1.
func TestSignedOverflowScenario(t *testing.T) {
	c := newChip(t, []byte{0x24, 0x01}) // ADD A, #1
	c.mem.Store(c.A(), 0x7F)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x80 {
		t.Errorf("A = 0x%02X, want 0x80", got)
	}
	psw := c.mem.Load(c.PSW())
	if psw&pswC != 0 {
		t.Error("C set, want clear")
	}
	if psw&pswAC == 0 {
		t.Error("AC clear, want set")
	}
	if psw&pswOV == 0 {
		t.Error("OV clear, want set")
	}
}

func TestAddFFPlusOne(t *testing.T) {
	c := newChip(t, []byte{0x24, 0x01})
	c.mem.Store(c.A(), 0xFF)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x00 {
		t.Errorf("A = 0x%02X, want 0", got)
	}
	psw := c.mem.Load(c.PSW())
	if psw&pswC == 0 || psw&pswAC == 0 {
		t.Errorf("want C and AC set, psw=0x%02X", psw)
	}
	if psw&pswOV != 0 {
		t.Errorf("want OV clear, psw=0x%02X", psw)
	}
}

// LCALL then RET returns to the byte after LCALL.
func TestSubroutineCallScenario(t *testing.T) {
	rom := make([]byte, 0x20)
	rom[0], rom[1], rom[2] = 0x12, 0x00, 0x10 // LCALL 0x0010
	rom[0x10] = 0x22                          // RET
	c := newChip(t, rom)
	step(t, c) // LCALL
	if c.PC != 0x0010 {
		t.Fatalf("PC = 0x%04X after LCALL, want 0x0010", c.PC)
	}
	step(t, c) // RET
	if c.PC != 3 {
		t.Errorf("PC = %d after RET, want 3", c.PC)
	}
	if got := c.mem.Load(c.SP()); got != 7 {
		t.Errorf("SP = %d after RET, want 7 (back to initial)", got)
	}
}

// CJNE A, #imm8, rel: both branch and no-branch cases.
func TestCJNEBranchScenario(t *testing.T) {
	rom := []byte{0xB4, 0x05, 0x10}
	c := newChip(t, rom)
	c.mem.Store(c.A(), 0x05)
	step(t, c)
	if c.PC != 3 {
		t.Errorf("no-branch: PC = %d, want 3", c.PC)
	}
	if c.mem.Load(c.PSW())&pswC != 0 {
		t.Error("no-branch: C set, want clear (a == b)")
	}

	c2 := newChip(t, rom)
	c2.mem.Store(c2.A(), 0x04)
	step(t, c2)
	if c2.PC != 0x13 {
		t.Errorf("branch: PC = 0x%X, want 0x13", c2.PC)
	}
	if c2.mem.Load(c2.PSW())&pswC == 0 {
		t.Error("branch: C clear, want set (a < b)")
	}
}

// DPTR aliasing via DPS.
func TestDPTRAliasingViaDPS(t *testing.T) {
	c := newChip(t, []byte{0x90, 0x12, 0x34}) // MOV DPTR, #0x1234
	c.mem.Store(c.DPS(), 1)
	step(t, c)
	if got := c.mem.Load(memory.Reg(0x84)); got != 0x34 {
		t.Errorf("Reg(0x84) = 0x%02X, want 0x34", got)
	}
	if got := c.mem.Load(memory.Reg(0x85)); got != 0x12 {
		t.Errorf("Reg(0x85) = 0x%02X, want 0x12", got)
	}
	if got := c.mem.Load(memory.Reg(0x82)); got != 0 {
		t.Errorf("Reg(0x82) = 0x%02X, want unchanged 0", got)
	}
	if got := c.mem.Load(memory.Reg(0x83)); got != 0 {
		t.Errorf("Reg(0x83) = 0x%02X, want unchanged 0", got)
	}
}

func TestBankSwitching(t *testing.T) {
	// MOV R0, #0x55 is opcode 0x78 (operand nibble 8 -> R0).
	c := newChip(t, []byte{0x78, 0x55})
	psw := c.mem.Load(c.PSW())
	psw = (psw &^ (pswRS1 | pswRS0)) | pswRS1 // RS1:RS0 = 0b10 -> bank 2
	c.mem.Store(c.PSW(), psw)
	step(t, c)
	if got := c.mem.Load(memory.Reg(0x10)); got != 0x55 {
		t.Errorf("Reg(0x10) (bank 2's R0) = 0x%02X, want 0x55", got)
	}
	if got := c.mem.Load(memory.Reg(0x00)); got != 0 {
		t.Errorf("Reg(0x00) (bank 0's R0) = 0x%02X, want untouched 0", got)
	}
}

func TestMulAB(t *testing.T) {
	c := newChip(t, []byte{0xA4}) // MUL AB
	c.mem.Store(c.A(), 0x10)
	c.mem.Store(c.B(), 0x10)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x00 {
		t.Errorf("A = 0x%02X, want 0", got)
	}
	if got := c.mem.Load(c.B()); got != 0x01 {
		t.Errorf("B = 0x%02X, want 1", got)
	}
	if c.mem.Load(c.PSW())&pswOV == 0 {
		t.Error("OV clear, want set (product > 0xFF)")
	}
}

func TestIncDecWrap(t *testing.T) {
	rom := []byte{0x04, 0x14} // INC A; DEC A
	c := newChip(t, rom)
	c.mem.Store(c.A(), 0xFF)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x00 {
		t.Errorf("after INC A from 0xFF: got 0x%02X, want 0", got)
	}
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0xFF {
		t.Errorf("after DEC A from 0x00: got 0x%02X, want 0xFF", got)
	}
}

func TestIncDPTRWraps(t *testing.T) {
	c := newChip(t, []byte{0xA3}) // INC DPTR
	c.setDPTR(0xFFFF)
	step(t, c)
	if got := c.dptrValue(); got != 0x0000 {
		t.Errorf("DPTR = 0x%04X, want 0", got)
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	c := newChip(t, nil)
	spBefore := c.mem.Load(c.SP())
	c.pushSP(0x42)
	got := c.popSP()
	if got != 0x42 {
		t.Errorf("popSP = 0x%02X, want 0x42", got)
	}
	if spAfter := c.mem.Load(c.SP()); spAfter != spBefore {
		t.Errorf("SP = %d after push/pop, want unchanged %d", spAfter, spBefore)
	}
}

func TestSwapIsInvolution(t *testing.T) {
	c := newChip(t, []byte{0xC4, 0xC4}) // SWAP A; SWAP A
	c.mem.Store(c.A(), 0x3C)
	step(t, c)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x3C {
		t.Errorf("A = 0x%02X after double SWAP, want unchanged 0x3C", got)
	}
}

func TestCplIsInvolution(t *testing.T) {
	c := newChip(t, []byte{0xF4, 0xF4}) // CPL A; CPL A
	c.mem.Store(c.A(), 0x5A)
	step(t, c)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x5A {
		t.Errorf("A = 0x%02X after double CPL, want unchanged 0x5A", got)
	}
}

func TestRRThenRLIsIdentity(t *testing.T) {
	c := newChip(t, []byte{0x03, 0x23}) // RR A; RL A
	c.mem.Store(c.A(), 0x81)
	step(t, c)
	step(t, c)
	if got := c.mem.Load(c.A()); got != 0x81 {
		t.Errorf("A = 0x%02X after RR;RL, want unchanged 0x81", got)
	}
}

func TestClrSetbBitPreservesOtherBits(t *testing.T) {
	// bit 0x00 -> Reg(0x20) mask 0x01.
	c := newChip(t, []byte{0xC2, 0x00, 0xD2, 0x00, 0xC2, 0x00}) // CLR bit0; SETB bit0; CLR bit0
	c.mem.Store(memory.Reg(0x20), 0xFE)                         // every other bit already set
	step(t, c) // CLR bit 0: already clear, byte unchanged
	if got := c.mem.Load(memory.Reg(0x20)); got != 0xFE {
		t.Fatalf("Reg(0x20) = 0x%02X, want 0xFE", got)
	}
	step(t, c) // SETB bit 0
	if got := c.mem.Load(memory.Reg(0x20)); got != 0xFF {
		t.Fatalf("Reg(0x20) = 0x%02X, want 0xFF", got)
	}
	step(t, c) // CLR bit 0
	if got := c.mem.Load(memory.Reg(0x20)); got != 0xFE {
		t.Fatalf("Reg(0x20) = 0x%02X, want 0xFE (other bits preserved)", got)
	}
}

func TestUndefinedOpcodeIsFatal(t *testing.T) {
	// 0xA5 is not assigned to any instruction in the table.
	c := newChip(t, []byte{0xA5})
	err := c.Step()
	if err == nil {
		t.Fatal("expected error for undefined opcode 0xA5")
	}
	if _, ok := err.(InvalidState); !ok {
		t.Fatalf("error %v (%T) is not an InvalidState", err, err)
	}
}

func TestInvalidBankIndex(t *testing.T) {
	c := newChip(t, nil)
	if _, err := c.R(8); err == nil {
		t.Fatal("expected error for r(8)")
	}
}

func TestInvalidPortIndex(t *testing.T) {
	c := newChip(t, nil)
	if _, err := c.P(4); err == nil {
		t.Fatal("expected error for p(4)")
	}
}

func TestAddFlagsTable(t *testing.T) {
	tests := []struct {
		name             string
		a, v, cin        uint8
		wantRes          uint8
		wantC, wantAC, wantOV bool
	}{
		{"0xFF+1", 0xFF, 0x01, 0, 0x00, true, true, false},
		{"0x01+0x7F overflow", 0x01, 0x7F, 0, 0x80, false, true, true},
		{"0+0", 0x00, 0x00, 0, 0x00, false, false, false},
		{"with carry-in", 0x00, 0x00, 1, 0x01, false, false, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res, c, ac, ov := addFlags(test.a, test.v, test.cin)
			got := struct {
				Res        uint8
				C, AC, OV bool
			}{res, c, ac, ov}
			want := struct {
				Res        uint8
				C, AC, OV bool
			}{test.wantRes, test.wantC, test.wantAC, test.wantOV}
			if diff := deep.Equal(got, want); diff != nil {
				t.Errorf("addFlags(0x%02X, 0x%02X, %d) diff: %v", test.a, test.v, test.cin, diff)
			}
		})
	}
}

func TestSubFlagsTable(t *testing.T) {
	tests := []struct {
		name                  string
		a, v, cin             uint8
		wantRes               uint8
		wantC, wantAC, wantOV bool
	}{
		{"0x00-0x01 borrow", 0x00, 0x01, 0, 0xFF, true, true, false},
		{"no borrow", 0x10, 0x01, 0, 0x0F, false, true, false},
		{"with borrow-in", 0x10, 0x01, 1, 0x0E, false, true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res, c, ac, ov := subFlags(test.a, test.v, test.cin)
			if res != test.wantRes || c != test.wantC || ac != test.wantAC || ov != test.wantOV {
				t.Errorf("subFlags(0x%02X, 0x%02X, %d) = (0x%02X, %v, %v, %v), want (0x%02X, %v, %v, %v)",
					test.a, test.v, test.cin, res, c, ac, ov, test.wantRes, test.wantC, test.wantAC, test.wantOV)
			}
		})
	}
}

func TestPSWReservedBitsUntouchedByArithmetic(t *testing.T) {
	c := newChip(t, []byte{0x24, 0x01}) // ADD A, #1
	psw := c.mem.Load(c.PSW())
	psw |= pswF0 | pswP // set bits the core must never touch
	c.mem.Store(c.PSW(), psw)
	step(t, c)
	got := c.mem.Load(c.PSW())
	if got&pswF0 == 0 {
		t.Error("F0 cleared by core, must be left untouched")
	}
	if got&pswP == 0 {
		t.Error("P cleared by core, must be left untouched")
	}
}

func TestOperandDecodeTable(t *testing.T) {
	c := newChip(t, []byte{0x00, 0x42}) // second byte used as the direct-address operand
	tests := []struct {
		op      uint8
		wantFn  func(memory.Addr) bool
	}{
		{0x04, func(a memory.Addr) bool { return a == c.A() }},
		{0x05, func(a memory.Addr) bool { return a == memory.Reg(0x42) }},
		{0x06, func(a memory.Addr) bool { r, _ := c.R(0); return a == memory.IRam(c.mem.Load(r)) }},
		{0x08, func(a memory.Addr) bool { r, _ := c.R(0); return a == r }},
		{0x0F, func(a memory.Addr) bool { r, _ := c.R(7); return a == r }},
	}
	for _, test := range tests {
		c.PC = 1
		addr, err := c.operand(test.op)
		if err != nil {
			t.Fatalf("operand(0x%02X): %v", test.op, err)
		}
		if !test.wantFn(addr) {
			t.Errorf("operand(0x%02X) = %s, failed predicate", test.op, addr)
		}
	}
}

func TestOperandDecodeInvalidNibble(t *testing.T) {
	c := newChip(t, nil)
	if _, err := c.operand(0x01); err == nil {
		t.Fatal("expected error for irregular operand nibble 0x1")
	}
}

func TestMOVXRiUsesP2AsHighByte(t *testing.T) {
	c := newChip(t, []byte{0xF2}) // MOVX @R0, A
	r0, _ := c.R(0)
	c.mem.Store(r0, 0x34)
	p2, _ := c.P(2)
	c.mem.Store(p2, 0x12)
	c.mem.Store(c.A(), 0x99)
	step(t, c)
	if got := c.mem.Load(memory.XRam(0x1234)); got != 0x99 {
		t.Errorf("xram[0x1234] = 0x%02X, want 0x99 (P2:R0 addressing)", got)
	}
}

func TestDJNZBranchesOnDecrementedValue(t *testing.T) {
	rom := []byte{0xD5, 0x30, 0x05} // DJNZ 0x30, +5
	c := newChip(t, rom)
	c.mem.Store(memory.Reg(0x30), 1) // decrements to 0 -> must NOT branch
	step(t, c)
	if c.PC != 3 {
		t.Errorf("PC = %d, want 3 (no branch when decremented value is 0)", c.PC)
	}

	c2 := newChip(t, rom)
	c2.mem.Store(memory.Reg(0x30), 2) // decrements to 1 -> must branch
	step(t, c2)
	if c2.PC != 8 {
		t.Errorf("PC = %d, want 8 (branch when decremented value is non-zero)", c2.PC)
	}
}

func TestROMWritePanicsWithROMWriteError(t *testing.T) {
	// No defined opcode writes PMem; this exercises the same panic Step's
	// defer/recover converts into an InvalidState, confirming the panic
	// value it expects to see really is a memory.ROMWriteError.
	c := newChip(t, []byte{0x00})
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Store(PMem(_), _) did not panic")
		}
		if _, ok := r.(memory.ROMWriteError); !ok {
			t.Fatalf("panic value %v (%T) is not a memory.ROMWriteError", r, r)
		}
	}()
	c.mem.Store(memory.PMem(0), 0xFF)
}
