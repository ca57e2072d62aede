package stub

import (
	"debug/elf"
	"encoding/binary"

	"github.com/ksco/soda/pkg/utils"
)

const (
	x16 = 16
	x17 = 17
	x19 = 19
	x20 = 20
	x29 = 29
	x30 = 30
	xzr = 31
	sp  = 31
)

var a64Brk = []byte{0x00, 0x00, 0x20, 0xd4}

// aarch64 instructions are little endian in either data byte order.
type aarch64 struct {
	order binary.ByteOrder
}

func init() {
	Register(aarch64{order: binary.LittleEndian})
	Register(aarch64{order: binary.BigEndian})
}

func (a aarch64) Name() string {
	if a.order == binary.BigEndian {
		return "aarch64_be"
	}
	return "aarch64"
}

func (aarch64) Machine() elf.Machine          { return elf.EM_AARCH64 }
func (aarch64) Class() elf.Class              { return elf.ELFCLASS64 }
func (a aarch64) ByteOrder() binary.ByteOrder { return a.order }
func (aarch64) Align() uint64                 { return 16 }

func (aarch64) RelocType(kind RelocKind) (uint32, bool) {
	switch kind {
	case RelocCall:
		return uint32(elf.R_AARCH64_CALL26), true
	case RelocJump:
		return uint32(elf.R_AARCH64_JUMP26), true
	case RelocAbs64:
		return uint32(elf.R_AARCH64_ABS64), true
	case RelocPageHi21:
		return uint32(elf.R_AARCH64_ADR_PREL_PG_HI21), true
	case RelocAddLo12:
		return uint32(elf.R_AARCH64_ADD_ABS_LO12_NC), true
	case RelocLdst64Lo12:
		return uint32(elf.R_AARCH64_LDST64_ABS_LO12_NC), true
	}
	return 0, false
}

// Stub uses the intra-procedure-call registers: x16 carries the lazy
// table entry to lazy_bind and x17 the cached target.
//
//	adrp x16, entry
//	ldr  x17, [x16, :lo12:entry]
//	cbz  x17, 1f
//	br   x17
//	1: add x16, x16, :lo12:entry
//	b    lazy_bind
func (aarch64) Stub(sym Symbol, entry int) Plan {
	a := &a64asm{newAssembler()}
	a.adrp(x16, Entry(entry))
	a.reloc(RelocLdst64Lo12, Entry(entry), 0)
	a.ldr(x17, x16, 0)
	a.cbz(x17, "miss")
	a.br(x17)
	a.label("miss")
	a.reloc(RelocAddLo12, Entry(entry), 0)
	a.addImm(x16, x16, 0)
	a.reloc(RelocJump, Routine(RoutineLazyBind), 0)
	a.emit32(0x14000000)
	a.alignTo(16, a64Brk)
	return a.finish()
}

type a64asm struct {
	*assembler
}

func (a *a64asm) adrp(rd int, target Target) {
	a.reloc(RelocPageHi21, target, 0)
	a.emit32(0x90000000 | uint32(rd))
}

// adr loads the address of target with adrp and add.
func (a *a64asm) adr(rd int, target Target) {
	a.adrp(rd, target)
	a.reloc(RelocAddLo12, target, 0)
	a.addImm(rd, rd, 0)
}

func (a *a64asm) addImm(rd, rn int, imm uint32) {
	utils.Assert(imm < 1<<12)
	a.emit32(0x91000000 | imm<<10 | uint32(rn)<<5 | uint32(rd))
}

func (a *a64asm) subImm(rd, rn int, imm uint32) {
	utils.Assert(imm < 1<<12)
	a.emit32(0xd1000000 | imm<<10 | uint32(rn)<<5 | uint32(rd))
}

// mov rd, rm (orr rd, xzr, rm). Not valid for sp.
func (a *a64asm) mov(rd, rm int) {
	a.emit32(0xaa0003e0 | uint32(rm)<<16 | uint32(rd))
}

func (a *a64asm) movSP(rd, rn int) {
	a.addImm(rd, rn, 0)
}

func (a *a64asm) movzW(rd int, imm uint16) {
	a.emit32(0x52800000 | uint32(imm)<<5 | uint32(rd))
}

// movImm materializes a 64-bit constant with movz and movk.
func (a *a64asm) movImm(rd int, v uint64) {
	a.emit32(0xd2800000 | uint32(v&0xffff)<<5 | uint32(rd))
	for hw := uint32(1); hw < 4; hw++ {
		chunk := uint32(v>>(16*hw)) & 0xffff
		if chunk != 0 {
			a.emit32(0xf2800000 | hw<<21 | chunk<<5 | uint32(rd))
		}
	}
}

func (a *a64asm) ldr(rt, rn int, off uint32) {
	utils.Assert(off%8 == 0 && off/8 < 1<<12)
	a.emit32(0xf9400000 | (off/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64asm) str(rt, rn int, off uint32) {
	utils.Assert(off%8 == 0 && off/8 < 1<<12)
	a.emit32(0xf9000000 | (off/8)<<10 | uint32(rn)<<5 | uint32(rt))
}

func pairImm(off int32, scale int32) uint32 {
	utils.Assert(off%scale == 0)
	return utils.Bits(uint32(off/scale), 6, 0) << 15
}

// stp/ldp of x registers at [rn, #off].
func (a *a64asm) stp(rt, rt2, rn int, off int32) {
	a.emit32(0xa9000000 | pairImm(off, 8) | uint32(rt2)<<10 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64asm) ldp(rt, rt2, rn int, off int32) {
	a.emit32(0xa9400000 | pairImm(off, 8) | uint32(rt2)<<10 | uint32(rn)<<5 | uint32(rt))
}

// stp rt, rt2, [sp, #-size]!
func (a *a64asm) pushPair(rt, rt2 int, size int32) {
	a.emit32(0xa9800000 | pairImm(-size, 8) | uint32(rt2)<<10 | uint32(sp)<<5 | uint32(rt))
}

// ldp rt, rt2, [sp], #size
func (a *a64asm) popPair(rt, rt2 int, size int32) {
	a.emit32(0xa8c00000 | pairImm(size, 8) | uint32(rt2)<<10 | uint32(sp)<<5 | uint32(rt))
}

// stp/ldp of q registers at [rn, #off].
func (a *a64asm) stpQ(qt, qt2, rn int, off int32) {
	a.emit32(0xad000000 | pairImm(off, 16) | uint32(qt2)<<10 | uint32(rn)<<5 | uint32(qt))
}

func (a *a64asm) ldpQ(qt, qt2, rn int, off int32) {
	a.emit32(0xad400000 | pairImm(off, 16) | uint32(qt2)<<10 | uint32(rn)<<5 | uint32(qt))
}

func (a *a64asm) ldar(rt, rn int) {
	a.emit32(0xc8dffc00 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64asm) stlr(rt, rn int) {
	a.emit32(0xc89ffc00 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64asm) ldaxr(rt, rn int) {
	a.emit32(0xc85ffc00 | uint32(rn)<<5 | uint32(rt))
}

// stlxr ws, xt, [rn]
func (a *a64asm) stlxr(rs, rt, rn int) {
	a.emit32(0xc800fc00 | uint32(rs)<<16 | uint32(rn)<<5 | uint32(rt))
}

func (a *a64asm) clrex() {
	a.emit32(0xd503305f)
}

func (a *a64asm) cbz(rt int, label string) {
	a.fixup(fixupImm19, label)
	a.emit32(0xb4000000 | uint32(rt))
}

func (a *a64asm) cbnz(rt int, label string) {
	a.fixup(fixupImm19, label)
	a.emit32(0xb5000000 | uint32(rt))
}

func (a *a64asm) cbnzW(rt int, label string) {
	a.fixup(fixupImm19, label)
	a.emit32(0x35000000 | uint32(rt))
}

func (a *a64asm) b(label string) {
	a.fixup(fixupImm26, label)
	a.emit32(0x14000000)
}

func (a *a64asm) bl(label string) {
	a.fixup(fixupImm26, label)
	a.emit32(0x94000000)
}

func (a *a64asm) blExternal(name string) {
	a.reloc(RelocCall, External(name), 0)
	a.emit32(0x94000000)
}

func (a *a64asm) br(rn int) {
	a.emit32(0xd61f0000 | uint32(rn)<<5)
}

func (a *a64asm) ret() {
	a.emit32(0xd65f03c0)
}
