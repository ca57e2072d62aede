package stub

import (
	"debug/elf"
	"encoding/binary"

	"github.com/ksco/soda/pkg/utils"
)

const (
	rax = iota
	rcx
	rdx
	rbx
	rsp
	rbp
	rsi
	rdi
	r8
	r9
	r10
	r11
	r12
	r13
	r14
	r15
)

var x86Int3 = []byte{0xcc}

type x86_64 struct{}

func init() {
	Register(x86_64{})
}

func (x86_64) Name() string                { return "x86_64" }
func (x86_64) Machine() elf.Machine        { return elf.EM_X86_64 }
func (x86_64) Class() elf.Class            { return elf.ELFCLASS64 }
func (x86_64) ByteOrder() binary.ByteOrder { return binary.LittleEndian }
func (x86_64) Align() uint64               { return 16 }

func (x86_64) RelocType(kind RelocKind) (uint32, bool) {
	switch kind {
	case RelocPCRel32:
		return uint32(elf.R_X86_64_PC32), true
	case RelocCall, RelocJump:
		return uint32(elf.R_X86_64_PLT32), true
	case RelocAbs64:
		return uint32(elf.R_X86_64_64), true
	}
	return 0, false
}

// Stub loads the cached address and tail-jumps to it. On a miss it hands
// the lazy table entry to lazy_bind in r11, which is free at call
// boundaries in the SysV ABI.
//
//	mov  r11, [rip + entry]
//	test r11, r11
//	jz   1f
//	jmp  r11
//	1: lea r11, [rip + entry]
//	jmp  lazy_bind
func (x86_64) Stub(sym Symbol, entry int) Plan {
	a := &x86asm{newAssembler()}
	a.movRip(r11, Entry(entry))
	a.testRR(r11)
	a.jcc8(0x74, "miss")
	a.jmpReg(r11)
	a.label("miss")
	a.leaRip(r11, Entry(entry))
	a.emit(0xe9)
	a.reloc(RelocJump, Routine(RoutineLazyBind), -4)
	a.emit32(0)
	a.alignTo(16, x86Int3)
	return a.finish()
}

type x86asm struct {
	*assembler
}

func rex(w bool, reg, rm int) byte {
	b := byte(0x40)
	if w {
		b |= 8
	}
	if reg >= r8 {
		b |= 4
	}
	if rm >= r8 {
		b |= 1
	}
	return b
}

func modrm(mod, reg, rm int) byte {
	return byte(mod<<6 | (reg&7)<<3 | rm&7)
}

func (a *x86asm) push(r int) {
	if r >= r8 {
		a.emit(0x41)
	}
	a.emit(byte(0x50 + r&7))
}

func (a *x86asm) pop(r int) {
	if r >= r8 {
		a.emit(0x41)
	}
	a.emit(byte(0x58 + r&7))
}

func (a *x86asm) ret() {
	a.emit(0xc3)
}

// movRR is mov dst, src.
func (a *x86asm) movRR(dst, src int) {
	a.emit(rex(true, src, dst), 0x89, modrm(3, src, dst))
}

func (a *x86asm) testRR(r int) {
	a.emit(rex(true, r, r), 0x85, modrm(3, r, r))
}

func (a *x86asm) xor32(r int) {
	utils.Assert(r < r8)
	a.emit(0x31, modrm(3, r, r))
}

func (a *x86asm) movImm(r int, v uint64) {
	utils.Assert(r < r8)
	if v <= 0xffffffff {
		a.emit(byte(0xb8 + r))
		a.emit32(uint32(v))
		return
	}
	a.emit(rex(true, 0, r), byte(0xb8+r))
	a.emit64(v)
}

func (a *x86asm) subRsp(n byte) {
	a.emit(0x48, 0x83, 0xec, n)
}

func (a *x86asm) addRsp(n byte) {
	a.emit(0x48, 0x83, 0xc4, n)
}

// rip-relative operand with a PC32 reference to target.
func (a *x86asm) ripOperand(reg int, target Target) {
	a.emit(modrm(0, reg, 5))
	a.reloc(RelocPCRel32, target, -4)
	a.emit32(0)
}

func (a *x86asm) leaRip(reg int, target Target) {
	a.emit(rex(true, reg, 0), 0x8d)
	a.ripOperand(reg, target)
}

func (a *x86asm) movRip(reg int, target Target) {
	a.emit(rex(true, reg, 0), 0x8b)
	a.ripOperand(reg, target)
}

// memOperand encodes [base + disp]; base must not need a SIB byte.
func (a *x86asm) memOperand(reg, base int, disp int8) {
	utils.Assert(base&7 != rsp)
	if disp == 0 && base&7 != rbp {
		a.emit(modrm(0, reg, base))
		return
	}
	a.emit(modrm(1, reg, base), byte(disp))
}

func (a *x86asm) load(dst, base int, disp int8) {
	a.emit(rex(true, dst, base), 0x8b)
	a.memOperand(dst, base, disp)
}

func (a *x86asm) store(base int, disp int8, src int) {
	a.emit(rex(true, src, base), 0x89)
	a.memOperand(src, base, disp)
}

// spOperand encodes [rsp + disp] through a SIB byte.
func (a *x86asm) spOperand(reg int, disp uint32) {
	if disp < 0x80 {
		a.emit(modrm(1, reg, rsp), 0x24, byte(disp))
		return
	}
	a.emit(modrm(2, reg, rsp), 0x24)
	a.emit32(disp)
}

func (a *x86asm) spStore(disp uint32, src int) {
	a.emit(rex(true, src, rsp), 0x89)
	a.spOperand(src, disp)
}

func (a *x86asm) spLoad(dst int, disp uint32) {
	a.emit(rex(true, dst, rsp), 0x8b)
	a.spOperand(dst, disp)
}

// movdqu [rsp + disp], xmmN
func (a *x86asm) spStoreXmm(disp uint32, n int) {
	a.emit(0xf3, 0x0f, 0x7f)
	a.spOperand(n, disp)
}

// movdqu xmmN, [rsp + disp]
func (a *x86asm) spLoadXmm(n int, disp uint32) {
	a.emit(0xf3, 0x0f, 0x6f)
	a.spOperand(n, disp)
}

func (a *x86asm) jcc8(op byte, label string) {
	a.emit(op)
	a.fixup(fixupRel8, label)
	a.emit(0)
}

func (a *x86asm) jmp8(label string) {
	a.jcc8(0xeb, label)
}

func (a *x86asm) jmpReg(r int) {
	if r >= r8 {
		a.emit(0x41)
	}
	a.emit(0xff, modrm(3, 4, r))
}

func (a *x86asm) callLocal(label string) {
	a.emit(0xe8)
	a.fixup(fixupRel32, label)
	a.emit32(0)
}

func (a *x86asm) callExternal(name string) {
	a.emit(0xe8)
	a.reloc(RelocCall, External(name), -4)
	a.emit32(0)
}
