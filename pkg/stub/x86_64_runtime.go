package stub

// lazy_bind frame, relative to the realigned rsp.
const (
	x86GprSave  = 0x00
	x86R11Save  = 0x40
	x86XmmSave  = 0x50
	x86FrameLen = 0xd0
)

// Argument registers of the SysV ABI plus rax, which carries the vector
// register count for variadic callees.
var x86ArgRegs = []int{rax, rdi, rsi, rdx, rcx, r8, r9, r10}

func (x86_64) Runtime(rt Runtime) Plan {
	a := &x86asm{newAssembler()}
	x86LazyBind(a)
	x86Resolve(a, rt.Versioned)
	x86Open(a)
	x86FatalLibrary(a)
	x86FatalSymbol(a)
	x86Init(a, rt.Data)
	a.alignTo(16, x86Int3)
	return a.finish()
}

// lazy_bind(r11 = entry) saves every argument register, resolves the
// entry, caches the address and jumps to it with the caller's arguments.
func x86LazyBind(a *x86asm) {
	a.routine(RoutineLazyBind)
	a.push(rbp)
	a.movRR(rbp, rsp)
	a.emit(0x48, 0x83, 0xe4, 0xf0) // and rsp, -16
	a.emit(0x48, 0x81, 0xec)       // sub rsp, frame
	a.emit32(x86FrameLen)

	for i, r := range x86ArgRegs {
		a.spStore(uint32(x86GprSave+8*i), r)
	}
	a.spStore(x86R11Save, r11)
	for i := 0; i < 8; i++ {
		a.spStoreXmm(uint32(x86XmmSave+16*i), i)
	}

	a.leaRip(rdi, Handle())
	a.load(rsi, r11, 8*EntryNameWord)
	a.load(rdx, r11, 8*EntryVersionWord)
	a.callLocal(RoutineResolve)

	a.spLoad(r11, x86R11Save)
	a.store(r11, 8*EntryCacheWord, rax)
	a.movRR(r11, rax)

	for i := 0; i < 8; i++ {
		a.spLoadXmm(i, uint32(x86XmmSave+16*i))
	}
	for i, r := range x86ArgRegs {
		a.spLoad(r, uint32(x86GprSave+8*i))
	}
	a.movRR(rsp, rbp)
	a.pop(rbp)
	a.jmpReg(r11)
}

// resolve(rdi = handle slot, rsi = name, rdx = version or 0) returns the
// symbol address or aborts.
func x86Resolve(a *x86asm, versioned bool) {
	a.routine(RoutineResolve)
	a.push(rbx)
	a.push(r12)
	a.subRsp(8)
	a.movRR(rbx, rsi)
	a.movRR(r12, rdx)
	a.callLocal(RoutineOpen)
	a.movRR(rdi, rax)
	a.movRR(rsi, rbx)
	if versioned {
		a.testRR(r12)
		a.jcc8(0x74, "resolve.plain")
		a.movRR(rdx, r12)
		a.callExternal("dlvsym")
		a.jmp8("resolve.check")
		a.label("resolve.plain")
	}
	a.callExternal("dlsym")
	if versioned {
		a.label("resolve.check")
	}
	a.testRR(rax)
	a.jcc8(0x74, "resolve.fail")
	a.addRsp(8)
	a.pop(r12)
	a.pop(rbx)
	a.ret()

	a.label("resolve.fail")
	a.movRR(rdi, rbx)
	a.callLocal(RoutineFatalSymbol)
}

// open(rdi = handle slot) returns the library handle. The first caller to
// publish with cmpxchg wins; a loser adopts the winner's handle.
func x86Open(a *x86asm) {
	a.routine(RoutineOpen)
	a.load(rax, rdi, 0)
	a.testRR(rax)
	a.jcc8(0x74, "open.slow")
	a.ret()

	a.label("open.slow")
	a.push(rbx)
	a.movRR(rbx, rdi)
	a.leaRip(rdi, LibraryName())
	a.movImm(rsi, rtldNow)
	a.callExternal("dlopen")
	a.testRR(rax)
	a.jcc8(0x74, "open.fail")
	a.movRR(rcx, rax)
	a.xor32(rax)
	a.emit(0xf0, rex(true, rcx, rbx), 0x0f, 0xb1, modrm(0, rcx, rbx)) // lock cmpxchg [rbx], rcx
	a.jcc8(0x75, "open.done")
	a.movRR(rax, rcx)
	a.label("open.done")
	a.pop(rbx)
	a.ret()

	a.label("open.fail")
	a.callLocal(RoutineFatalLib)
}

func x86FatalLibrary(a *x86asm) {
	a.routine(RoutineFatalLib)
	a.subRsp(8)
	a.callExternal("dlerror")
	a.movRR(rcx, rax)
	a.movImm(rdi, 2)
	a.leaRip(rsi, String(FormatLibraryError))
	a.leaRip(rdx, LibraryName())
	a.xor32(rax)
	a.callExternal("dprintf")
	a.callExternal("abort")
}

// fatal_symbol(rdi = name)
func x86FatalSymbol(a *x86asm) {
	a.routine(RoutineFatalSymbol)
	a.push(rbx)
	a.movRR(rbx, rdi)
	a.callExternal("dlerror")
	a.movRR(r8, rax)
	a.movImm(rdi, 2)
	a.leaRip(rsi, String(FormatSymbolError))
	a.movRR(rdx, rbx)
	a.leaRip(rcx, LibraryName())
	a.xor32(rax)
	a.callExternal("dprintf")
	a.callExternal("abort")
}

// init opens the library and copies every data object into its slot.
// The copy is taken once: later writes on either side are not shared.
func x86Init(a *x86asm, data []Symbol) {
	a.routine(RoutineInit)
	a.push(rbx)
	a.leaRip(rdi, Handle())
	a.callLocal(RoutineOpen)
	for i, sym := range data {
		a.leaRip(rdi, Handle())
		a.leaRip(rsi, String(sym.Name))
		if sym.Version != "" {
			a.leaRip(rdx, String(sym.Version))
		} else {
			a.xor32(rdx)
		}
		a.callLocal(RoutineResolve)
		a.leaRip(rdi, Slot(i))
		a.movRR(rsi, rax)
		a.movImm(rdx, sym.Size)
		a.callExternal("memcpy")
	}
	a.pop(rbx)
	a.ret()
}
