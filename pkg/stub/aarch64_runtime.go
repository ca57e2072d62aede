package stub

const (
	a64GprSave  = 0
	a64X16Save  = 72
	a64QSave    = 80
	a64FrameLen = 0xd0
)

func (aarch64) Runtime(rt Runtime) Plan {
	a := &a64asm{newAssembler()}
	a64LazyBind(a)
	a64Resolve(a, rt.Versioned)
	a64Open(a)
	a64FatalLibrary(a)
	a64FatalSymbol(a)
	a64Init(a, rt.Data)
	a.alignTo(16, a64Brk)
	return a.finish()
}

// lazy_bind(x16 = entry) preserves x0-x8 and q0-q7 across the resolver
// call and branches to the resolved address through x17.
func a64LazyBind(a *a64asm) {
	a.routine(RoutineLazyBind)
	a.pushPair(x29, x30, 16)
	a.movSP(x29, sp)
	a.subImm(sp, sp, a64FrameLen)
	for i := 0; i < 8; i += 2 {
		a.stp(i, i+1, sp, int32(a64GprSave+8*i))
	}
	a.stp(8, x16, sp, a64X16Save-8)
	for i := 0; i < 8; i += 2 {
		a.stpQ(i, i+1, sp, int32(a64QSave+16*i))
	}

	a.ldr(1, x16, 8*EntryNameWord)
	a.ldr(2, x16, 8*EntryVersionWord)
	a.adr(0, Handle())
	a.bl(RoutineResolve)

	a.ldr(x16, sp, a64X16Save)
	a.stlr(0, x16)
	a.mov(x17, 0)

	for i := 0; i < 8; i += 2 {
		a.ldpQ(i, i+1, sp, int32(a64QSave+16*i))
	}
	for i := 0; i < 8; i += 2 {
		a.ldp(i, i+1, sp, int32(a64GprSave+8*i))
	}
	a.ldp(8, x16, sp, a64X16Save-8)
	a.addImm(sp, sp, a64FrameLen)
	a.popPair(x29, x30, 16)
	a.br(x17)
}

// resolve(x0 = handle slot, x1 = name, x2 = version or 0)
func a64Resolve(a *a64asm, versioned bool) {
	a.routine(RoutineResolve)
	a.pushPair(x29, x30, 32)
	a.movSP(x29, sp)
	a.stp(x19, x20, sp, 16)
	a.mov(x19, 1)
	a.mov(x20, 2)
	a.bl(RoutineOpen)
	a.mov(1, x19)
	if versioned {
		a.cbz(x20, "resolve.plain")
		a.mov(2, x20)
		a.blExternal("dlvsym")
		a.b("resolve.check")
		a.label("resolve.plain")
	}
	a.blExternal("dlsym")
	if versioned {
		a.label("resolve.check")
	}
	a.cbz(0, "resolve.fail")
	a.ldp(x19, x20, sp, 16)
	a.popPair(x29, x30, 32)
	a.ret()

	a.label("resolve.fail")
	a.mov(0, x19)
	a.bl(RoutineFatalSymbol)
}

// open(x0 = handle slot) returns the handle, publishing a fresh one with
// a load-acquire/store-release exclusive pair.
func a64Open(a *a64asm) {
	a.routine(RoutineOpen)
	a.ldar(1, 0)
	a.cbz(1, "open.slow")
	a.mov(0, 1)
	a.ret()

	a.label("open.slow")
	a.pushPair(x29, x30, 32)
	a.movSP(x29, sp)
	a.str(x19, sp, 16)
	a.mov(x19, 0)
	a.adr(0, LibraryName())
	a.movzW(1, rtldNow)
	a.blExternal("dlopen")
	a.cbz(0, "open.fail")

	a.label("open.retry")
	a.ldaxr(1, x19)
	a.cbnz(1, "open.lost")
	a.stlxr(2, 0, x19)
	a.cbnzW(2, "open.retry")
	a.b("open.done")

	a.label("open.lost")
	a.clrex()
	a.mov(0, 1)

	a.label("open.done")
	a.ldr(x19, sp, 16)
	a.popPair(x29, x30, 32)
	a.ret()

	a.label("open.fail")
	a.bl(RoutineFatalLib)
}

func a64FatalLibrary(a *a64asm) {
	a.routine(RoutineFatalLib)
	a.pushPair(x29, x30, 16)
	a.movSP(x29, sp)
	a.blExternal("dlerror")
	a.mov(3, 0)
	a.movzW(0, 2)
	a.adr(1, String(FormatLibraryError))
	a.adr(2, LibraryName())
	a.blExternal("dprintf")
	a.blExternal("abort")
}

// fatal_symbol(x0 = name)
func a64FatalSymbol(a *a64asm) {
	a.routine(RoutineFatalSymbol)
	a.pushPair(x29, x30, 32)
	a.movSP(x29, sp)
	a.str(x19, sp, 16)
	a.mov(x19, 0)
	a.blExternal("dlerror")
	a.mov(4, 0)
	a.movzW(0, 2)
	a.adr(1, String(FormatSymbolError))
	a.mov(2, x19)
	a.adr(3, LibraryName())
	a.blExternal("dprintf")
	a.blExternal("abort")
}

// init copies data objects once at startup, like the x86-64 version.
func a64Init(a *a64asm, data []Symbol) {
	a.routine(RoutineInit)
	a.pushPair(x29, x30, 16)
	a.movSP(x29, sp)
	a.adr(0, Handle())
	a.bl(RoutineOpen)
	for i, sym := range data {
		a.adr(0, Handle())
		a.adr(1, String(sym.Name))
		if sym.Version != "" {
			a.adr(2, String(sym.Version))
		} else {
			a.mov(2, xzr)
		}
		a.bl(RoutineResolve)
		a.mov(1, 0)
		a.adr(0, Slot(i))
		a.movImm(2, sym.Size)
		a.blExternal("memcpy")
	}
	a.popPair(x29, x30, 16)
	a.ret()
}
