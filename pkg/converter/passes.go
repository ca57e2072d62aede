package converter

import (
	"debug/elf"
	"fmt"
	"math"

	"github.com/davecgh/go-spew/spew"
	"github.com/ksco/soda/pkg/stub"
	"github.com/ksco/soda/pkg/utils"
)

// Limits of the output format. They are variables so tests can lower them.
var (
	maxSectionSize uint64 = math.MaxInt32
	maxStrtabSize  uint64 = math.MaxUint32
	maxSymbols     uint64 = math.MaxUint32
)

const runtimeBlock = "runtime"

func ReadLibrary(ctx *Context) error {
	so, err := ReadSharedFile(ctx.File)
	if err != nil {
		return err
	}
	ctx.So = so
	ctx.LibName = so.LibraryName()
	if so.Soname == "" {
		utils.Warnf("%s has no DT_SONAME, the stubs will load %q", ctx.File.Name, ctx.LibName)
	}

	arch, err := stub.Lookup(elf.Machine(so.Ehdr.Machine), so.Class, elfData(so.Order))
	if err != nil {
		return err
	}
	ctx.Arch = arch
	utils.Infof("%s: %s library %s", ctx.File.Name, arch.Name(), ctx.LibName)
	return nil
}

func SelectSymbols(ctx *Context) error {
	ctx.Exports, ctx.Warnings = SelectExports(ctx.So)
	dropRuntimeNames(ctx)
	for _, w := range ctx.Warnings {
		utils.Warnf("%v", w)
	}
	utils.Infof("%d exports selected, %d skipped", len(ctx.Exports), len(ctx.Warnings))
	return nil
}

// dropRuntimeNames leaves out exports that share a name with a libc
// function the runtime calls, so those calls never reach a stub.
func dropRuntimeNames(ctx *Context) {
	rt := stub.Runtime{}
	for _, sym := range ctx.Exports {
		if sym.Version != "" {
			rt.Versioned = true
		}
		if !sym.IsFunction() {
			rt.Data = append(rt.Data, sym.Stub())
		}
	}

	reserved := utils.NewMapSet[string]()
	for _, name := range stub.Externals(ctx.Arch.Runtime(rt)) {
		reserved.Add(name)
	}
	ctx.Exports = utils.RemoveIf[*ExportedSymbol](ctx.Exports, func(sym *ExportedSymbol) bool {
		if !reserved.Contains(sym.Name) {
			return false
		}
		ctx.Warnings = append(ctx.Warnings, SkippedSymbolWarning{Name: sym.Name, Type: sym.Type(), Reserved: true})
		return true
	})
}

func CreateSyntheticSections(ctx *Context) error {
	push := func(chunk Chunker) Chunker {
		ctx.Chunks = append(ctx.Chunks, chunk)
		return chunk
	}

	ctx.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	ctx.Text = push(NewOutputSection(".text", elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, ctx.Arch.Align())).(*OutputSection)
	ctx.Rodata = push(NewStringSection(".rodata", elf.SHT_PROGBITS, elf.SHF_ALLOC)).(*StringSection)
	ctx.LazyTable = push(NewLazyTableSection()).(*LazyTableSection)
	ctx.Bss = push(NewOutputSection(".bss", elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE, wordSize)).(*OutputSection)
	ctx.Bss.Shdr.Size = wordSize
	ctx.InitArray = push(NewOutputSection(".init_array.00101", elf.SHT_INIT_ARRAY, elf.SHF_ALLOC|elf.SHF_WRITE, wordSize)).(*OutputSection)
	ctx.RelaText = push(NewRelaSection(ctx.Text)).(*RelaSection)
	ctx.RelaData = push(NewRelaSection(ctx.LazyTable)).(*RelaSection)
	ctx.RelaInit = push(NewRelaSection(ctx.InitArray)).(*RelaSection)
	ctx.Symtab = push(NewSymtabSection()).(*SymtabSection)
	ctx.Strtab = push(NewStringSection(".strtab", elf.SHT_STRTAB, 0)).(*StringSection)
	ctx.Note = push(NewOutputSection(".note.GNU-stack", elf.SHT_PROGBITS, 0, 1)).(*OutputSection)
	ctx.ShStrtab = push(NewStringSection(".shstrtab", elf.SHT_STRTAB, 0)).(*StringSection)
	ctx.Shdr = push(NewOutputShdr()).(*OutputShdr)
	return nil
}

// PlanCode generates the runtime and the stubs, places data slots and
// collects every relocation in symbolic form.
func PlanCode(ctx *Context) error {
	var data []stub.Symbol
	versioned := false
	for _, sym := range ctx.Exports {
		if sym.Version != "" {
			versioned = true
		}
		if !sym.IsFunction() {
			ctx.LazyTable.AddSlot(sym)
			data = append(data, sym.Stub())
		}
	}

	runtime := ctx.Arch.Runtime(stub.Runtime{Data: data, Versioned: versioned})
	ctx.Runtime = ctx.Text.AddBlock(runtimeBlock, runtime)
	plans := []stub.Plan{runtime}
	if utils.GetLogLevel() >= utils.LevelTrace {
		utils.Tracef("runtime routines:\n%s", spew.Sdump(runtime.Labels))
	}

	for _, sym := range ctx.Exports {
		if !sym.IsFunction() {
			continue
		}
		ctx.LazyTable.AddEntry(sym)
		b := ctx.Text.AddBlock(sym.Name, ctx.Arch.Stub(sym.Stub(), sym.Entry))
		sym.Value = b.Offset
		sym.StubSize = b.Size()
		plans = append(plans, b.Plan)
	}
	ctx.Externals = stub.Externals(plans...)

	ctor := ctx.InitArray.AddBlock(stub.RoutineInit, stub.Plan{
		Code: make([]byte, wordSize),
		Relocs: []stub.Reloc{{
			Kind:   stub.RelocAbs64,
			Target: stub.Routine(stub.RoutineInit),
		}},
	})

	for _, b := range ctx.Text.Members {
		ctx.RelaText.Add(b.Offset, b.Plan.Relocs)
	}
	ctx.RelaInit.Add(ctor.Offset, ctor.Plan.Relocs)
	ctx.RelaData.Add(0, ctx.LazyTable.Relocs())

	ctx.Rodata.Insert(ctx.LibName)
	for _, rs := range ctx.RelaSections() {
		for _, r := range rs.Pending {
			if r.Target.Kind == stub.TargetString {
				ctx.Rodata.Insert(r.Target.Name)
			}
		}
	}
	return nil
}

// LayoutSections drops empty synthetic sections and numbers the rest.
func LayoutSections(ctx *Context) error {
	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	ctx.Chunks = utils.RemoveIf[Chunker](ctx.Chunks, func(chunk Chunker) bool {
		return chunk.Kind() == ChunkKindSynthetic && chunk.GetShdr().Size == 0
	})

	shndx := int64(1)
	for i := 0; i < len(ctx.Chunks); i++ {
		if ctx.Chunks[i].Kind() != ChunkKindHeader {
			ctx.Chunks[i].SetShndx(shndx)
			ctx.ShStrtab.Insert(ctx.Chunks[i].GetName())
			shndx++
		}
	}
	return nil
}

func BuildSymtab(ctx *Context) error {
	s := ctx.Symtab
	s.AddFile(ctx.LibName)
	for _, c := range []Chunker{ctx.Text, ctx.Rodata, ctx.LazyTable, ctx.Bss, ctx.InitArray} {
		s.AddSection(c)
	}
	for _, l := range ctx.Runtime.Plan.Labels {
		s.AddLocal(l.Name, elf.STT_FUNC, ctx.Text, ctx.Runtime.Offset+l.Offset, l.Size)
	}

	s.StartGlobals()
	for _, sym := range ctx.Exports {
		if sym.IsFunction() {
			s.AddGlobal(sym.Name, sym.Bind(), sym.Type(), ctx.Text, sym.Value, sym.StubSize)
		} else {
			s.AddGlobal(sym.Name, sym.Bind(), sym.Type(), ctx.LazyTable, sym.Value, sym.Size)
		}
	}
	for _, name := range ctx.Externals {
		s.AddExternal(name)
	}

	for _, name := range s.Names {
		ctx.Strtab.Insert(name)
	}
	return nil
}

// ResolveRelocations turns symbolic targets into symbol indices and
// addends. Local targets go through section symbols.
func ResolveRelocations(ctx *Context) error {
	for _, rs := range ctx.RelaSections() {
		rs.Relas = rs.Relas[:0]
		for _, r := range rs.Pending {
			typ, ok := ctx.Arch.RelocType(r.Kind)
			if !ok {
				return &EmitError{
					Kind:    ErrUnsupportedRelocationType,
					Section: rs.Target.GetName(),
					Symbol:  r.Target.String(),
					Detail:  fmt.Sprintf("%s has no %s relocation", ctx.Arch.Name(), r.Kind),
				}
			}

			sym, addend, err := resolveTarget(ctx, r.Target)
			if err != nil {
				return err
			}
			rs.Relas = append(rs.Relas, Rela{
				Offset: r.Offset,
				Info:   elf.R_INFO(sym, typ),
				Addend: r.Addend + addend,
			})
		}
	}
	return nil
}

func resolveTarget(ctx *Context, t stub.Target) (uint32, int64, error) {
	section := func(c Chunker, offset uint64) (uint32, int64, error) {
		idx, ok := ctx.Symtab.SectionSymbol(c)
		if !ok {
			return 0, 0, fmt.Errorf("%s: no symbol for section %s", t, c.GetName())
		}
		return idx, int64(offset), nil
	}

	switch t.Kind {
	case stub.TargetEntry:
		return section(ctx.LazyTable, EntryOffset(t.Index))
	case stub.TargetSlot:
		if t.Index < 0 || t.Index >= len(ctx.LazyTable.Slots) {
			return 0, 0, fmt.Errorf("%s: no such data slot", t)
		}
		return section(ctx.LazyTable, ctx.LazyTable.SlotOffset(t.Index))
	case stub.TargetHandle:
		return section(ctx.Bss, 0)
	case stub.TargetString:
		return section(ctx.Rodata, uint64(ctx.Rodata.Offset(t.Name)))
	case stub.TargetLibrary:
		return section(ctx.Rodata, uint64(ctx.Rodata.Offset(ctx.LibName)))
	case stub.TargetRoutine:
		off, ok := ctx.Text.Routine(t.Name)
		if !ok {
			return 0, 0, fmt.Errorf("%s: no such routine", t)
		}
		return section(ctx.Text, off)
	case stub.TargetExternal:
		idx, ok := ctx.Symtab.External(t.Name)
		if !ok {
			return 0, 0, fmt.Errorf("%s: not in the symbol table", t)
		}
		return idx, 0, nil
	}
	return 0, 0, fmt.Errorf("%s: unknown target", t)
}

func FinalizeLayout(ctx *Context) error {
	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}
	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			chunk.GetShdr().Name = ctx.ShStrtab.Offset(chunk.GetName())
		}
	}

	SetOutputOffsets(ctx)
	return CheckLimits(ctx)
}

// SetOutputOffsets places chunks in order. Nothing is loaded at a fixed
// address, so only file offsets are assigned.
func SetOutputOffsets(ctx *Context) uint64 {
	fileoff := uint64(0)
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		fileoff = utils.AlignTo(fileoff, shdr.AddrAlign)
		shdr.Offset = fileoff
		if shdr.Type != uint32(elf.SHT_NOBITS) {
			fileoff += shdr.Size
		}
	}
	return fileoff
}

func CheckLimits(ctx *Context) error {
	overflow := func(name, format string, args ...any) error {
		return &EmitError{Kind: ErrSectionOverflow, Section: name, Detail: fmt.Sprintf(format, args...)}
	}

	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		switch {
		case shdr.Flags&uint64(elf.SHF_ALLOC) != 0 && shdr.Size > maxSectionSize:
			return overflow(chunk.GetName(), "%d bytes, limit %d", shdr.Size, maxSectionSize)
		case shdr.Type == uint32(elf.SHT_STRTAB) && shdr.Size > maxStrtabSize:
			return overflow(chunk.GetName(), "%d bytes, limit %d", shdr.Size, maxStrtabSize)
		}
	}

	if n := uint64(len(ctx.Symtab.Syms)); n > maxSymbols {
		return overflow(ctx.Symtab.Name, "%d symbols, limit %d", n, maxSymbols)
	}
	if n := ctx.Shdr.Shdr.Size / uint64(ShdrSize); n >= uint64(elf.SHN_LORESERVE) {
		return overflow("section header table", "%d sections", n)
	}
	return nil
}

func CopyChunks(ctx *Context) error {
	size := uint64(0)
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		if shdr.Type != uint32(elf.SHT_NOBITS) {
			size = max(size, shdr.Offset+shdr.Size)
		}
	}

	ctx.Buf = make([]byte, size)
	for _, chunk := range ctx.Chunks {
		chunk.CopyBuf(ctx)
	}
	return nil
}
