package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/stub"
	"github.com/ksco/soda/pkg/utils"
)

const (
	wordSize  = 8
	entrySize = stub.EntryWords * wordSize
)

// LazyTableSection is .data: one entry per function export, then one
// slot per data export. Entries start zeroed; the name and version
// words are filled in by relocations.
type LazyTableSection struct {
	Chunk
	Entries []*ExportedSymbol
	Slots   []*ExportedSymbol
}

func NewLazyTableSection() *LazyTableSection {
	return &LazyTableSection{
		Chunk: NewChunk(".data", uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC|elf.SHF_WRITE), wordSize),
	}
}

func (g *LazyTableSection) AddEntry(sym *ExportedSymbol) {
	sym.Entry = len(g.Entries)
	g.Entries = append(g.Entries, sym)
}

func (g *LazyTableSection) AddSlot(sym *ExportedSymbol) {
	sym.Entry = len(g.Slots)
	g.Slots = append(g.Slots, sym)
}

func EntryOffset(idx int) uint64 {
	return uint64(idx) * entrySize
}

func slotAlign(size uint64) uint64 {
	if size > 16 {
		return 16
	}
	return utils.BitCeil(max(size, 1))
}

func (g *LazyTableSection) UpdateShdr(ctx *Context) {
	offset := EntryOffset(len(g.Entries))
	for _, sym := range g.Slots {
		align := slotAlign(sym.Size)
		offset = utils.AlignTo(offset, align)
		sym.Value = offset
		// Zero-sized objects still get an address of their own.
		offset += max(sym.Size, 1)
		if align > g.Shdr.AddrAlign {
			g.Shdr.AddrAlign = align
		}
	}
	g.Shdr.Size = offset
}

// SlotOffset is only valid after UpdateShdr.
func (g *LazyTableSection) SlotOffset(idx int) uint64 {
	return g.Slots[idx].Value
}

// Relocs lists the entry words that point into .rodata.
func (g *LazyTableSection) Relocs() []stub.Reloc {
	var relocs []stub.Reloc
	for i, sym := range g.Entries {
		base := EntryOffset(i)
		relocs = append(relocs, stub.Reloc{
			Offset: base + stub.EntryNameWord*wordSize,
			Kind:   stub.RelocAbs64,
			Target: stub.String(sym.Name),
		})
		if sym.Version != "" {
			relocs = append(relocs, stub.Reloc{
				Offset: base + stub.EntryVersionWord*wordSize,
				Kind:   stub.RelocAbs64,
				Target: stub.String(sym.Version),
			})
		}
	}
	return relocs
}

func (g *LazyTableSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	for i := uint64(0); i < g.Shdr.Size; i++ {
		buf[i] = 0
	}
}
