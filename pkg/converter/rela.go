package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/stub"
	"github.com/ksco/soda/pkg/utils"
)

// RelaSection collects the relocations against one target section. They
// stay symbolic until ResolveRelocations turns them into Rela records.
type RelaSection struct {
	Chunk
	Target  Chunker
	Pending []stub.Reloc
	Relas   []Rela
}

func NewRelaSection(target Chunker) *RelaSection {
	r := &RelaSection{
		Chunk:  NewChunk(".rela"+target.GetName(), uint32(elf.SHT_RELA), uint64(elf.SHF_INFO_LINK), 8),
		Target: target,
	}
	r.Shdr.EntSize = uint64(RelaSize)
	return r
}

// Add records relocs from a block placed at base in the target section.
func (r *RelaSection) Add(base uint64, relocs []stub.Reloc) {
	for _, rel := range relocs {
		rel.Offset += base
		r.Pending = append(r.Pending, rel)
	}
}

func (r *RelaSection) UpdateShdr(ctx *Context) {
	r.Shdr.Size = uint64(len(r.Pending)) * uint64(RelaSize)
	r.Shdr.Link = uint32(sectionIndex(ctx.Symtab))
	r.Shdr.Info = uint32(sectionIndex(r.Target))
}

func (r *RelaSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[r.Shdr.Offset:]
	for i, rela := range r.Relas {
		utils.Write[Rela](buf[i*RelaSize:], ctx.Order(), rela)
	}
}
