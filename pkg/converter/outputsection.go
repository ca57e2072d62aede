package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/stub"
	"github.com/ksco/soda/pkg/utils"
)

// Block is a piece of generated code or data placed in an OutputSection.
type Block struct {
	Name   string
	Offset uint64
	Plan   stub.Plan
}

func (b *Block) Size() uint64 {
	return uint64(len(b.Plan.Code))
}

// OutputSection holds generated blocks back to back, each aligned to the
// section's alignment.
type OutputSection struct {
	Chunk
	Members []*Block
}

func NewOutputSection(name string, typ elf.SectionType, flags elf.SectionFlag, align uint64) *OutputSection {
	return &OutputSection{Chunk: NewChunk(name, uint32(typ), uint64(flags), align)}
}

func (o *OutputSection) Kind() int {
	return ChunkKindOutputSection
}

func (o *OutputSection) AddBlock(name string, plan stub.Plan) *Block {
	b := &Block{
		Name:   name,
		Offset: utils.AlignTo(o.Shdr.Size, o.Shdr.AddrAlign),
		Plan:   plan,
	}
	o.Members = append(o.Members, b)
	o.Shdr.Size = b.Offset + b.Size()
	return b
}

// Routine returns the offset of a runtime routine label.
func (o *OutputSection) Routine(name string) (uint64, bool) {
	for _, b := range o.Members {
		for _, l := range b.Plan.Labels {
			if l.Name == name {
				return b.Offset + l.Offset, true
			}
		}
	}
	return 0, false
}

func (o *OutputSection) CopyBuf(ctx *Context) {
	if o.Shdr.Type == uint32(elf.SHT_NOBITS) {
		return
	}

	buf := ctx.Buf[o.Shdr.Offset:]
	for i := 0; i < len(o.Members); i++ {
		b := o.Members[i]
		copy(buf[b.Offset:], b.Plan.Code)

		thisEnd := b.Offset + b.Size()
		nextStart := o.Shdr.Size
		if i < len(o.Members)-1 {
			nextStart = o.Members[i+1].Offset
		}

		for j := thisEnd; j < nextStart; j++ {
			buf[j] = 0
		}
	}
}
