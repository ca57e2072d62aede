package converter

import "github.com/ksco/soda/pkg/utils"

type OutputShdr struct {
	Chunk
}

func NewOutputShdr() *OutputShdr {
	return &OutputShdr{Chunk: NewChunk("", 0, 0, 8)}
}

func (o *OutputShdr) UpdateShdr(ctx *Context) {
	n := uint64(0)
	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			n = uint64(chunk.GetShndx())
		}
	}

	o.Shdr.Size = (n + 1) * uint64(ShdrSize)
}

func (o *OutputShdr) Kind() int {
	return ChunkKindHeader
}

// CopyBuf writes entry 0 as zeros and one entry per indexed chunk. Section
// names must already point into .shstrtab.
func (o *OutputShdr) CopyBuf(ctx *Context) {
	base := ctx.Buf[o.Shdr.Offset:]
	utils.Write[Shdr](base, ctx.Order(), Shdr{})

	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			utils.Write[Shdr](base[chunk.GetShndx()*int64(ShdrSize):], ctx.Order(), *chunk.GetShdr())
		}
	}
}
