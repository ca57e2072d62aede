package converter

import (
	"debug/elf"
	"encoding/binary"

	"github.com/ksco/soda/pkg/utils"
)

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	o := &OutputEhdr{Chunk: NewChunk("", 0, 0, 8)}
	o.Shdr.Size = uint64(EhdrSize)
	return o
}

func (o *OutputEhdr) Kind() int {
	return ChunkKindHeader
}

func elfData(order binary.ByteOrder) elf.Data {
	if order == binary.BigEndian {
		return elf.ELFDATA2MSB
	}
	return elf.ELFDATA2LSB
}

func (o *OutputEhdr) CopyBuf(ctx *Context) {
	ehdr := Ehdr{}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elfData(ctx.Order()))
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	ehdr.Ident[elf.EI_OSABI] = uint8(elf.ELFOSABI_NONE)
	ehdr.Type = uint16(elf.ET_REL)
	ehdr.Machine = uint16(ctx.Arch.Machine())
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.ShOff = ctx.Shdr.Shdr.Offset
	ehdr.EhSize = uint16(EhdrSize)
	ehdr.ShEntSize = uint16(ShdrSize)
	ehdr.ShNum = uint16(ctx.Shdr.Shdr.Size / uint64(ShdrSize))
	ehdr.ShStrndx = sectionIndex(ctx.ShStrtab)

	utils.Write[Ehdr](ctx.Buf[o.Shdr.Offset:], ctx.Order(), ehdr)
}
