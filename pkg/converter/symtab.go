package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/utils"
)

// SymtabSection is .symtab. Names are kept as strings until the string
// table has been laid out.
type SymtabSection struct {
	Chunk
	Syms        []Sym
	Names       []string
	FirstGlobal int

	sectionSyms map[Chunker]uint32
	externals   map[string]uint32
}

func NewSymtabSection() *SymtabSection {
	s := &SymtabSection{
		Chunk:       NewChunk(".symtab", uint32(elf.SHT_SYMTAB), 0, 8),
		sectionSyms: make(map[Chunker]uint32),
		externals:   make(map[string]uint32),
	}
	s.Shdr.EntSize = uint64(SymSize)
	s.add("", Sym{})
	return s
}

func (s *SymtabSection) add(name string, sym Sym) uint32 {
	idx := uint32(len(s.Syms))
	s.Syms = append(s.Syms, sym)
	s.Names = append(s.Names, name)
	return idx
}

func (s *SymtabSection) AddFile(name string) {
	s.add(name, NewSym(0, elf.STB_LOCAL, elf.STT_FILE, uint16(elf.SHN_ABS), 0, 0))
}

// AddSection adds the STT_SECTION symbol relocations use to reach c.
// Chunks without a section index are skipped.
func (s *SymtabSection) AddSection(c Chunker) {
	if sectionIndex(c) == 0 {
		return
	}
	s.sectionSyms[c] = s.add("", NewSym(0, elf.STB_LOCAL, elf.STT_SECTION, sectionIndex(c), 0, 0))
}

func (s *SymtabSection) AddLocal(name string, typ elf.SymType, c Chunker, val, size uint64) {
	utils.Assert(s.FirstGlobal == 0)
	s.add(name, NewSym(0, elf.STB_LOCAL, typ, sectionIndex(c), val, size))
}

// StartGlobals marks the end of the local symbols.
func (s *SymtabSection) StartGlobals() {
	s.FirstGlobal = len(s.Syms)
}

func (s *SymtabSection) AddGlobal(name string, bind elf.SymBind, typ elf.SymType, c Chunker, val, size uint64) {
	utils.Assert(s.FirstGlobal > 0)
	s.add(name, NewSym(0, bind, typ, sectionIndex(c), val, size))
}

func (s *SymtabSection) AddExternal(name string) {
	utils.Assert(s.FirstGlobal > 0)
	s.externals[name] = s.add(name, NewSym(0, elf.STB_GLOBAL, elf.STT_NOTYPE, uint16(elf.SHN_UNDEF), 0, 0))
}

func (s *SymtabSection) SectionSymbol(c Chunker) (uint32, bool) {
	idx, ok := s.sectionSyms[c]
	return idx, ok
}

func (s *SymtabSection) External(name string) (uint32, bool) {
	idx, ok := s.externals[name]
	return idx, ok
}

func (s *SymtabSection) UpdateShdr(ctx *Context) {
	s.Shdr.Size = uint64(len(s.Syms)) * uint64(SymSize)
	s.Shdr.Link = uint32(sectionIndex(ctx.Strtab))
	s.Shdr.Info = uint32(s.FirstGlobal)
}

func (s *SymtabSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[s.Shdr.Offset:]
	for i, sym := range s.Syms {
		sym.Name = ctx.Strtab.Offset(s.Names[i])
		utils.Write[Sym](buf[i*SymSize:], ctx.Order(), sym)
	}
}
