package converter

import (
	"debug/elf"
	"encoding/binary"
	"unsafe"

	"github.com/ksco/soda/pkg/utils"
)

// InputFile is the container-level view of an ELF image: header, section
// and program headers, normalized to 64-bit records.
type InputFile struct {
	File        *File
	Class       elf.Class
	Order       binary.ByteOrder
	Ehdr        Ehdr
	ElfSections []Shdr
	Phdrs       []Phdr
	ShStrtab    []byte
}

func NewInputFile(file *File) (*InputFile, error) {
	contents := file.Contents
	if len(contents) < elf.EI_NIDENT || !CheckMagic(contents) {
		return nil, formatError(ErrNotRecognized, "", "%s: not an ELF file", file.Name)
	}

	f := &InputFile{File: file, Class: elf.Class(contents[elf.EI_CLASS])}
	if f.Class != elf.ELFCLASS32 && f.Class != elf.ELFCLASS64 {
		return nil, formatError(ErrUnsupportedWordSize, "", "%s: EI_CLASS %d", file.Name, contents[elf.EI_CLASS])
	}

	order, ok := identOrder(contents)
	if !ok {
		return nil, formatError(ErrNotRecognized, "", "%s: EI_DATA %d", file.Name, contents[elf.EI_DATA])
	}
	f.Order = order

	if err := f.readEhdr(); err != nil {
		return nil, err
	}
	if err := f.readSectionHeaders(); err != nil {
		return nil, err
	}
	if err := f.readProgramHeaders(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *InputFile) Is64() bool {
	return f.Class == elf.ELFCLASS64
}

func (f *InputFile) WordSize() int {
	if f.Is64() {
		return 8
	}
	return 4
}

func (f *InputFile) readEhdr() error {
	contents := f.File.Contents
	if f.Is64() {
		if len(contents) < int(unsafe.Sizeof(elf.Header64{})) {
			return formatError(ErrTruncatedFile, "ELF header", "file is %d bytes", len(contents))
		}
		h := utils.Read[elf.Header64](contents, f.Order)
		f.Ehdr = Ehdr{
			Ident: h.Ident, Type: h.Type, Machine: h.Machine, Version: h.Version,
			Entry: h.Entry, PhOff: h.Phoff, ShOff: h.Shoff, Flags: h.Flags,
			EhSize: h.Ehsize, PhEntSize: h.Phentsize, PhNum: h.Phnum,
			ShEntSize: h.Shentsize, ShNum: h.Shnum, ShStrndx: h.Shstrndx,
		}
		return nil
	}

	if len(contents) < int(unsafe.Sizeof(elf.Header32{})) {
		return formatError(ErrTruncatedFile, "ELF header", "file is %d bytes", len(contents))
	}
	h := utils.Read[elf.Header32](contents, f.Order)
	f.Ehdr = Ehdr{
		Ident: h.Ident, Type: h.Type, Machine: h.Machine, Version: h.Version,
		Entry: uint64(h.Entry), PhOff: uint64(h.Phoff), ShOff: uint64(h.Shoff), Flags: h.Flags,
		EhSize: h.Ehsize, PhEntSize: h.Phentsize, PhNum: h.Phnum,
		ShEntSize: h.Shentsize, ShNum: h.Shnum, ShStrndx: h.Shstrndx,
	}
	return nil
}

func (f *InputFile) shdrSize() uint64 {
	if f.Is64() {
		return uint64(unsafe.Sizeof(elf.Section64{}))
	}
	return uint64(unsafe.Sizeof(elf.Section32{}))
}

func (f *InputFile) readShdr(data []byte) Shdr {
	if f.Is64() {
		s := utils.Read[elf.Section64](data, f.Order)
		return Shdr{
			Name: s.Name, Type: s.Type, Flags: s.Flags, Addr: s.Addr,
			Offset: s.Off, Size: s.Size, Link: s.Link, Info: s.Info,
			AddrAlign: s.Addralign, EntSize: s.Entsize,
		}
	}
	s := utils.Read[elf.Section32](data, f.Order)
	return Shdr{
		Name: s.Name, Type: s.Type, Flags: uint64(s.Flags), Addr: uint64(s.Addr),
		Offset: uint64(s.Off), Size: uint64(s.Size), Link: s.Link, Info: s.Info,
		AddrAlign: uint64(s.Addralign), EntSize: uint64(s.Entsize),
	}
}

// inRange reports whether [off, off+size) lies inside the file.
func (f *InputFile) inRange(off, size uint64) bool {
	end := off + size
	return end >= off && end <= uint64(len(f.File.Contents))
}

func (f *InputFile) readSectionHeaders() error {
	if f.Ehdr.ShOff == 0 {
		return nil
	}

	entSize := f.shdrSize()
	if f.Ehdr.ShEntSize != 0 && uint64(f.Ehdr.ShEntSize) != entSize {
		return formatError(ErrNotRecognized, "section header table", "e_shentsize %d", f.Ehdr.ShEntSize)
	}
	if !f.inRange(f.Ehdr.ShOff, entSize) {
		return formatError(ErrTruncatedFile, "section header table", "offset %#x", f.Ehdr.ShOff)
	}

	contents := f.File.Contents[f.Ehdr.ShOff:]
	shdr := f.readShdr(contents)

	numSections := uint64(f.Ehdr.ShNum)
	if numSections == 0 {
		numSections = shdr.Size
	}
	if numSections > uint64(len(f.File.Contents))/entSize || !f.inRange(f.Ehdr.ShOff, numSections*entSize) {
		return formatError(ErrTruncatedFile, "section header table", "%d entries at %#x", numSections, f.Ehdr.ShOff)
	}

	f.ElfSections = []Shdr{shdr}
	for numSections > 1 {
		contents = contents[entSize:]
		f.ElfSections = append(f.ElfSections, f.readShdr(contents))
		numSections--
	}

	shstrtabIdx := uint64(f.Ehdr.ShStrndx)
	if f.Ehdr.ShStrndx == uint16(elf.SHN_XINDEX) {
		shstrtabIdx = uint64(shdr.Link)
	}
	if shstrtabIdx == 0 || shstrtabIdx >= uint64(len(f.ElfSections)) {
		return nil
	}

	var err error
	f.ShStrtab, err = f.GetBytesFromShdr(&f.ElfSections[shstrtabIdx])
	return err
}

func (f *InputFile) readProgramHeaders() error {
	if f.Ehdr.PhOff == 0 || f.Ehdr.PhNum == 0 {
		return nil
	}

	entSize := uint64(unsafe.Sizeof(elf.Prog32{}))
	if f.Is64() {
		entSize = uint64(unsafe.Sizeof(elf.Prog64{}))
	}
	if uint64(f.Ehdr.PhEntSize) != entSize {
		return formatError(ErrNotRecognized, "program header table", "e_phentsize %d", f.Ehdr.PhEntSize)
	}
	num := uint64(f.Ehdr.PhNum)
	if !f.inRange(f.Ehdr.PhOff, num*entSize) {
		return formatError(ErrTruncatedFile, "program header table", "%d entries at %#x", num, f.Ehdr.PhOff)
	}

	contents := f.File.Contents[f.Ehdr.PhOff:]
	for i := uint64(0); i < num; i++ {
		data := contents[i*entSize:]
		if f.Is64() {
			p := utils.Read[elf.Prog64](data, f.Order)
			f.Phdrs = append(f.Phdrs, Phdr{
				Type: p.Type, Flags: p.Flags, Offset: p.Off, VAddr: p.Vaddr,
				PAddr: p.Paddr, FileSize: p.Filesz, MemSize: p.Memsz, Align: p.Align,
			})
			continue
		}
		p := utils.Read[elf.Prog32](data, f.Order)
		f.Phdrs = append(f.Phdrs, Phdr{
			Type: p.Type, Flags: p.Flags, Offset: uint64(p.Off), VAddr: uint64(p.Vaddr),
			PAddr: uint64(p.Paddr), FileSize: uint64(p.Filesz), MemSize: uint64(p.Memsz), Align: uint64(p.Align),
		})
	}
	return nil
}

func (f *InputFile) SectionName(s *Shdr) string {
	if name, ok := getName(f.ShStrtab, s.Name); ok && name != "" {
		return name
	}
	return elf.SectionType(s.Type).String()
}

func (f *InputFile) GetBytesFromShdr(s *Shdr) ([]byte, error) {
	if s.Type == uint32(elf.SHT_NOBITS) {
		return nil, nil
	}
	if !f.inRange(s.Offset, s.Size) {
		return nil, formatError(ErrTruncatedSection, f.SectionName(s),
			"%d bytes at %#x, file is %d bytes", s.Size, s.Offset, len(f.File.Contents))
	}
	return f.File.Contents[s.Offset : s.Offset+s.Size], nil
}

func (f *InputFile) GetBytesFromIdx(idx uint32) ([]byte, error) {
	if uint64(idx) >= uint64(len(f.ElfSections)) {
		return nil, formatError(ErrNotRecognized, "", "section index %d out of range", idx)
	}
	return f.GetBytesFromShdr(&f.ElfSections[idx])
}

func (f *InputFile) FindSection(ty uint32) *Shdr {
	for i := 0; i < len(f.ElfSections); i++ {
		sec := &f.ElfSections[i]
		if sec.Type == ty {
			return sec
		}
	}
	return nil
}

func (f *InputFile) FindSegment(ty elf.ProgType) *Phdr {
	for i := range f.Phdrs {
		if f.Phdrs[i].Type == uint32(ty) {
			return &f.Phdrs[i]
		}
	}
	return nil
}

// readSyms decodes a symbol table of either class.
func (f *InputFile) readSyms(bs []byte, section string) ([]Sym, error) {
	entSize := int(unsafe.Sizeof(elf.Sym32{}))
	if f.Is64() {
		entSize = int(unsafe.Sizeof(elf.Sym64{}))
	}
	if len(bs)%entSize != 0 {
		return nil, formatError(ErrTruncatedSection, section, "size %d is not a multiple of %d", len(bs), entSize)
	}

	nums := len(bs) / entSize
	syms := make([]Sym, 0, nums)
	for nums > 0 {
		if f.Is64() {
			s := utils.Read[elf.Sym64](bs, f.Order)
			syms = append(syms, Sym{Name: s.Name, Info: s.Info, Other: s.Other, Shndx: s.Shndx, Val: s.Value, Size: s.Size})
		} else {
			s := utils.Read[elf.Sym32](bs, f.Order)
			syms = append(syms, Sym{Name: s.Name, Info: s.Info, Other: s.Other, Shndx: s.Shndx, Val: uint64(s.Value), Size: uint64(s.Size)})
		}
		bs = bs[entSize:]
		nums--
	}
	return syms, nil
}
