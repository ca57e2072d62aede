package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/utils"
)

// SharedFile is the parsed export surface of a shared library. It is
// built once and only read afterwards.
type SharedFile struct {
	InputFile
	ElfSyms      []Sym
	SymbolStrtab []byte
	Versyms      []uint16
	Verdefs      []VersionDef
	Soname       string
}

func ReadSharedFile(file *File) (*SharedFile, error) {
	if !CheckMagic(file.Contents) {
		return nil, formatError(ErrNotRecognized, "", "%s: %s, expected a shared library",
			file.Name, FileTypeString(GetFileType(file.Contents)))
	}

	in, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}
	if in.Ehdr.Type != uint16(elf.ET_DYN) {
		return nil, formatError(ErrNotRecognized, "", "%s: %s, expected a shared library",
			file.Name, FileTypeString(GetFileType(file.Contents)))
	}

	so := &SharedFile{InputFile: *in}
	if len(so.ElfSections) > 0 {
		err = so.readSections()
	} else {
		utils.Infof("%s has no section headers, reading the dynamic segment", file.Name)
		err = so.readSegments()
	}
	if err != nil {
		return nil, err
	}

	utils.Debugf("%s: %d dynamic symbols, %d version definitions, soname %q",
		file.Name, len(so.ElfSyms), len(so.Verdefs), so.Soname)
	return so, nil
}

func (so *SharedFile) readSections() error {
	dynsym := so.FindSection(uint32(elf.SHT_DYNSYM))
	if dynsym == nil {
		return formatError(ErrMissingDynamicSection, ".dynsym", "no dynamic symbol table")
	}
	name := so.SectionName(dynsym)
	bs, err := so.GetBytesFromShdr(dynsym)
	if err != nil {
		return err
	}
	if so.ElfSyms, err = so.readSyms(bs, name); err != nil {
		return err
	}
	if so.SymbolStrtab, err = so.GetBytesFromIdx(dynsym.Link); err != nil {
		return err
	}

	if versym := so.FindSection(uint32(elf.SHT_GNU_VERSYM)); versym != nil {
		if bs, err = so.GetBytesFromShdr(versym); err != nil {
			return err
		}
		if so.Versyms, err = so.readVersyms(bs, len(so.ElfSyms), so.SectionName(versym)); err != nil {
			return err
		}
	}

	if verdef := so.FindSection(uint32(elf.SHT_GNU_VERDEF)); verdef != nil {
		if bs, err = so.GetBytesFromShdr(verdef); err != nil {
			return err
		}
		strtab, err := so.GetBytesFromIdx(verdef.Link)
		if err != nil {
			return err
		}
		if so.Verdefs, err = so.readVerdefs(bs, strtab, int(verdef.Info), so.SectionName(verdef)); err != nil {
			return err
		}
	}

	dynamic := so.FindSection(uint32(elf.SHT_DYNAMIC))
	if dynamic == nil {
		return formatError(ErrMissingDynamicSection, ".dynamic", "no dynamic section")
	}
	if bs, err = so.GetBytesFromShdr(dynamic); err != nil {
		return err
	}
	dyn := so.readDynamic(bs)
	if off, ok := dyn.get(elf.DT_SONAME); ok {
		strtab, err := so.GetBytesFromIdx(dynamic.Link)
		if err != nil {
			return err
		}
		soname, ok := getName(strtab, uint32(off))
		if !ok {
			return formatError(ErrTruncatedSection, so.SectionName(dynamic), "DT_SONAME at %#x", off)
		}
		so.Soname = soname
	}
	return nil
}

// SymbolName resolves a dynamic symbol's name.
func (so *SharedFile) SymbolName(sym *Sym) (string, bool) {
	return getName(so.SymbolStrtab, sym.Name)
}

// VersionName returns the non-base version definition for idx.
func (so *SharedFile) VersionName(idx uint16) (string, bool) {
	for i := range so.Verdefs {
		def := &so.Verdefs[i]
		if def.Index == idx && !def.IsBase() && def.Name != "" {
			return def.Name, true
		}
	}
	return "", false
}

// LibraryName is the name handed to dlopen at run time.
func (so *SharedFile) LibraryName() string {
	if so.Soname != "" {
		return so.Soname
	}
	return so.File.BaseName()
}
