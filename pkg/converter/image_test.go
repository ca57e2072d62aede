package converter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ksco/soda/pkg/utils"
)

// verLocal asks for a versym of VER_NDX_LOCAL; zero means VER_NDX_GLOBAL.
const verLocal uint16 = 0x7fff

type testSym struct {
	name    string
	typ     elf.SymType
	bind    uint8
	vis     elf.SymVis
	section string // "text", "data", "abs" or "undef"; empty picks by type
	size    uint64
	versym  uint16
}

type testImage struct {
	class    elf.Class
	order    binary.ByteOrder
	machine  elf.Machine
	typ      elf.Type
	soname   string
	versions []string
	syms     []testSym

	stripSections bool
	gnuHash       bool
}

func newTestImage(syms ...testSym) *testImage {
	return &testImage{
		class:   elf.ELFCLASS64,
		order:   binary.LittleEndian,
		machine: elf.EM_X86_64,
		typ:     elf.ET_DYN,
		soname:  "libtest.so.1",
		syms:    syms,
	}
}

func fnSym(name string) testSym {
	return testSym{name: name, typ: elf.STT_FUNC, bind: uint8(elf.STB_GLOBAL), size: 16}
}

func dataSym(name string, size uint64) testSym {
	return testSym{name: name, typ: elf.STT_OBJECT, bind: uint8(elf.STB_GLOBAL), size: size}
}

// builtImage is the encoded library plus the file offset of each section
// header, for tests that corrupt them.
type builtImage struct {
	data     []byte
	shdrOffs map[string]int
}

type testSection struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	align   uint64
	entsize uint64
	link    string
	info    uint32
	data    []byte
	offset  uint64
}

type stringTable struct {
	buf  []byte
	offs map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{buf: []byte{0}, offs: map[string]uint32{"": 0}}
}

func (s *stringTable) add(name string) uint32 {
	if off, ok := s.offs[name]; ok {
		return off
	}
	off := uint32(len(s.buf))
	s.buf = append(append(s.buf, name...), 0)
	s.offs[name] = off
	return off
}

func (img *testImage) is64() bool {
	return img.class == elf.ELFCLASS64
}

func (img *testImage) encode(v any) []byte {
	buf := &bytes.Buffer{}
	fn.Panic(binary.Write(buf, img.order, v))
	return buf.Bytes()
}

func (img *testImage) versioned() bool {
	if len(img.versions) > 0 {
		return true
	}
	for _, s := range img.syms {
		if s.versym != 0 {
			return true
		}
	}
	return false
}

func (img *testImage) build(t *testing.T) *builtImage {
	t.Helper()

	var secs []*testSection
	index := map[string]int{}
	add := func(s *testSection) *testSection {
		index[s.name] = len(secs) + 1
		secs = append(secs, s)
		return s
	}

	dynsym := add(&testSection{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC, align: 8, link: ".dynstr", info: 1})
	dynstr := add(&testSection{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC, align: 1})
	var versym, verdef *testSection
	if img.versioned() {
		versym = add(&testSection{name: ".gnu.version", typ: elf.SHT_GNU_VERSYM, flags: elf.SHF_ALLOC, align: 2, entsize: 2, link: ".dynsym"})
		verdef = add(&testSection{name: ".gnu.version_d", typ: elf.SHT_GNU_VERDEF, flags: elf.SHF_ALLOC, align: 4, link: ".dynstr", info: uint32(len(img.versions) + 1)})
	}
	var hash *testSection
	if img.gnuHash {
		hash = add(&testSection{name: ".gnu.hash", typ: elf.SHT_GNU_HASH, flags: elf.SHF_ALLOC, align: 8, link: ".dynsym"})
	} else {
		hash = add(&testSection{name: ".hash", typ: elf.SHT_HASH, flags: elf.SHF_ALLOC, align: 8, entsize: 4, link: ".dynsym"})
	}
	dynamic := add(&testSection{name: ".dynamic", typ: elf.SHT_DYNAMIC, flags: elf.SHF_ALLOC | elf.SHF_WRITE, align: 8, link: ".dynstr"})
	add(&testSection{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, align: 16, data: make([]byte, 64)})
	add(&testSection{name: ".data", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, align: 16, data: make([]byte, 64)})
	shstrtab := add(&testSection{name: ".shstrtab", typ: elf.SHT_STRTAB, align: 1})

	strs := newStringTable()
	var soname uint32
	if img.soname != "" {
		soname = strs.add(img.soname)
	}

	nsyms := len(img.syms) + 1
	dynsym.data = img.encodeSym(0, 0, 0, 0, 0, 0)
	for _, s := range img.syms {
		shndx := uint16(index[".data"])
		switch {
		case s.section == "text" || s.section == "" && s.typ == elf.STT_FUNC:
			shndx = uint16(index[".text"])
		case s.section == "abs":
			shndx = uint16(elf.SHN_ABS)
		case s.section == "undef":
			shndx = uint16(elf.SHN_UNDEF)
		}
		info := s.bind<<4 | uint8(s.typ)&0xf
		dynsym.data = append(dynsym.data, img.encodeSym(strs.add(s.name), info, uint8(s.vis), shndx, 16, s.size)...)
	}
	if img.is64() {
		dynsym.entsize = 24
	} else {
		dynsym.entsize = 16
	}

	if versym != nil {
		versym.data = img.encode(uint16(0))
		for _, s := range img.syms {
			v := s.versym
			switch v {
			case 0:
				v = VER_NDX_GLOBAL
			case verLocal:
				v = VER_NDX_LOCAL
			}
			versym.data = append(versym.data, img.encode(v)...)
		}

		names := append([]string{img.soname}, img.versions...)
		if names[0] == "" {
			names[0] = "libtest.so"
		}
		for i, name := range names {
			vd := Verdef{Version: 1, Ndx: uint16(i + 1), Cnt: 1, Aux: 20, Next: 28}
			if i == 0 {
				vd.Flags = VER_FLG_BASE
			}
			if i == len(names)-1 {
				vd.Next = 0
			}
			verdef.data = append(verdef.data, img.encode(vd)...)
			verdef.data = append(verdef.data, img.encode(Verdaux{Name: strs.add(name)})...)
		}
	}

	if img.gnuHash {
		words := 1
		hash.data = img.encode([]uint32{1, 1, uint32(words), 6})
		if img.is64() {
			hash.data = append(hash.data, img.encode(uint64(0))...)
		} else {
			hash.data = append(hash.data, img.encode(uint32(0))...)
		}
		bucket := uint32(0)
		if nsyms > 1 {
			bucket = 1
		}
		hash.data = append(hash.data, img.encode(bucket)...)
		for i := 1; i < nsyms; i++ {
			chain := uint32(i) << 1
			if i == nsyms-1 {
				chain |= 1
			}
			hash.data = append(hash.data, img.encode(chain)...)
		}
	} else {
		hash.data = img.encode([]uint32{1, uint32(nsyms), 0})
		hash.data = append(hash.data, make([]byte, 4*nsyms)...)
	}

	dynstr.data = strs.buf
	shstr := newStringTable()
	for _, s := range secs {
		shstr.add(s.name)
	}
	shstrtab.data = shstr.buf

	ehdrSize, phentSize, shentSize := uint64(52), uint64(32), uint64(40)
	if img.is64() {
		ehdrSize, phentSize, shentSize = 64, 56, 64
	}

	// .dynamic holds addresses, so offsets are fixed before it is encoded.
	dynCount := 10
	dynEntSize := uint64(8)
	if img.is64() {
		dynEntSize = 16
	}
	dynamic.data = make([]byte, dynCount*int(dynEntSize))

	off := ehdrSize + 2*phentSize
	for _, s := range secs {
		off = utils.AlignTo(off, s.align)
		s.offset = off
		off += uint64(len(s.data))
	}
	shoff := utils.AlignTo(off, 8)

	var dyn []byte
	putDyn := func(tag elf.DynTag, val uint64) {
		if img.is64() {
			dyn = append(dyn, img.encode(elf.Dyn64{Tag: int64(tag), Val: val})...)
		} else {
			dyn = append(dyn, img.encode(elf.Dyn32{Tag: int32(tag), Val: uint32(val)})...)
		}
	}
	if img.soname != "" {
		putDyn(elf.DT_SONAME, uint64(soname))
	}
	putDyn(elf.DT_STRTAB, dynstr.offset)
	putDyn(elf.DT_STRSZ, uint64(len(dynstr.data)))
	putDyn(elf.DT_SYMTAB, dynsym.offset)
	if img.gnuHash {
		putDyn(elf.DT_GNU_HASH, hash.offset)
	} else {
		putDyn(elf.DT_HASH, hash.offset)
	}
	if versym != nil {
		putDyn(elf.DT_VERSYM, versym.offset)
		putDyn(elf.DT_VERDEF, verdef.offset)
		putDyn(elf.DT_VERDEFNUM, uint64(len(img.versions)+1))
	}
	putDyn(elf.DT_NULL, 0)
	if len(dyn) > len(dynamic.data) {
		t.Fatalf("dynamic section overflows its reservation")
	}
	copy(dynamic.data, dyn)

	total := shoff + uint64(len(secs)+1)*shentSize
	out := make([]byte, total)
	for _, s := range secs {
		copy(out[s.offset:], s.data)
	}

	shnum, shstrndx := uint16(len(secs)+1), uint16(index[".shstrtab"])
	if img.stripSections {
		shoff, shnum, shstrndx = 0, 0, 0
	}

	ident := [elf.EI_NIDENT]byte{}
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(img.class)
	ident[elf.EI_DATA] = byte(elfData(img.order))
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var hdr []byte
	if img.is64() {
		hdr = img.encode(elf.Header64{
			Ident: ident, Type: uint16(img.typ), Machine: uint16(img.machine), Version: 1,
			Phoff: ehdrSize, Shoff: shoff, Ehsize: uint16(ehdrSize),
			Phentsize: uint16(phentSize), Phnum: 2, Shentsize: uint16(shentSize),
			Shnum: shnum, Shstrndx: shstrndx,
		})
		hdr = append(hdr, img.encode(elf.Prog64{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Filesz: total, Memsz: total, Align: 0x1000})...)
		hdr = append(hdr, img.encode(elf.Prog64{Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R | elf.PF_W), Off: dynamic.offset, Vaddr: dynamic.offset, Paddr: dynamic.offset, Filesz: uint64(len(dynamic.data)), Memsz: uint64(len(dynamic.data)), Align: 8})...)
	} else {
		hdr = img.encode(elf.Header32{
			Ident: ident, Type: uint16(img.typ), Machine: uint16(img.machine), Version: 1,
			Phoff: uint32(ehdrSize), Shoff: uint32(shoff), Ehsize: uint16(ehdrSize),
			Phentsize: uint16(phentSize), Phnum: 2, Shentsize: uint16(shentSize),
			Shnum: shnum, Shstrndx: shstrndx,
		})
		hdr = append(hdr, img.encode(elf.Prog32{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Filesz: uint32(total), Memsz: uint32(total), Align: 0x1000})...)
		hdr = append(hdr, img.encode(elf.Prog32{Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R | elf.PF_W), Off: uint32(dynamic.offset), Vaddr: uint32(dynamic.offset), Paddr: uint32(dynamic.offset), Filesz: uint32(len(dynamic.data)), Memsz: uint32(len(dynamic.data)), Align: 4})...)
	}
	copy(out, hdr)

	built := &builtImage{data: out, shdrOffs: map[string]int{}}
	if img.stripSections {
		return built
	}

	base := shoff + shentSize
	for i, s := range secs {
		at := base + uint64(i)*shentSize
		built.shdrOffs[s.name] = int(at)
		link := uint32(index[s.link])
		if img.is64() {
			copy(out[at:], img.encode(elf.Section64{
				Name: shstr.offs[s.name], Type: uint32(s.typ), Flags: uint64(s.flags), Addr: s.offset,
				Off: s.offset, Size: uint64(len(s.data)), Link: link, Info: s.info,
				Addralign: s.align, Entsize: s.entsize,
			}))
		} else {
			copy(out[at:], img.encode(elf.Section32{
				Name: shstr.offs[s.name], Type: uint32(s.typ), Flags: uint32(s.flags), Addr: uint32(s.offset),
				Off: uint32(s.offset), Size: uint32(len(s.data)), Link: link, Info: s.info,
				Addralign: uint32(s.align), Entsize: uint32(s.entsize),
			}))
		}
	}
	return built
}

func (img *testImage) encodeSym(name uint32, info, other uint8, shndx uint16, value, size uint64) []byte {
	if img.is64() {
		return img.encode(elf.Sym64{Name: name, Info: info, Other: other, Shndx: shndx, Value: value, Size: size})
	}
	return img.encode(elf.Sym32{Name: name, Info: info, Other: other, Shndx: shndx, Value: uint32(value), Size: uint32(size)})
}

func (b *builtImage) file(name string) *File {
	return &File{Name: name, Contents: b.data}
}
