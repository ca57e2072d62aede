package converter

import (
	"bytes"
	"debug/elf"
	"unsafe"
)

const VER_NDX_LOCAL uint16 = 0
const VER_NDX_GLOBAL uint16 = 1
const VERSYM_HIDDEN uint16 = 0x8000
const VER_FLG_BASE uint16 = 0x1
const STB_GNU_UNIQUE uint8 = 10
const STT_GNU_IFUNC uint8 = 10

const (
	EhdrSize = int(unsafe.Sizeof(Ehdr{}))
	ShdrSize = int(unsafe.Sizeof(Shdr{}))
	SymSize  = int(unsafe.Sizeof(Sym{}))
	RelaSize = int(unsafe.Sizeof(Rela{}))
)

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

func (s *Sym) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym) Type() uint8 {
	return s.Info & 0xf
}

func (s *Sym) Bind() uint8 {
	return s.Info >> 4
}

func (s *Sym) StVisibility() uint8 {
	return s.Other & 0b11
}

func NewSym(name uint32, bind elf.SymBind, typ elf.SymType, shndx uint16, val, size uint64) Sym {
	return Sym{
		Name:  name,
		Info:  elf.ST_INFO(bind, typ),
		Shndx: shndx,
		Val:   val,
		Size:  size,
	}
}

// Rela keeps r_info whole so the record encodes correctly in either byte
// order.
type Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, []byte(elf.ELFMAG))
}

func WriteMagic(contents []byte) {
	copy(contents, elf.ELFMAG)
}

// getName reads a NUL-terminated string, failing when offset or the
// terminator lies outside strTab.
func getName(strTab []byte, offset uint32) (string, bool) {
	if uint64(offset) >= uint64(len(strTab)) {
		return "", false
	}
	length := bytes.IndexByte(strTab[offset:], 0)
	if length < 0 {
		return "", false
	}
	return string(strTab[offset : offset+uint32(length)]), true
}

func writeString(buf []byte, str string) int64 {
	copy(buf, str)
	buf[len(str)] = 0
	return int64(len(str)) + 1
}
