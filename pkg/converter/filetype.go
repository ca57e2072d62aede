package converter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"unicode"
)

type FileType = int8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty   FileType = iota
	FileTypeObject  FileType = iota
	FileTypeDso     FileType = iota
	FileTypeExec    FileType = iota
	FileTypeAr      FileType = iota
	FileTypeThinAr  FileType = iota
	FileTypeText    FileType = iota
)

var fileTypeNames = map[FileType]string{
	FileTypeUnknown: "unknown file",
	FileTypeEmpty:   "empty file",
	FileTypeObject:  "relocatable object",
	FileTypeDso:     "shared library",
	FileTypeExec:    "executable",
	FileTypeAr:      "static archive",
	FileTypeThinAr:  "thin archive",
	FileTypeText:    "text file",
}

func FileTypeString(ft FileType) string {
	return fileTypeNames[ft]
}

// identOrder returns the byte order named by EI_DATA.
func identOrder(contents []byte) (binary.ByteOrder, bool) {
	if len(contents) <= elf.EI_DATA {
		return nil, false
	}
	switch elf.Data(contents[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		return binary.LittleEndian, true
	case elf.ELFDATA2MSB:
		return binary.BigEndian, true
	}
	return nil, false
}

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(contents) {
		order, ok := identOrder(contents)
		if !ok || len(contents) < 18 {
			return FileTypeUnknown
		}
		et := elf.Type(order.Uint16(contents[16:]))
		switch et {
		case elf.ET_REL:
			return FileTypeObject
		case elf.ET_DYN:
			return FileTypeDso
		case elf.ET_EXEC:
			return FileTypeExec
		}
		return FileTypeUnknown
	}

	if bytes.HasPrefix(contents, []byte("!<arch>\n")) {
		return FileTypeAr
	}
	if bytes.HasPrefix(contents, []byte("!<thin>\n")) {
		return FileTypeThinAr
	}

	isTextFile := func() bool {
		return len(contents) >= 4 &&
			unicode.IsPrint(rune(contents[0])) &&
			unicode.IsPrint(rune(contents[1])) &&
			unicode.IsPrint(rune(contents[2])) &&
			unicode.IsPrint(rune(contents[3]))
	}

	if isTextFile() {
		return FileTypeText
	}

	return FileTypeUnknown
}
