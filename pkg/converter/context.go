package converter

import (
	"encoding/binary"

	"github.com/ksco/soda/pkg/stub"
)

type ContextArg struct {
	Input  string
	Output string
	// Archive also writes the object as lib<stem>.a next to Output.
	Archive bool
}

// Context carries one conversion from the input library to the output
// buffer. Passes fill it in order.
type Context struct {
	Arg ContextArg

	File    *File
	So      *SharedFile
	Arch    stub.Arch
	LibName string

	Exports   []*ExportedSymbol
	Warnings  []SkippedSymbolWarning
	Runtime   *Block
	Externals []string

	Ehdr      *OutputEhdr
	Shdr      *OutputShdr
	Text      *OutputSection
	Rodata    *StringSection
	LazyTable *LazyTableSection
	Bss       *OutputSection
	InitArray *OutputSection
	RelaText  *RelaSection
	RelaData  *RelaSection
	RelaInit  *RelaSection
	Symtab    *SymtabSection
	Strtab    *StringSection
	Note      *OutputSection
	ShStrtab  *StringSection

	Chunks []Chunker

	Buf []byte
}

func NewContext(arg ContextArg) *Context {
	return &Context{Arg: arg}
}

// Order is the byte order of the output, which follows the input.
func (ctx *Context) Order() binary.ByteOrder {
	return ctx.Arch.ByteOrder()
}

// RelaSections lists the relocation sections with their targets.
func (ctx *Context) RelaSections() []*RelaSection {
	return []*RelaSection{ctx.RelaText, ctx.RelaData, ctx.RelaInit}
}
