package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/stub"
)

// ExportedSymbol is one export that gets a stand-in in the output object.
type ExportedSymbol struct {
	Name    string
	Kind    stub.Kind
	Size    uint64
	Weak    bool
	Version string

	// SymIdx is the chosen definition in the library's dynamic symbol table.
	SymIdx int
	VerIdx uint16

	// Entry is the lazy table index for functions, the slot index for data.
	Entry int
	// Value is the offset of the stub in .text or of the slot in .data.
	Value uint64
	// StubSize is the size of the function stub.
	StubSize uint64
}

func (s *ExportedSymbol) IsFunction() bool {
	return s.Kind == stub.KindFunction
}

func (s *ExportedSymbol) Stub() stub.Symbol {
	return stub.Symbol{Name: s.Name, Version: s.Version, Size: s.Size}
}

func (s *ExportedSymbol) Bind() elf.SymBind {
	if s.Weak {
		return elf.STB_WEAK
	}
	return elf.STB_GLOBAL
}

func (s *ExportedSymbol) Type() elf.SymType {
	if s.IsFunction() {
		return elf.STT_FUNC
	}
	return elf.STT_OBJECT
}
