// Package stub generates the machine code that stands in for a shared
// library's exports: one forwarding stub per function and a small runtime
// that opens the library and resolves symbols on demand.
//
// Code is position independent. Every reference to data, strings, other
// routines or libc goes through a Reloc with a symbolic Target; the object
// emitter decides where those targets live.
package stub

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

type Kind uint8

const (
	KindFunction Kind = iota
	KindData
)

func (k Kind) String() string {
	if k == KindData {
		return "data"
	}
	return "function"
}

// Symbol is what a backend needs to know about one export.
type Symbol struct {
	Name    string
	Version string
	Size    uint64
}

// Lazy table entry layout, in words.
const (
	EntryWords       = 3
	EntryCacheWord   = 0
	EntryNameWord    = 1
	EntryVersionWord = 2
)

// Runtime routine names. They become local symbols in the output.
const (
	RoutineLazyBind    = "lazy_bind"
	RoutineResolve     = "resolve"
	RoutineOpen        = "open"
	RoutineFatalLib    = "fatal_library"
	RoutineFatalSymbol = "fatal_symbol"
	RoutineInit        = "init"
)

// Diagnostics printed by the runtime before it aborts.
const (
	FormatLibraryError = "soda: cannot load shared library %s: %s\n"
	FormatSymbolError  = "soda: cannot resolve symbol %s in %s: %s\n"
)

type RelocKind uint8

const (
	RelocPCRel32 RelocKind = iota
	RelocCall
	RelocJump
	RelocAbs64
	RelocPageHi21
	RelocAddLo12
	RelocLdst64Lo12
)

var relocKindNames = []string{
	"pcrel32", "call", "jump", "abs64", "page_hi21", "add_lo12", "ldst64_lo12",
}

func (k RelocKind) String() string {
	if int(k) < len(relocKindNames) {
		return relocKindNames[k]
	}
	return fmt.Sprintf("reloc(%d)", int(k))
}

type TargetKind uint8

const (
	TargetEntry TargetKind = iota
	TargetSlot
	TargetHandle
	TargetString
	TargetRoutine
	TargetExternal
	TargetLibrary
)

// dlopen mode used by the runtime.
const rtldNow = 2

// Target names what a relocation points at. Index is used by entries and
// slots, Name by strings, routines and externals.
type Target struct {
	Kind  TargetKind
	Index int
	Name  string
}

func Entry(i int) Target          { return Target{Kind: TargetEntry, Index: i} }
func Slot(i int) Target           { return Target{Kind: TargetSlot, Index: i} }
func Handle() Target              { return Target{Kind: TargetHandle} }
func String(s string) Target      { return Target{Kind: TargetString, Name: s} }
func Routine(name string) Target  { return Target{Kind: TargetRoutine, Name: name} }
func External(name string) Target { return Target{Kind: TargetExternal, Name: name} }
func LibraryName() Target         { return Target{Kind: TargetLibrary} }

func (t Target) String() string {
	switch t.Kind {
	case TargetEntry:
		return fmt.Sprintf("entry[%d]", t.Index)
	case TargetSlot:
		return fmt.Sprintf("slot[%d]", t.Index)
	case TargetHandle:
		return "handle"
	case TargetString:
		return fmt.Sprintf("string(%q)", t.Name)
	case TargetRoutine:
		return "routine(" + t.Name + ")"
	case TargetLibrary:
		return "library"
	}
	return "external(" + t.Name + ")"
}

type Reloc struct {
	Offset uint64
	Kind   RelocKind
	Target Target
	Addend int64
}

type Label struct {
	Name   string
	Offset uint64
	Size   uint64
}

// Plan is a block of code with its pending references.
type Plan struct {
	Code   []byte
	Relocs []Reloc
	Labels []Label
}

// Runtime describes what the resolver routines must handle.
type Runtime struct {
	Data      []Symbol
	Versioned bool
}

type Arch interface {
	Name() string
	Machine() elf.Machine
	Class() elf.Class
	ByteOrder() binary.ByteOrder
	Align() uint64
	RelocType(kind RelocKind) (uint32, bool)
	Stub(sym Symbol, entry int) Plan
	Runtime(rt Runtime) Plan
}

var ErrUnsupportedArchitecture = errors.New("unsupported architecture")

type archKey struct {
	machine elf.Machine
	class   elf.Class
	data    elf.Data
}

var archs = make(map[archKey]Arch)

func dataOf(order binary.ByteOrder) elf.Data {
	if order == binary.BigEndian {
		return elf.ELFDATA2MSB
	}
	return elf.ELFDATA2LSB
}

func Register(a Arch) {
	archs[archKey{a.Machine(), a.Class(), dataOf(a.ByteOrder())}] = a
}

func Lookup(machine elf.Machine, class elf.Class, data elf.Data) (Arch, error) {
	if a, ok := archs[archKey{machine, class, data}]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s %s %s", ErrUnsupportedArchitecture, machine, class, data)
}

// Names lists the registered backends.
func Names() []string {
	names := make([]string, 0, len(archs))
	for _, a := range archs {
		names = append(names, a.Name())
	}
	sort.Strings(names)
	return names
}

// Externals lists the libc symbols a set of plans calls, in first-use order.
func Externals(plans ...Plan) []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range plans {
		for _, r := range p.Relocs {
			if r.Target.Kind == TargetExternal && !seen[r.Target.Name] {
				seen[r.Target.Name] = true
				names = append(names, r.Target.Name)
			}
		}
	}
	return names
}
