package stub

import (
	"encoding/binary"
	"fmt"

	"github.com/ksco/soda/pkg/utils"
)

type fixupKind uint8

const (
	fixupRel8 fixupKind = iota
	fixupRel32
	fixupImm19
	fixupImm26
)

type fixup struct {
	at    int
	label string
	kind  fixupKind
}

// assembler collects code for one Plan. Branches between local labels are
// patched in finish; everything else becomes a Reloc.
type assembler struct {
	buf    []byte
	relocs []Reloc
	labels map[string]int
	fixups []fixup
	order  []string
}

func newAssembler() *assembler {
	return &assembler{labels: make(map[string]int)}
}

func (a *assembler) pc() int {
	return len(a.buf)
}

func (a *assembler) emit(bs ...byte) {
	a.buf = append(a.buf, bs...)
}

func (a *assembler) emit32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

func (a *assembler) emit64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

// label binds name to the current position. Routine labels become Plan
// labels; the rest stay local to the plan.
func (a *assembler) label(name string) {
	_, dup := a.labels[name]
	utils.Assert(!dup)
	a.labels[name] = a.pc()
}

func (a *assembler) routine(name string) {
	a.label(name)
	a.order = append(a.order, name)
}

func (a *assembler) fixup(kind fixupKind, label string) {
	a.fixups = append(a.fixups, fixup{at: a.pc(), label: label, kind: kind})
}

// reloc records a reference at the current position.
func (a *assembler) reloc(kind RelocKind, target Target, addend int64) {
	a.relocs = append(a.relocs, Reloc{
		Offset: uint64(a.pc()),
		Kind:   kind,
		Target: target,
		Addend: addend,
	})
}

func (a *assembler) alignTo(align int, fill []byte) {
	for len(a.buf)%align != 0 {
		a.buf = append(a.buf, fill[len(a.buf)%len(fill)])
	}
}

func (a *assembler) finish() Plan {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			utils.Fatal(fmt.Sprintf("undefined label %s", f.label))
		}

		switch f.kind {
		case fixupRel8:
			disp := target - (f.at + 1)
			utils.Assert(disp >= -128 && disp <= 127)
			a.buf[f.at] = byte(int8(disp))
		case fixupRel32:
			disp := target - (f.at + 4)
			binary.LittleEndian.PutUint32(a.buf[f.at:], uint32(int32(disp)))
		case fixupImm19:
			disp := uint32(int32(target-f.at) >> 2)
			insn := binary.LittleEndian.Uint32(a.buf[f.at:])
			insn |= utils.Bits(disp, 18, 0) << 5
			binary.LittleEndian.PutUint32(a.buf[f.at:], insn)
		case fixupImm26:
			disp := uint32(int32(target-f.at) >> 2)
			insn := binary.LittleEndian.Uint32(a.buf[f.at:])
			insn |= utils.Bits(disp, 25, 0)
			binary.LittleEndian.PutUint32(a.buf[f.at:], insn)
		}
	}

	plan := Plan{Code: a.buf, Relocs: a.relocs}
	for i, name := range a.order {
		start := a.labels[name]
		end := len(a.buf)
		if i+1 < len(a.order) {
			end = a.labels[a.order[i+1]]
		}
		plan.Labels = append(plan.Labels, Label{
			Name:   name,
			Offset: uint64(start),
			Size:   uint64(end - start),
		})
	}
	return plan
}
