package converter

import (
	"debug/elf"

	"github.com/ksco/soda/pkg/stub"
	"github.com/ksco/soda/pkg/utils"
)

// SelectExports picks the symbols that get stand-ins. Each name appears
// once, in the dynamic symbol table order of its first definition.
// Symbols with types that have no stub form are reported, not fatal.
func SelectExports(so *SharedFile) ([]*ExportedSymbol, []SkippedSymbolWarning) {
	versionNames := utils.NewMapSet[string]()
	for _, def := range so.Verdefs {
		if def.Name != "" {
			versionNames.Add(def.Name)
		}
	}

	var order []string
	groups := make(map[string][]int)
	skipped := utils.NewMapSet[string]()
	var warnings []SkippedSymbolWarning

	for i := 1; i < len(so.ElfSyms); i++ {
		esym := &so.ElfSyms[i]
		name, ok := so.SymbolName(esym)
		if !ok || name == "" {
			continue
		}
		if !isCandidate(so, esym, i, name, versionNames) {
			continue
		}

		if _, ok := kindOf(esym); !ok {
			if skipped.Insert(name) {
				warnings = append(warnings, SkippedSymbolWarning{Name: name, Type: elf.SymType(esym.Type())})
			}
			continue
		}

		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], i)
	}

	syms := make([]*ExportedSymbol, 0, len(order))
	for _, name := range order {
		best := -1
		for _, idx := range groups[name] {
			if best < 0 || GetRank(so.versym(idx)) < GetRank(so.versym(best)) {
				best = idx
			}
		}

		esym := &so.ElfSyms[best]
		kind, _ := kindOf(esym)
		sym := &ExportedSymbol{
			Name:   name,
			Kind:   kind,
			Size:   esym.Size,
			Weak:   esym.Bind() == uint8(elf.STB_WEAK),
			SymIdx: best,
			VerIdx: so.versym(best) &^ VERSYM_HIDDEN,
		}
		if sym.VerIdx > VER_NDX_GLOBAL {
			sym.Version, _ = so.VersionName(sym.VerIdx)
		}
		syms = append(syms, sym)
	}
	return syms, warnings
}

func isCandidate(so *SharedFile, esym *Sym, idx int, name string, versionNames utils.MapSet[string]) bool {
	bind := esym.Bind()
	if bind == STB_GNU_UNIQUE {
		bind = uint8(elf.STB_GLOBAL)
	}
	if bind != uint8(elf.STB_GLOBAL) && bind != uint8(elf.STB_WEAK) {
		return false
	}
	if esym.IsUndef() {
		return false
	}

	vis := elf.SymVis(esym.StVisibility())
	if vis == elf.STV_HIDDEN || vis == elf.STV_INTERNAL {
		return false
	}
	if so.versym(idx)&^VERSYM_HIDDEN == VER_NDX_LOCAL {
		return false
	}
	if esym.IsAbs() && versionNames.Contains(name) {
		return false
	}
	return true
}

func kindOf(esym *Sym) (stub.Kind, bool) {
	switch esym.Type() {
	case uint8(elf.STT_FUNC), STT_GNU_IFUNC:
		return stub.KindFunction, true
	case uint8(elf.STT_OBJECT), uint8(elf.STT_COMMON):
		return stub.KindData, true
	}
	return 0, false
}

// versym is VER_NDX_GLOBAL for libraries without symbol versioning.
func (so *SharedFile) versym(idx int) uint16 {
	if idx < len(so.Versyms) {
		return so.Versyms[idx]
	}
	return VER_NDX_GLOBAL
}
