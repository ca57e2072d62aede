package converter

import (
	"unsafe"

	"github.com/ksco/soda/pkg/utils"
)

// Verdef and Verdaux have the same layout in both ELF classes.
type Verdef struct {
	Version uint16
	Flags   uint16
	Ndx     uint16
	Cnt     uint16
	Hash    uint32
	Aux     uint32
	Next    uint32
}

type Verdaux struct {
	Name uint32
	Next uint32
}

type VersionDef struct {
	Index uint16
	Flags uint16
	Name  string
}

func (v *VersionDef) IsBase() bool {
	return v.Flags&VER_FLG_BASE != 0
}

func (f *InputFile) readVersyms(bs []byte, nsyms int, section string) ([]uint16, error) {
	if len(bs) < 2*nsyms {
		return nil, formatError(ErrTruncatedSection, section,
			"%d entries for %d symbols", len(bs)/2, nsyms)
	}
	versyms := make([]uint16, nsyms)
	for i := range versyms {
		versyms[i] = f.Order.Uint16(bs[2*i:])
	}
	return versyms, nil
}

// readVerdefs walks the vd_next chain. count bounds the walk when the
// container records it; zero means follow the chain to its end.
func (f *InputFile) readVerdefs(bs []byte, strtab []byte, count int, section string) ([]VersionDef, error) {
	verdefSize := uint64(unsafe.Sizeof(Verdef{}))
	verdauxSize := uint64(unsafe.Sizeof(Verdaux{}))
	limit := len(bs) / int(verdefSize)
	if count == 0 || count > limit {
		count = limit
	}

	defs := make([]VersionDef, 0, count)
	off := uint64(0)
	for i := 0; i < count; i++ {
		if off+verdefSize > uint64(len(bs)) {
			return nil, formatError(ErrTruncatedSection, section, "verdef at %#x", off)
		}
		vd := utils.Read[Verdef](bs[off:], f.Order)

		def := VersionDef{Index: vd.Ndx, Flags: vd.Flags}
		if vd.Cnt > 0 {
			auxOff := off + uint64(vd.Aux)
			if auxOff+verdauxSize > uint64(len(bs)) {
				return nil, formatError(ErrTruncatedSection, section, "verdaux at %#x", auxOff)
			}
			aux := utils.Read[Verdaux](bs[auxOff:], f.Order)
			name, ok := getName(strtab, aux.Name)
			if !ok {
				return nil, formatError(ErrTruncatedSection, section, "version name at %#x", aux.Name)
			}
			def.Name = name
		}
		defs = append(defs, def)

		if vd.Next == 0 {
			break
		}
		off += uint64(vd.Next)
	}
	return defs, nil
}
