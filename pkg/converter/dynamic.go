package converter

import (
	"debug/elf"
	"unsafe"
)

type dynamicTable map[elf.DynTag]uint64

func (d dynamicTable) get(tag elf.DynTag) (uint64, bool) {
	v, ok := d[tag]
	return v, ok
}

// readDynamic decodes entries up to DT_NULL. The first occurrence of a
// tag wins.
func (f *InputFile) readDynamic(bs []byte) dynamicTable {
	d := make(dynamicTable)
	entSize := int(unsafe.Sizeof(elf.Dyn32{}))
	if f.Is64() {
		entSize = int(unsafe.Sizeof(elf.Dyn64{}))
	}

	for len(bs) >= entSize {
		var tag elf.DynTag
		var val uint64
		if f.Is64() {
			tag = elf.DynTag(int64(f.Order.Uint64(bs)))
			val = f.Order.Uint64(bs[8:])
		} else {
			tag = elf.DynTag(int32(f.Order.Uint32(bs)))
			val = uint64(f.Order.Uint32(bs[4:]))
		}
		if tag == elf.DT_NULL {
			break
		}
		if _, ok := d[tag]; !ok {
			d[tag] = val
		}
		bs = bs[entSize:]
	}
	return d
}

// vaddrBytes maps a virtual address through the PT_LOAD segments and
// returns the file bytes from there to the end of the segment's image.
func (f *InputFile) vaddrBytes(addr uint64, what string) ([]byte, error) {
	for i := range f.Phdrs {
		p := &f.Phdrs[i]
		if p.Type != uint32(elf.PT_LOAD) || addr < p.VAddr || addr >= p.VAddr+p.FileSize {
			continue
		}
		off := p.Offset + (addr - p.VAddr)
		size := p.FileSize - (addr - p.VAddr)
		if !f.inRange(off, size) {
			return nil, formatError(ErrTruncatedSection, what, "%d bytes at %#x", size, off)
		}
		return f.File.Contents[off : off+size], nil
	}
	return nil, formatError(ErrTruncatedSection, what, "address %#x is not in a loadable segment", addr)
}

// readSegments recovers the export surface of an image whose section
// headers were stripped, using only PT_DYNAMIC and the PT_LOAD mapping.
func (so *SharedFile) readSegments() error {
	seg := so.FindSegment(elf.PT_DYNAMIC)
	if seg == nil {
		return formatError(ErrMissingDynamicSection, "PT_DYNAMIC", "no section headers and no dynamic segment")
	}
	if !so.inRange(seg.Offset, seg.FileSize) {
		return formatError(ErrTruncatedSection, "PT_DYNAMIC", "%d bytes at %#x", seg.FileSize, seg.Offset)
	}
	dyn := so.readDynamic(so.File.Contents[seg.Offset : seg.Offset+seg.FileSize])

	strAddr, ok := dyn.get(elf.DT_STRTAB)
	if !ok {
		return formatError(ErrMissingDynamicSection, "DT_STRTAB", "dynamic segment has no string table")
	}
	strtab, err := so.vaddrBytes(strAddr, "DT_STRTAB")
	if err != nil {
		return err
	}
	if size, ok := dyn.get(elf.DT_STRSZ); ok {
		if size > uint64(len(strtab)) {
			return formatError(ErrTruncatedSection, "DT_STRTAB", "DT_STRSZ %d", size)
		}
		strtab = strtab[:size]
	}
	so.SymbolStrtab = strtab

	symAddr, ok := dyn.get(elf.DT_SYMTAB)
	if !ok {
		return formatError(ErrMissingDynamicSection, "DT_SYMTAB", "dynamic segment has no symbol table")
	}
	symtab, err := so.vaddrBytes(symAddr, "DT_SYMTAB")
	if err != nil {
		return err
	}
	nsyms, err := so.countDynsyms(dyn)
	if err != nil {
		return err
	}
	entSize := int(unsafe.Sizeof(elf.Sym32{}))
	if so.Is64() {
		entSize = int(unsafe.Sizeof(elf.Sym64{}))
	}
	if uint64(nsyms)*uint64(entSize) > uint64(len(symtab)) {
		return formatError(ErrTruncatedSection, "DT_SYMTAB", "%d symbols", nsyms)
	}
	if so.ElfSyms, err = so.readSyms(symtab[:nsyms*entSize], "DT_SYMTAB"); err != nil {
		return err
	}

	if addr, ok := dyn.get(elf.DT_VERSYM); ok {
		bs, err := so.vaddrBytes(addr, "DT_VERSYM")
		if err != nil {
			return err
		}
		if so.Versyms, err = so.readVersyms(bs, nsyms, "DT_VERSYM"); err != nil {
			return err
		}
	}

	if addr, ok := dyn.get(elf.DT_VERDEF); ok {
		bs, err := so.vaddrBytes(addr, "DT_VERDEF")
		if err != nil {
			return err
		}
		num, _ := dyn.get(elf.DT_VERDEFNUM)
		if so.Verdefs, err = so.readVerdefs(bs, strtab, int(num), "DT_VERDEF"); err != nil {
			return err
		}
	}

	if off, ok := dyn.get(elf.DT_SONAME); ok {
		soname, ok := getName(strtab, uint32(off))
		if !ok {
			return formatError(ErrTruncatedSection, "DT_STRTAB", "DT_SONAME at %#x", off)
		}
		so.Soname = soname
	}
	return nil
}

// countDynsyms sizes the dynamic symbol table from the hash tables, the
// only place the count is recorded once section headers are gone.
func (so *SharedFile) countDynsyms(dyn dynamicTable) (int, error) {
	if addr, ok := dyn.get(elf.DT_HASH); ok {
		bs, err := so.vaddrBytes(addr, "DT_HASH")
		if err != nil {
			return 0, err
		}
		if len(bs) < 8 {
			return 0, formatError(ErrTruncatedSection, "DT_HASH", "header")
		}
		return int(so.Order.Uint32(bs[4:])), nil
	}

	addr, ok := dyn.get(elf.DT_GNU_HASH)
	if !ok {
		return 0, formatError(ErrMissingDynamicSection, "DT_HASH", "cannot size the dynamic symbol table")
	}
	bs, err := so.vaddrBytes(addr, "DT_GNU_HASH")
	if err != nil {
		return 0, err
	}
	if len(bs) < 16 {
		return 0, formatError(ErrTruncatedSection, "DT_GNU_HASH", "header")
	}

	nbuckets := uint64(so.Order.Uint32(bs))
	symoffset := uint64(so.Order.Uint32(bs[4:]))
	bloomSize := uint64(so.Order.Uint32(bs[8:]))
	buckets := 16 + bloomSize*uint64(so.WordSize())
	chains := buckets + 4*nbuckets
	if chains > uint64(len(bs)) {
		return 0, formatError(ErrTruncatedSection, "DT_GNU_HASH", "%d buckets", nbuckets)
	}

	last := uint64(0)
	for i := uint64(0); i < nbuckets; i++ {
		if b := uint64(so.Order.Uint32(bs[buckets+4*i:])); b > last {
			last = b
		}
	}
	if last < symoffset {
		return int(symoffset), nil
	}

	for {
		at := chains + 4*(last-symoffset)
		if at+4 > uint64(len(bs)) {
			return 0, formatError(ErrTruncatedSection, "DT_GNU_HASH", "chain for symbol %d", last)
		}
		if so.Order.Uint32(bs[at:])&1 != 0 {
			return int(last + 1), nil
		}
		last++
	}
}
