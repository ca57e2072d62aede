package converter

import (
	"debug/elf"
	"math"
	"sort"

	"github.com/ksco/soda/pkg/utils"
)

// SectionFragment is one NUL-terminated string inside a StringSection.
type SectionFragment struct {
	OutputSection *StringSection
	Offset        uint32
}

func NewSectionFragment(m *StringSection) *SectionFragment {
	return &SectionFragment{OutputSection: m, Offset: math.MaxUint32}
}

// StringSection stores each distinct string once. Offsets are assigned
// in a fixed order so identical inputs give identical bytes. The empty
// string always lands at offset 0.
type StringSection struct {
	Chunk
	Map map[string]*SectionFragment
}

func NewStringSection(name string, typ elf.SectionType, flags elf.SectionFlag) *StringSection {
	m := &StringSection{
		Chunk: NewChunk(name, uint32(typ), uint64(flags), 1),
		Map:   make(map[string]*SectionFragment),
	}
	m.Insert("")
	return m
}

func (m *StringSection) Insert(key string) *SectionFragment {
	fragment, ok := m.Map[key]
	if !ok {
		fragment = NewSectionFragment(m)
		m.Map[key] = fragment
	}
	return fragment
}

// Offset returns where key was placed. Keys must be inserted and
// AssignOffsets run first.
func (m *StringSection) Offset(key string) uint32 {
	frag, ok := m.Map[key]
	if !ok || frag.Offset == math.MaxUint32 {
		utils.Fatal("string not placed: " + key)
	}
	return frag.Offset
}

func (m *StringSection) AssignOffsets() {
	keys := make([]string, 0, len(m.Map))
	for key := range m.Map {
		keys = append(keys, key)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	offset := uint64(0)
	for _, key := range keys {
		m.Map[key].Offset = uint32(offset)
		offset += uint64(len(key)) + 1
	}
	m.Shdr.Size = offset
}

func (m *StringSection) UpdateShdr(ctx *Context) {
	m.AssignOffsets()
}

func (m *StringSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[m.Shdr.Offset:]
	for key, frag := range m.Map {
		writeString(buf[frag.Offset:], key)
	}
}
