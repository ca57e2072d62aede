package converter

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func symbolNames(t *testing.T, so *SharedFile) []string {
	t.Helper()
	var names []string
	for i := 1; i < len(so.ElfSyms); i++ {
		name, ok := so.SymbolName(&so.ElfSyms[i])
		if !ok {
			t.Fatalf("symbol %d has no name", i)
		}
		names = append(names, name)
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReadSharedFile(t *testing.T) {
	img := newTestImage(fnSym("foo"), dataSym("bar", 8))
	img.versions = []string{"LIBTEST_1.0"}
	img.syms[0].versym = 2

	so, err := ReadSharedFile(img.build(t).file("libtest.so.1"))
	if err != nil {
		t.Fatal(err)
	}

	if so.Class != elf.ELFCLASS64 || so.Order != binary.LittleEndian {
		t.Fatalf("class %s order %s", so.Class, so.Order)
	}
	if so.Soname != "libtest.so.1" || so.LibraryName() != "libtest.so.1" {
		t.Fatalf("soname %q", so.Soname)
	}
	if names := symbolNames(t, so); !equalStrings(names, []string{"foo", "bar"}) {
		t.Fatalf("symbols %v", names)
	}
	if len(so.Versyms) != 3 || so.Versyms[1] != 2 || so.Versyms[2] != VER_NDX_GLOBAL {
		t.Fatalf("versyms %v", so.Versyms)
	}
	if len(so.Verdefs) != 2 || !so.Verdefs[0].IsBase() || so.Verdefs[1].Name != "LIBTEST_1.0" {
		t.Fatalf("verdefs %s", spew.Sdump(so.Verdefs))
	}
	if name, ok := so.VersionName(2); !ok || name != "LIBTEST_1.0" {
		t.Fatalf("version 2 = %q, %v", name, ok)
	}
	if _, ok := so.VersionName(1); ok {
		t.Fatal("the base definition is not a version tag")
	}
}

func TestReadSharedFileClassesAndByteOrders(t *testing.T) {
	cases := []struct {
		class elf.Class
		order binary.ByteOrder
	}{
		{elf.ELFCLASS32, binary.LittleEndian},
		{elf.ELFCLASS32, binary.BigEndian},
		{elf.ELFCLASS64, binary.BigEndian},
	}

	for _, c := range cases {
		img := newTestImage(fnSym("foo"), dataSym("bar", 4))
		img.class, img.order = c.class, c.order
		img.versions = []string{"V1"}

		so, err := ReadSharedFile(img.build(t).file("libtest.so"))
		if err != nil {
			t.Fatalf("%s %s: %v", c.class, c.order, err)
		}
		if so.Order != c.order || so.Class != c.class {
			t.Fatalf("%s %s: decoded as %s %s", c.class, c.order, so.Class, so.Order)
		}
		if names := symbolNames(t, so); !equalStrings(names, []string{"foo", "bar"}) {
			t.Fatalf("%s %s: symbols %v", c.class, c.order, names)
		}
		if so.ElfSyms[2].Size != 4 || so.Soname != "libtest.so.1" {
			t.Fatalf("%s %s: %s", c.class, c.order, spew.Sdump(so.ElfSyms[2], so.Soname))
		}
		if len(so.Verdefs) != 2 || so.Verdefs[1].Name != "V1" {
			t.Fatalf("%s %s: verdefs %v", c.class, c.order, so.Verdefs)
		}
	}
}

func TestReadSharedFileWithoutSectionHeaders(t *testing.T) {
	for _, gnuHash := range []bool{false, true} {
		img := newTestImage(fnSym("foo"), fnSym("baz"), dataSym("bar", 8))
		img.versions = []string{"LIBTEST_2"}
		img.stripSections = true
		img.gnuHash = gnuHash

		so, err := ReadSharedFile(img.build(t).file("libtest.so"))
		if err != nil {
			t.Fatalf("gnu hash %v: %v", gnuHash, err)
		}
		if len(so.ElfSections) != 0 {
			t.Fatalf("gnu hash %v: %d sections", gnuHash, len(so.ElfSections))
		}
		if names := symbolNames(t, so); !equalStrings(names, []string{"foo", "baz", "bar"}) {
			t.Fatalf("gnu hash %v: symbols %v", gnuHash, names)
		}
		if so.Soname != "libtest.so.1" || len(so.Verdefs) != 2 || len(so.Versyms) != 4 {
			t.Fatalf("gnu hash %v: %s", gnuHash, spew.Sdump(so.Soname, so.Verdefs, so.Versyms))
		}
	}
}

func TestSonameFallback(t *testing.T) {
	img := newTestImage(fnSym("foo"))
	img.soname = ""

	so, err := ReadSharedFile(img.build(t).file("/tmp/build/libplain.so"))
	if err != nil {
		t.Fatal(err)
	}
	if so.Soname != "" || so.LibraryName() != "libplain.so" {
		t.Fatalf("soname %q, library name %q", so.Soname, so.LibraryName())
	}
}

func patch(b *builtImage, at int, order binary.ByteOrder, val uint32) {
	order.PutUint32(b.data[at:], val)
}

func TestReadSharedFileErrors(t *testing.T) {
	valid := func() *builtImage {
		return newTestImage(fnSym("foo")).build(t)
	}

	cases := []struct {
		name string
		data func() []byte
		want error
	}{
		{"text", func() []byte { return []byte("hello, world\n") }, ErrNotRecognized},
		{"empty", func() []byte { return nil }, ErrNotRecognized},
		{"relocatable", func() []byte {
			b := valid()
			binary.LittleEndian.PutUint16(b.data[16:], uint16(elf.ET_REL))
			return b.data
		}, ErrNotRecognized},
		{"bad byte order", func() []byte {
			b := valid()
			b.data[elf.EI_DATA] = 7
			return b.data
		}, ErrNotRecognized},
		{"bad class", func() []byte {
			b := valid()
			b.data[elf.EI_CLASS] = 3
			return b.data
		}, ErrUnsupportedWordSize},
		{"short header", func() []byte { return valid().data[:40] }, ErrTruncatedFile},
		{"short section table", func() []byte {
			b := valid()
			return b.data[:len(b.data)-10]
		}, ErrTruncatedFile},
		{"dynsym past the end", func() []byte {
			b := valid()
			// sh_size of a 64-bit section header.
			patch(b, b.shdrOffs[".dynsym"]+32, binary.LittleEndian, 1<<20)
			return b.data
		}, ErrTruncatedSection},
		{"no dynsym", func() []byte {
			b := valid()
			patch(b, b.shdrOffs[".dynsym"]+4, binary.LittleEndian, uint32(elf.SHT_PROGBITS))
			return b.data
		}, ErrMissingDynamicSection},
		{"no dynamic", func() []byte {
			b := valid()
			patch(b, b.shdrOffs[".dynamic"]+4, binary.LittleEndian, uint32(elf.SHT_PROGBITS))
			return b.data
		}, ErrMissingDynamicSection},
	}

	for _, c := range cases {
		_, err := ReadSharedFile(&File{Name: c.name, Contents: c.data()})
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
			continue
		}
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("%s: %T is not a *FormatError", c.name, err)
		}
	}
}

func TestReadSharedFileMissingHashTable(t *testing.T) {
	img := newTestImage(fnSym("foo"))
	img.stripSections = true
	b := img.build(t)

	// Rewrite DT_HASH into an unknown tag.
	so, err := NewInputFile(b.file("libtest.so"))
	if err != nil {
		t.Fatal(err)
	}
	seg := so.FindSegment(elf.PT_DYNAMIC)
	for off := seg.Offset; off < seg.Offset+seg.FileSize; off += 16 {
		if elf.DynTag(binary.LittleEndian.Uint64(b.data[off:])) == elf.DT_HASH {
			binary.LittleEndian.PutUint64(b.data[off:], uint64(elf.DT_DEBUG))
		}
	}

	_, err = ReadSharedFile(b.file("libtest.so"))
	var fe *FormatError
	if !errors.As(err, &fe) || !errors.Is(err, ErrMissingDynamicSection) || fe.Section != "DT_HASH" {
		t.Fatalf("got %v", err)
	}
}

func TestGetFileType(t *testing.T) {
	img := newTestImage(fnSym("foo"))
	if ft := GetFileType(img.build(t).data); ft != FileTypeDso {
		t.Fatalf("shared library detected as %s", FileTypeString(ft))
	}
	img.order = binary.BigEndian
	if ft := GetFileType(img.build(t).data); ft != FileTypeDso {
		t.Fatalf("big endian shared library detected as %s", FileTypeString(ft))
	}
	if ft := GetFileType([]byte("!<arch>\nfoo")); ft != FileTypeAr {
		t.Fatalf("archive detected as %s", FileTypeString(ft))
	}
	if ft := GetFileType(nil); ft != FileTypeEmpty {
		t.Fatalf("nil detected as %s", FileTypeString(ft))
	}
}
