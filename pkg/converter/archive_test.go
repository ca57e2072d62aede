package converter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

type arMember struct {
	name string
	off  int
	data []byte
}

func readArMembers(t *testing.T, buf []byte) []arMember {
	t.Helper()
	if !bytes.HasPrefix(buf, []byte("!<arch>\n")) {
		t.Fatalf("bad archive magic %q", buf[:8])
	}
	var members []arMember
	for off := arGlobalHeaderSize; off < len(buf); {
		hdr := buf[off : off+arHeaderSize]
		size, err := strconv.Atoi(strings.TrimSpace(string(hdr[48:58])))
		if err != nil {
			t.Fatal(err)
		}
		if string(hdr[58:60]) != "`\n" {
			t.Fatalf("bad member trailer at %d", off)
		}
		members = append(members, arMember{
			name: strings.TrimRight(string(hdr[:arNameSize]), " "),
			off:  off,
			data: buf[off+arHeaderSize : off+arHeaderSize+size],
		})
		off += arHeaderSize + size + size%2
	}
	return members
}

func TestBuildArchive(t *testing.T) {
	ctx, err := convertImage(t, newTestImage(fnSym("foo"), dataSym("bar", 8), fnSym("baz")))
	if err != nil {
		t.Fatal(err)
	}
	ctx.Arg.Output = "/tmp/out/test.o"

	buf, err := BuildArchive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	members := readArMembers(t, buf)
	if len(members) != 2 || members[0].name != "/" || members[1].name != "test.o/" {
		t.Fatalf("members %+v", members)
	}

	armap := members[0].data
	if n := binary.BigEndian.Uint32(armap); n != 3 {
		t.Fatalf("armap has %d symbols", n)
	}
	for i := 0; i < 3; i++ {
		if off := binary.BigEndian.Uint32(armap[4+4*i:]); int(off) != members[1].off {
			t.Fatalf("armap entry %d points at %d, object is at %d", i, off, members[1].off)
		}
	}
	if names := string(armap[16:]); names != "foo\x00bar\x00baz\x00" {
		t.Fatalf("armap names %q", names)
	}
	if !bytes.Equal(members[1].data, ctx.Buf) {
		t.Fatal("archived object differs from the output")
	}
}

func TestMemberName(t *testing.T) {
	if name := memberName("out/libfoo.o"); name != "libfoo.o/" {
		t.Fatal(name)
	}
	if name := memberName("averyverylongobjectname.o"); name != "averyverylongob/" || len(name) != arNameSize {
		t.Fatal(name)
	}
}

func TestOutputPaths(t *testing.T) {
	stems := map[string]string{
		"/usr/lib/libz.so.1.2.13": "z",
		"libfoo.so":               "foo",
		"foo.so":                  "foo",
		"libsonic.so.4":           "sonic",
		"lib.so":                  "lib",
		"plugin.dylib":            "plugin",
	}
	for in, want := range stems {
		if got := LibraryStem(in); got != want {
			t.Errorf("LibraryStem(%q) = %q, want %q", in, got, want)
		}
	}

	if got := DefaultOutputPath("/usr/lib/libz.so.1"); got != "z.o" {
		t.Errorf("default output %q", got)
	}
	if got := ArchivePath(filepath.Join("build", "z.o")); got != filepath.Join("build", "libz.a") {
		t.Errorf("archive path %q", got)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "libtest.so.1")
	if err := os.WriteFile(input, newTestImage(fnSym("foo")).build(t).data, 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "out", "test.o")
	if err := os.Mkdir(filepath.Dir(output), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, err := Run(ContextArg{Input: input, Output: output, Archive: true})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := os.ReadFile(output)
	if err != nil || !bytes.Equal(obj, ctx.Buf) {
		t.Fatalf("object not written: %v", err)
	}
	ar, err := os.ReadFile(filepath.Join(dir, "out", "libtest.a"))
	if err != nil {
		t.Fatal(err)
	}
	if members := readArMembers(t, ar); len(members) != 2 || !bytes.Equal(members[1].data, obj) {
		t.Fatal("archive does not hold the object")
	}
}

func TestRunDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "libdefault.so")
	if err := os.WriteFile(input, newTestImage(fnSym("foo")).build(t).data, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := NewContext(ContextArg{Input: input})
	if err := ReadInputFile(ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.Arg.Output != "default.o" {
		t.Fatalf("output %q", ctx.Arg.Output)
	}
}

func TestRunRejectsNonLibraries(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(input, []byte("not a library\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Run(ContextArg{Input: input, Output: filepath.Join(dir, "x.o")})
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Kind != ErrNotRecognized {
		t.Fatalf("got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.o")); !os.IsNotExist(err) {
		t.Fatal("output written for a rejected input")
	}

	if _, err := Run(ContextArg{Input: filepath.Join(dir, "missing.so")}); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v", err)
	}
}
