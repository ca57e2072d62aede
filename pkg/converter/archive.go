package converter

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/blakesmith/ar"
)

const (
	arGlobalHeaderSize = 8
	arHeaderSize       = 60
	arNameSize         = 16
)

// BuildArchive wraps the object in a GNU ar archive with a symbol index,
// so it can be linked as lib<stem>.a.
func BuildArchive(ctx *Context) ([]byte, error) {
	out := &bytes.Buffer{}
	w := ar.NewWriter(out)
	if err := w.WriteGlobalHeader(); err != nil {
		return nil, err
	}

	var names []string
	for _, sym := range ctx.Exports {
		names = append(names, sym.Name)
	}
	armap := buildArmap(names)
	if err := writeMember(w, "/", armap); err != nil {
		return nil, err
	}
	if err := writeMember(w, memberName(ctx.Arg.Output), ctx.Buf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// buildArmap lays out the GNU "/" member for an archive whose only
// object follows the index.
func buildArmap(names []string) []byte {
	size := 4 + 4*len(names)
	for _, name := range names {
		size += len(name) + 1
	}
	objOffset := uint32(arGlobalHeaderSize + arHeaderSize + size + size%2)

	buf := make([]byte, 4+4*len(names), size)
	binary.BigEndian.PutUint32(buf, uint32(len(names)))
	for i := range names {
		binary.BigEndian.PutUint32(buf[4+4*i:], objOffset)
	}
	for _, name := range names {
		buf = append(buf, name...)
		buf = append(buf, 0)
	}
	return buf
}

// memberName is the object's base name with the GNU trailing slash, cut
// to fit the fixed-width name field.
func memberName(output string) string {
	name := filepath.Base(output)
	if len(name) > arNameSize-1 {
		name = name[:arNameSize-1]
	}
	return name + "/"
}

func writeMember(w *ar.Writer, name string, data []byte) error {
	hdr := &ar.Header{
		Name:    name,
		ModTime: time.Unix(0, 0),
		Mode:    0o644,
		Size:    int64(len(data)),
	}
	if err := w.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
