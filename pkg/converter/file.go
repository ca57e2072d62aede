package converter

import (
	"fmt"
	"os"
	"path/filepath"
)

type File struct {
	Name     string
	Contents []byte
}

func NewFile(filename string) (*File, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read input shared library %s: %w", filename, err)
	}
	return &File{
		Name:     filename,
		Contents: contents,
	}, nil
}

// BaseName is the logical library name used when the image has no
// DT_SONAME.
func (f *File) BaseName() string {
	return filepath.Base(f.Name)
}
