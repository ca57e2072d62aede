package converter

import (
	"path/filepath"
	"strings"

	"github.com/ksco/soda/pkg/utils"
)

// LibraryStem turns libfoo.so.1.2 into foo. Names without a .so suffix
// lose their last extension instead.
func LibraryStem(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, ".so"); i > 0 && (len(name) == i+3 || name[i+3] == '.') {
		name = name[:i]
	} else {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	if stem, ok := utils.RemovePrefix(name, "lib"); ok && stem != "" {
		return stem
	}
	return name
}

// DefaultOutputPath is <stem>.o in the working directory.
func DefaultOutputPath(input string) string {
	return LibraryStem(input) + ".o"
}

// ArchivePath places lib<stem>.a next to the object.
func ArchivePath(output string) string {
	name := filepath.Base(output)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(filepath.Dir(output), "lib"+stem+".a")
}
