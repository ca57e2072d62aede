//go:build !linux

package utils

import "os"

func WriteFile(path string, data []byte, perm os.FileMode) error {
	return writeFileRename(path, data, perm)
}
