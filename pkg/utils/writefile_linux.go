//go:build linux

package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WriteFile replaces path with data so that readers see either the old
// file or the complete new one. The bytes go to an unnamed O_TMPFILE inode
// that only gets a name once fully written and synced.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	fd, err := unix.Open(dir, unix.O_WRONLY|unix.O_CLOEXEC|unix.O_TMPFILE, uint32(perm.Perm()))
	if err != nil {
		Debugf("O_TMPFILE unavailable in %s (%v), using a named temporary", dir, err)
		return writeFileRename(path, data, perm)
	}
	defer func() { _ = unix.Close(fd) }()

	written := 0
	for written < len(data) {
		n, err := unix.Write(fd, data[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("write %s: %w", path, err)
		}
		if n <= 0 {
			return fmt.Errorf("write %s: short write (%d/%d)", path, written, len(data))
		}
		written += n
	}

	if err := unix.Fsync(fd); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", filepath.Base(path), os.Getpid()))
	_ = os.Remove(tmp)
	procPath := fmt.Sprintf("/proc/self/fd/%d", fd)
	if err := unix.Linkat(unix.AT_FDCWD, procPath, unix.AT_FDCWD, tmp, unix.AT_SYMLINK_FOLLOW); err != nil {
		Debugf("linkat %s failed (%v), using a named temporary", procPath, err)
		return writeFileRename(path, data, perm)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
