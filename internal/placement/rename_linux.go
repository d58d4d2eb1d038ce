//go:build linux

package placement

import (
	"errors"

	"golang.org/x/sys/unix"
)

// renameNoReplace moves src to dst atomically, failing with EEXIST if dst
// exists. Filesystems without renameat2 support fall back to link+unlink.
func renameNoReplace(src, dst string) (string, error) {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return MethodRename, nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOTSUP):
		return linkRename(src, dst)
	default:
		return "", err
	}
}
