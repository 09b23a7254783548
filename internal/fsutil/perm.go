//go:build !windows
// +build !windows

package fsutil

import (
	"io/fs"
	"os"
)

// EnsureMaxPermissions tests the provided file info, returning an error if
// the file's permission bits contain excess permissions not set in maxPerms.
//
// For example, a file with permissions -rw------- will successfully validate
// with maxPerms -rw-r--r-- or -rw-rw-r--, but not with maxPerms -r--------.
func EnsureMaxPermissions(fi os.FileInfo, maxPerms os.FileMode) error {
	// Clear all bits which are not related to the permission.
	mode := fi.Mode() & fs.ModePerm
	mask := ^(maxPerms & fs.ModePerm)
	if (mode & mask) != 0 {
		return ErrPermission
	}

	return nil
}
