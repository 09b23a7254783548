package fsutil

import (
	"os"
)

// Lock only creates the lock file on Windows; concurrent processes are
// not serialized there.
func Lock(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	return f.Close, nil
}
