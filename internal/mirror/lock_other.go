//go:build !unix

package mirror

import (
	"fmt"
	"os"
	"path/filepath"
)

// lockRoot opens the lock file without an OS-level lock; flock is not
// available on this platform.
func lockRoot(path string, mode os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, mode)
	if err != nil {
		return nil, fmt.Errorf("open root lock: %w", err)
	}
	return f, nil
}
