// Package atomicfile replaces files so that readers only ever observe the
// old or the new contents, never a partial write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFile writes data to a temporary sibling of path, syncs it, and
// renames it over path. When path already exists its permission bits are
// kept; otherwise perm is used. The parent directory is synced after the
// rename so the new name survives a power loss.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	err := renameio.WriteFile(path, data, perm,
		renameio.WithTempDir(dir),
		renameio.WithExistingPermissions(),
	)
	if err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	if parent, err := os.Open(dir); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
