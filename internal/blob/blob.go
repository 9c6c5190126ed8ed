// Package blob releases the physical resources file rows point at.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound reports that no physical resource exists for the local id.
var ErrNotFound = errors.New("blob not found")

// Releaser frees the stored resource behind a file row's local id. Callers
// treat failures as best-effort: log, never retry, never block the delete.
type Releaser interface {
	Release(localID string) error
}

// Dir releases blobs stored as plain files under a data directory.
type Dir struct {
	root string
}

func NewDir(root string) Dir { return Dir{root: root} }

func (d Dir) Release(localID string) error {
	// Local ids come out of stored rows, but keep them inside the root.
	if localID == "" || strings.Contains(localID, "..") || strings.ContainsRune(localID, os.PathSeparator) {
		return fmt.Errorf("invalid local id %q", localID)
	}
	path := filepath.Join(d.root, localID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, localID)
		}
		return err
	}
	return nil
}
