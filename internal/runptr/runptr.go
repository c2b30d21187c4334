// Package runptr is the default collab.CurrentRunPointer: it reads
// the trimmed contents of the "current-run" file under the
// coordination state directory, per §6's persisted state layout.
package runptr

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Pointer reads the active run id from a single file.
type Pointer struct {
	path string
}

// New returns a Pointer reading <stateDir>/current-run.
func New(stateDir string) *Pointer {
	return &Pointer{path: filepath.Join(stateDir, "current-run")}
}

// CurrentRunID returns the trimmed file contents, or "" if the file
// does not exist. An empty string means no run is active.
func (p *Pointer) CurrentRunID() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
