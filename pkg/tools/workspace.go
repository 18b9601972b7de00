package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/praxis-platform/praxis/pkg/fault"
)

// Workspace bounds all file tools to a root directory. Any path that
// resolves outside the root is rejected before touching the filesystem.
type Workspace struct {
	Root string
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{Root: abs}, nil
}

// Resolve maps a caller-supplied path into the workspace, rejecting
// escapes. Relative paths are resolved against the root; absolute paths
// must already be inside it.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fault.New(fault.CodeValidation, "path must not be empty")
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(w.Root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if candidate != w.Root && !strings.HasPrefix(candidate, w.Root+string(filepath.Separator)) {
		return "", fault.New(fault.CodeSecurityViolation, "path %s escapes workspace", path)
	}
	return candidate, nil
}
