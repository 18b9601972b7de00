package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/praxis-platform/praxis/pkg/fault"
)

// FileEdit is one substring replacement in one file.
type FileEdit struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// MultiEditResult reports the outcome of a multi-file edit.
type MultiEditResult struct {
	Applied           int  `json:"applied"`
	RollbackPerformed bool `json:"rollback_performed"`
}

// preImage captures a file's state before an edit so it can be restored.
type preImage struct {
	path    string
	existed bool
	content []byte
	mode    os.FileMode
}

// ApplyMultiEdit applies edits in order. With atomic=true, any failure
// restores every touched file to its pre-image and the result reports
// rollbackPerformed. Rollback failures are logged but never replace the
// original error.
func ApplyMultiEdit(ctx context.Context, ws *Workspace, edits []FileEdit, atomic bool) (*MultiEditResult, error) {
	result := &MultiEditResult{}
	var images []preImage

	rollback := func() {
		for i := len(images) - 1; i >= 0; i-- {
			img := images[i]
			var err error
			if img.existed {
				err = os.WriteFile(img.path, img.content, img.mode)
			} else {
				err = os.Remove(img.path)
			}
			if err != nil {
				slog.Error("Rollback failed for file", "path", img.path, "error", err)
			}
		}
		result.RollbackPerformed = true
	}

	for _, edit := range edits {
		if err := ctx.Err(); err != nil {
			if atomic {
				rollback()
			}
			return result, fault.Wrap(fault.CodeCancelled, err, "multi-edit aborted")
		}

		path, err := ws.Resolve(edit.Path)
		if err != nil {
			if atomic {
				rollback()
			}
			return result, err
		}

		err = applyOneEdit(path, edit, &images)
		if err != nil {
			if atomic {
				rollback()
			}
			return result, err
		}
		result.Applied++
	}

	return result, nil
}

func applyOneEdit(path string, edit FileEdit, images *[]preImage) error {
	img := preImage{path: path, mode: 0o644}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		img.existed = true
		img.content = data
		if info, statErr := os.Stat(path); statErr == nil {
			img.mode = info.Mode()
		}
	case os.IsNotExist(err):
		// Creating a file is only valid for an empty Old.
		if edit.Old != "" {
			return fault.New(fault.CodeToolExecutionFailed, "file %s does not exist", edit.Path)
		}
	default:
		return fmt.Errorf("read %s: %w", edit.Path, err)
	}

	content := string(data)
	if edit.Old != "" && !strings.Contains(content, edit.Old) {
		return fault.New(fault.CodeToolExecutionFailed, "old text not found in %s", edit.Path)
	}

	var updated string
	if edit.Old == "" {
		updated = content + edit.New
	} else {
		updated = strings.Replace(content, edit.Old, edit.New, 1)
	}

	// Pre-image is recorded before the write so rollback can restore it.
	*images = append(*images, img)

	if err := os.WriteFile(path, []byte(updated), img.mode); err != nil {
		return fmt.Errorf("write %s: %w", edit.Path, err)
	}
	return nil
}
