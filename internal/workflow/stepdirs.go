package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DirProvisioner creates each step's on-disk working directory under a
// configured data root, rejecting any path traversal attempt the way
// the original filesystem helper does.
type DirProvisioner struct {
	Root string
}

func NewDirProvisioner(root string) *DirProvisioner {
	return &DirProvisioner{Root: root}
}

func (p *DirProvisioner) ProvisionStepDir(ctx context.Context, workflowID uuid.UUID, stepID string) (string, error) {
	dir, err := safeJoin(p.Root, workflowID.String(), stepID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("workflow: provision step dir: %w", err)
	}
	return dir, nil
}

// safeJoin joins elements onto base and rejects a result that escapes
// base, guarding against a crafted step or workflow id.
func safeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.Contains(el, "..") {
			return "", fmt.Errorf("workflow: unsafe path element %q", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absJoined, absBase) {
		return "", fmt.Errorf("workflow: path %q escapes root %q", absJoined, absBase)
	}
	return absJoined, nil
}
