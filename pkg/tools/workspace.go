package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ensureWorkspaceRoot resolves and validates the workspace directory every
// tool is confined to.
func ensureWorkspaceRoot(workspaceRoot string) (string, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("workspace_root must be an existing directory")
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("workspace_root must be an existing directory")
	}
	return root, nil
}

// resolveWorkspacePath joins path onto root and rejects any result escaping
// it, whether by .. segments or an absolute path. Returns the absolute
// target and its canonical root-relative form.
func resolveWorkspacePath(root, path string) (string, string, error) {
	target := filepath.Join(root, path)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q is outside workspace %q", path, root)
	}
	return target, filepath.ToSlash(rel), nil
}

func workspaceFromInputs(inputs map[string]any) (string, error) {
	raw, err := requireString(inputs, "workspace_root")
	if err != nil {
		return "", err
	}
	return ensureWorkspaceRoot(raw)
}
