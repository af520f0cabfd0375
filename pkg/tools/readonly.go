package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
)

// ReadFile returns the UTF-8 content of a workspace file.
func ReadFile(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	root, err := workspaceFromInputs(inputs)
	if err != nil {
		return nil, err
	}
	path, err := requireString(inputs, "path")
	if err != nil {
		return nil, err
	}
	target, _, err := resolveWorkspacePath(root, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "content": string(content)}, nil
}

// ListDir lists a workspace directory, entries sorted by name.
func ListDir(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	root, err := workspaceFromInputs(inputs)
	if err != nil {
		return nil, err
	}
	path := optionalString(inputs, "path", ".")
	target, _, err := resolveWorkspacePath(root, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("target path is not a directory")
	}
	dirEntries, err := os.ReadDir(target)
	if err != nil {
		return nil, err
	}
	sort.Slice(dirEntries, func(i, j int) bool {
		return dirEntries[i].Name() < dirEntries[j].Name()
	})
	entries := make([]any, 0, len(dirEntries))
	for _, e := range dirEntries {
		entries = append(entries, map[string]any{
			"name":   e.Name(),
			"is_dir": e.IsDir(),
		})
	}
	return map[string]any{"path": path, "entries": entries}, nil
}
