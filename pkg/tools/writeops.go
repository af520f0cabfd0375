package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
)

// previewPayload is the contract between the preview and apply phases: the
// caller receives it from the preview tool and must hand it back unchanged
// to the apply tool.
func buildPreviewPayload(path, before, after string) map[string]any {
	return map[string]any{
		"path":       path,
		"changed":    before != after,
		"diff":       buildUnifiedDiff(before, after, path),
		"old_sha256": sha256Hex(before),
		"new_sha256": sha256Hex(after),
	}
}

func buildUnifiedDiff(before, after, relativePath string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + relativePath,
		ToFile:   "b/" + relativePath,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// validatePreview checks the caller-provided preview against the recomputed
// one. path, diff, and new_sha256 must all match; a mismatch means the file
// changed since the preview was taken or the preview was edited.
func validatePreview(provided, actual map[string]any) error {
	for _, key := range []string{"path", "diff", "new_sha256"} {
		if provided[key] != actual[key] {
			return fmt.Errorf("provided preview does not match current file state")
		}
	}
	return nil
}

func readTextIfExists(path string) (string, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func computeWritePreview(inputs map[string]any) (target string, payload map[string]any, err error) {
	root, err := workspaceFromInputs(inputs)
	if err != nil {
		return "", nil, err
	}
	path, err := requireString(inputs, "path")
	if err != nil {
		return "", nil, err
	}
	content, ok := inputs["content"].(string)
	if !ok {
		return "", nil, fmt.Errorf("missing required input: content")
	}
	target, canonical, err := resolveWorkspacePath(root, path)
	if err != nil {
		return "", nil, err
	}
	before, err := readTextIfExists(target)
	if err != nil {
		return "", nil, err
	}
	return target, buildPreviewPayload(canonical, before, content), nil
}

// WriteFilePreview computes the diff and hashes a write would produce
// without touching the file.
func WriteFilePreview(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	_, payload, err := computeWritePreview(inputs)
	return payload, err
}

// WriteFileApply writes the file after revalidating the preview against the
// current content. The preview is recomputed here, so a file that changed
// underneath the caller is rejected rather than silently overwritten.
func WriteFileApply(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	target, actual, err := computeWritePreview(inputs)
	if err != nil {
		return nil, err
	}
	if provided := optionalPreview(inputs); provided != nil {
		if err := validatePreview(provided, actual); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	content := inputs["content"].(string)
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, err
	}
	applied := make(map[string]any, len(actual)+1)
	for k, v := range actual {
		applied[k] = v
	}
	applied["applied"] = true
	return applied, nil
}
