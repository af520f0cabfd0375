package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRE = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// hunk is one parsed @@ block: the 1-based old-file start line plus the raw
// body lines (each prefixed with ' ', '-', or '+').
type hunk struct {
	oldStart int
	lines    []string
}

// parseSingleFilePatch extracts the target path and hunks from a unified
// diff touching exactly one file. Deletions and multi-file patches are
// rejected.
func parseSingleFilePatch(patch string) (string, []hunk, error) {
	if strings.TrimSpace(patch) == "" {
		return "", nil, fmt.Errorf("patch is empty")
	}
	// A newline-terminated patch must not grow a trailing empty hunk line.
	lines := splitPatchLines(patch)

	headerIndex := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "--- ") {
			headerIndex = i
			break
		}
	}
	if headerIndex < 0 || headerIndex+1 >= len(lines) {
		return "", nil, fmt.Errorf("patch must include ---/+++ headers")
	}
	nextLine := lines[headerIndex+1]
	if !strings.HasPrefix(nextLine, "+++ ") {
		return "", nil, fmt.Errorf("patch must include ---/+++ headers")
	}

	newPath := normalizePatchPath(nextLine[4:])
	if newPath == "/dev/null" {
		return "", nil, fmt.Errorf("file deletion is not supported")
	}
	if newPath == "" {
		return "", nil, fmt.Errorf("patch target path is invalid")
	}

	var hunks []hunk
	index := headerIndex + 2
	for index < len(lines) {
		line := lines[index]
		switch {
		case strings.HasPrefix(line, "diff --git ") || strings.HasPrefix(line, "index "):
			index++
			continue
		case strings.HasPrefix(line, "--- "):
			return "", nil, fmt.Errorf("multiple file patches are not supported")
		case !strings.HasPrefix(line, "@@ "):
			index++
			continue
		}

		match := hunkHeaderRE.FindStringSubmatch(line)
		if match == nil {
			return "", nil, fmt.Errorf("invalid hunk header: %s", line)
		}
		oldStart, _ := strconv.Atoi(match[1])
		index++

		var body []string
		for index < len(lines) {
			candidate := lines[index]
			if strings.HasPrefix(candidate, "@@ ") || strings.HasPrefix(candidate, "--- ") {
				break
			}
			body = append(body, candidate)
			index++
		}
		hunks = append(hunks, hunk{oldStart: oldStart, lines: body})
	}

	if len(hunks) == 0 {
		return "", nil, fmt.Errorf("patch must include at least one hunk")
	}
	return newPath, hunks, nil
}

func normalizePatchPath(rawLabel string) string {
	token := strings.TrimSpace(rawLabel)
	if i := strings.IndexAny(token, "\t "); i >= 0 {
		token = token[:i]
	}
	if token == "/dev/null" {
		return token
	}
	token = strings.TrimPrefix(strings.TrimPrefix(token, "a/"), "b/")
	return token
}

// applyHunks replays the hunks against before, verifying every context and
// deletion line verbatim.
func applyHunks(before string, hunks []hunk) (string, error) {
	oldLines := splitPatchLines(before)
	var result []string
	cursor := 0

	for _, h := range hunks {
		startIndex := h.oldStart - 1
		if startIndex < 0 {
			startIndex = 0
		}
		if startIndex < cursor || startIndex > len(oldLines) {
			return "", fmt.Errorf("invalid hunk start position")
		}
		result = append(result, oldLines[cursor:startIndex]...)
		cursor = startIndex

		for _, raw := range h.lines {
			if strings.HasPrefix(raw, `\ No newline at end of file`) {
				continue
			}
			if raw == "" {
				return "", fmt.Errorf("invalid hunk line")
			}
			op, text := raw[0], raw[1:]
			switch op {
			case ' ':
				if cursor >= len(oldLines) || oldLines[cursor] != text {
					return "", fmt.Errorf("context line does not match current content")
				}
				result = append(result, text)
				cursor++
			case '-':
				if cursor >= len(oldLines) || oldLines[cursor] != text {
					return "", fmt.Errorf("deletion line does not match current content")
				}
				cursor++
			case '+':
				result = append(result, text)
			default:
				return "", fmt.Errorf("unsupported hunk operation: %c", op)
			}
		}
	}

	result = append(result, oldLines[cursor:]...)
	after := strings.Join(result, "\n")
	if strings.HasSuffix(before, "\n") && after != "" && !strings.HasSuffix(after, "\n") {
		after += "\n"
	}
	return after, nil
}

// splitPatchLines splits on newlines without a trailing empty element, the
// same view of a file diff tooling takes.
func splitPatchLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func computePatchPreview(inputs map[string]any) (target, after string, payload map[string]any, err error) {
	root, err := workspaceFromInputs(inputs)
	if err != nil {
		return "", "", nil, err
	}
	patch, err := requireString(inputs, "patch")
	if err != nil {
		return "", "", nil, err
	}
	patchPath, hunks, err := parseSingleFilePatch(patch)
	if err != nil {
		return "", "", nil, err
	}
	target, canonical, err := resolveWorkspacePath(root, patchPath)
	if err != nil {
		return "", "", nil, err
	}
	before, err := readTextIfExists(target)
	if err != nil {
		return "", "", nil, err
	}
	after, err = applyHunks(before, hunks)
	if err != nil {
		return "", "", nil, err
	}
	return target, after, buildPreviewPayload(canonical, before, after), nil
}

// ApplyPatch previews or applies a single-file unified diff. mode "preview"
// returns the would-be result; mode "apply" writes it after revalidating any
// provided preview.
func ApplyPatch(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	mode, err := requireString(inputs, "mode")
	if err != nil {
		return nil, err
	}
	if mode != "preview" && mode != "apply" {
		return nil, fmt.Errorf("mode must be 'preview' or 'apply'")
	}

	target, after, actual, err := computePatchPreview(inputs)
	if err != nil {
		return nil, err
	}
	if mode == "preview" {
		return actual, nil
	}
	if provided := optionalPreview(inputs); provided != nil {
		if err := validatePreview(provided, actual); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, []byte(after), 0o644); err != nil {
		return nil, err
	}
	applied := make(map[string]any, len(actual)+1)
	for k, v := range actual {
		applied[k] = v
	}
	applied["applied"] = true
	return applied, nil
}
