package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modifyPatch = `--- a/greeting.txt
+++ b/greeting.txt
@@ -1,3 +1,3 @@
 line one
-line two
+line 2
 line three
`

func TestApplyPatchPreviewAndApply(t *testing.T) {
	ws := newWorkspace(t)
	target := filepath.Join(ws, "greeting.txt")
	require.NoError(t, os.WriteFile(target, []byte("line one\nline two\nline three\n"), 0o644))

	preview, err := ApplyPatch(context.Background(), map[string]any{
		"workspace_root": ws,
		"patch":          modifyPatch,
		"mode":           "preview",
	})
	require.NoError(t, err)
	assert.Equal(t, true, preview["changed"])
	assert.Nil(t, preview["applied"])

	// Preview must not modify the file.
	current, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\nline three\n", string(current))

	out, err := ApplyPatch(context.Background(), map[string]any{
		"workspace_root": ws,
		"patch":          modifyPatch,
		"mode":           "apply",
		"preview":        preview,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["applied"])

	current, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline 2\nline three\n", string(current))
}

func TestApplyPatchCreatesNewFile(t *testing.T) {
	ws := newWorkspace(t)
	patch := `--- /dev/null
+++ b/fresh.txt
@@ -0,0 +1,2 @@
+alpha
+beta
`
	out, err := ApplyPatch(context.Background(), map[string]any{
		"workspace_root": ws,
		"patch":          patch,
		"mode":           "apply",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["applied"])

	content, err := os.ReadFile(filepath.Join(ws, "fresh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta", string(content))
}

func TestApplyPatchContextMismatch(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "greeting.txt"),
		[]byte("totally different\ncontent\nhere\n"), 0o644))

	_, err := ApplyPatch(context.Background(), map[string]any{
		"workspace_root": ws,
		"patch":          modifyPatch,
		"mode":           "apply",
	})
	require.EqualError(t, err, "context line does not match current content")
}

func TestApplyPatchRejectsMalformedInput(t *testing.T) {
	ws := newWorkspace(t)
	tests := []struct {
		name    string
		patch   string
		mode    string
		wantErr string
	}{
		{"empty", "   \n", "preview", "patch is empty"},
		{"no headers", "@@ -1 +1 @@\n x\n", "preview", "patch must include ---/+++ headers"},
		{"deletion", "--- a/x.txt\n+++ /dev/null\n@@ -1 +0,0 @@\n-x\n", "preview", "file deletion is not supported"},
		{
			"multi file",
			"--- a/x.txt\n+++ b/x.txt\n@@ -1 +1 @@\n-x\n+y\n--- a/z.txt\n+++ b/z.txt\n@@ -1 +1 @@\n-z\n+w\n",
			"preview",
			"multiple file patches are not supported",
		},
		{"no hunks", "--- a/x.txt\n+++ b/x.txt\n", "preview", "patch must include at least one hunk"},
		{"bad mode", modifyPatch, "force", "mode must be 'preview' or 'apply'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplyPatch(context.Background(), map[string]any{
				"workspace_root": ws,
				"patch":          tt.patch,
				"mode":           tt.mode,
			})
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestApplyPatchRejectsWorkspaceEscape(t *testing.T) {
	ws := newWorkspace(t)
	patch := `--- a/../evil.txt
+++ b/../evil.txt
@@ -0,0 +1 @@
+owned
`
	_, err := ApplyPatch(context.Background(), map[string]any{
		"workspace_root": ws,
		"patch":          patch,
		"mode":           "apply",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside workspace")
}

func TestApplyHunksPreservesTrailingNewline(t *testing.T) {
	before := "a\nb\nc\n"
	after, err := applyHunks(before, []hunk{{oldStart: 2, lines: []string{"-b", "+B"}}})
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", after)
}

func TestApplyHunksInvalidStart(t *testing.T) {
	_, err := applyHunks("a\n", []hunk{{oldStart: 99, lines: []string{"+x"}}})
	require.EqualError(t, err, "invalid hunk start position")
}
