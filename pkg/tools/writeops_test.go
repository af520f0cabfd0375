package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFilePreviewDoesNotTouchDisk(t *testing.T) {
	ws := newWorkspace(t)

	out, err := WriteFilePreview(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "notes.txt",
		"content":        "hello\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", out["path"])
	assert.Equal(t, true, out["changed"])
	assert.Contains(t, out["diff"].(string), "+hello")
	assert.NotEmpty(t, out["new_sha256"])

	_, statErr := os.Stat(filepath.Join(ws, "notes.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteFilePreviewUnchanged(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "same.txt"), []byte("stable\n"), 0o644))

	out, err := WriteFilePreview(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "same.txt",
		"content":        "stable\n",
	})
	require.NoError(t, err)
	assert.Equal(t, false, out["changed"])
	assert.Equal(t, out["old_sha256"], out["new_sha256"])
}

func TestWriteFileApplyWithMatchingPreview(t *testing.T) {
	ws := newWorkspace(t)

	preview, err := WriteFilePreview(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "out/result.txt",
		"content":        "final\n",
	})
	require.NoError(t, err)

	out, err := WriteFileApply(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "out/result.txt",
		"content":        "final\n",
		"preview":        preview,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["applied"])

	written, err := os.ReadFile(filepath.Join(ws, "out", "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "final\n", string(written))
}

func TestWriteFileApplyRejectsStalePreview(t *testing.T) {
	ws := newWorkspace(t)
	target := filepath.Join(ws, "race.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1\n"), 0o644))

	preview, err := WriteFilePreview(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "race.txt",
		"content":        "v2\n",
	})
	require.NoError(t, err)

	// Someone else writes the file between preview and apply.
	require.NoError(t, os.WriteFile(target, []byte("surprise\n"), 0o644))

	_, err = WriteFileApply(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "race.txt",
		"content":        "v2\n",
		"preview":        preview,
	})
	require.EqualError(t, err, "provided preview does not match current file state")

	current, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "surprise\n", string(current))
}

func TestWriteFileApplyRejectsEscape(t *testing.T) {
	ws := newWorkspace(t)

	_, err := WriteFileApply(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "../outside.txt",
		"content":        "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside workspace")
}
