package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

func TestReadFile(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "hello.txt"), []byte("hi there\n"), 0o644))

	out, err := ReadFile(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "hello.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", out["path"])
	assert.Equal(t, "hi there\n", out["content"])
}

func TestReadFileRejectsEscape(t *testing.T) {
	ws := newWorkspace(t)
	for _, path := range []string{"../secret", "../../etc/passwd", "a/../../x"} {
		_, err := ReadFile(context.Background(), map[string]any{
			"workspace_root": ws,
			"path":           path,
		})
		require.Error(t, err, "path %s must be rejected", path)
		assert.Contains(t, err.Error(), "outside workspace")
	}
}

func TestReadFileRequiresInputs(t *testing.T) {
	ws := newWorkspace(t)

	_, err := ReadFile(context.Background(), map[string]any{"path": "x"})
	require.EqualError(t, err, "missing required input: workspace_root")

	_, err = ReadFile(context.Background(), map[string]any{"workspace_root": ws})
	require.EqualError(t, err, "missing required input: path")

	_, err = ReadFile(context.Background(), map[string]any{
		"workspace_root": filepath.Join(ws, "does-not-exist"),
		"path":           "x",
	})
	require.EqualError(t, err, "workspace_root must be an existing directory")
}

func TestListDir(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), nil, 0o644))

	out, err := ListDir(context.Background(), map[string]any{"workspace_root": ws})
	require.NoError(t, err)
	entries, ok := out["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 3)

	first := entries[0].(map[string]any)
	assert.Equal(t, "a.txt", first["name"])
	assert.Equal(t, false, first["is_dir"])
	last := entries[2].(map[string]any)
	assert.Equal(t, "sub", last["name"])
	assert.Equal(t, true, last["is_dir"])
}

func TestListDirRejectsFiles(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "plain.txt"), nil, 0o644))

	_, err := ListDir(context.Background(), map[string]any{
		"workspace_root": ws,
		"path":           "plain.txt",
	})
	require.EqualError(t, err, "target path is not a directory")
}

func TestIsAllowlistedCommand(t *testing.T) {
	tests := []struct {
		command string
		allowed bool
	}{
		{"ls", true},
		{"ls -la subdir", true},
		{"cat README.md", true},
		{"rg pattern .", true},
		{"find . -name '*.go'", true},
		{"git status", true},
		{"git diff --stat", true},
		{"python -m pytest -q", true},
		{"git push origin main", false},
		{"rm -rf /", false},
		{"python -m http.server", false},
		{"", false},
		{"cat 'unterminated", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.allowed, IsAllowlistedCommand(tt.command))
		})
	}
}

func TestRunShellReadonly(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "data.txt"), []byte("payload"), 0o644))

	out, err := RunShellReadonly(context.Background(), map[string]any{
		"workspace_root": ws,
		"command":        "cat data.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out["exit_code"])
	assert.Equal(t, "payload", out["stdout"])
	assert.Equal(t, "cat data.txt", out["command"])
}

func TestRunShellReadonlyNonZeroExit(t *testing.T) {
	ws := newWorkspace(t)

	out, err := RunShellReadonly(context.Background(), map[string]any{
		"workspace_root": ws,
		"command":        "cat no-such-file.txt",
	})
	require.NoError(t, err)
	assert.NotEqual(t, 0, out["exit_code"])
	assert.NotEmpty(t, out["stderr"])
}

func TestRunShellReadonlyBlocksUnlistedCommands(t *testing.T) {
	ws := newWorkspace(t)

	_, err := RunShellReadonly(context.Background(), map[string]any{
		"workspace_root": ws,
		"command":        "echo pwned",
	})
	require.EqualError(t, err, "command is not allowlisted: echo pwned")
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	descriptors := r.Descriptors()
	require.Len(t, descriptors, 6)

	profiles := map[string]string{}
	for _, d := range descriptors {
		profiles[d.ToolName] = d.PermissionProfile
		assert.True(t, d.Enabled)
		_, ok := r.Get(d.ToolName)
		assert.True(t, ok)
	}
	assert.Equal(t, "workspace_read", profiles["read_file"])
	assert.Equal(t, "workspace_read", profiles["list_dir"])
	assert.Equal(t, "shell_readonly", profiles["run_shell_readonly"])
	assert.Equal(t, "workspace_write_preview", profiles["write_file_preview"])
	assert.Equal(t, "workspace_write_apply", profiles["write_file_apply"])
	assert.Equal(t, "workspace_patch", profiles["apply_patch"])

	_, ok := r.Get("unknown_tool")
	assert.False(t, ok)
}

func TestIsMutating(t *testing.T) {
	assert.True(t, IsMutating("write_file_apply", nil))
	assert.True(t, IsMutating("apply_patch", map[string]any{"mode": "apply"}))
	assert.False(t, IsMutating("apply_patch", map[string]any{"mode": "preview"}))
	assert.False(t, IsMutating("write_file_preview", nil))
	assert.False(t, IsMutating("read_file", nil))
}
