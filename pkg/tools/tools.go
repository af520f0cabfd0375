// Package tools implements the built-in tool surface: workspace-scoped
// readonly inspection, an allowlisted shell, and two-phase write operations
// (preview, then apply with the preview handed back).
package tools

import (
	"context"
	"fmt"

	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// Handler executes one tool invocation against decoded inputs. The returned
// map is JSON-serializable; it becomes the run output and the artifact body.
type Handler func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Definition binds a registry entry to its handler.
type Definition struct {
	Name              string
	Description       string
	PermissionProfile string
	Handler           Handler
}

// Registry is the in-process tool table. The database tool_registry mirrors
// it for operator visibility; enablement there is advisory metadata.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry builds a registry from defs, keeping their order.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r
}

// DefaultRegistry returns the six built-in tools.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Definition{
			Name:              "read_file",
			Description:       "Read a file from session workspace.",
			PermissionProfile: "workspace_read",
			Handler:           ReadFile,
		},
		Definition{
			Name:              "list_dir",
			Description:       "List files in session workspace.",
			PermissionProfile: "workspace_read",
			Handler:           ListDir,
		},
		Definition{
			Name:              "run_shell_readonly",
			Description:       "Run allowlisted readonly shell commands.",
			PermissionProfile: "shell_readonly",
			Handler:           RunShellReadonly,
		},
		Definition{
			Name:              "write_file_preview",
			Description:       "Preview file write.",
			PermissionProfile: "workspace_write_preview",
			Handler:           WriteFilePreview,
		},
		Definition{
			Name:              "write_file_apply",
			Description:       "Apply file write.",
			PermissionProfile: "workspace_write_apply",
			Handler:           WriteFileApply,
		},
		Definition{
			Name:              "apply_patch",
			Description:       "Apply patch in preview/apply mode.",
			PermissionProfile: "workspace_patch",
			Handler:           ApplyPatch,
		},
	)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Descriptors returns registry metadata for database seeding.
func (r *Registry) Descriptors() []workflow.ToolDescriptor {
	out := make([]workflow.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.defs[name]
		out = append(out, workflow.ToolDescriptor{
			ToolName:          d.Name,
			PermissionProfile: d.PermissionProfile,
			Description:       d.Description,
			Enabled:           true,
		})
	}
	return out
}

// IsMutating reports whether an invocation would change the workspace.
// apply_patch only mutates in apply mode; previews never mutate.
func IsMutating(tool string, inputs map[string]any) bool {
	switch tool {
	case "write_file_apply":
		return true
	case "apply_patch":
		mode, _ := inputs["mode"].(string)
		return mode == "apply"
	}
	return false
}

// RequiresPreview reports whether an invocation must carry a preview input.
func RequiresPreview(tool string, inputs map[string]any) bool {
	return IsMutating(tool, inputs)
}

// HasPreview reports whether the inputs carry a preview object.
func HasPreview(inputs map[string]any) bool {
	_, ok := inputs["preview"].(map[string]any)
	return ok
}

func requireString(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key]
	if !ok {
		return "", fmt.Errorf("missing required input: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("input %s must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(inputs map[string]any, key, fallback string) string {
	if s, ok := inputs[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func optionalInt(inputs map[string]any, key string, fallback int) int {
	switch v := inputs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func optionalPreview(inputs map[string]any) map[string]any {
	if p, ok := inputs["preview"].(map[string]any); ok {
		return p
	}
	return nil
}
