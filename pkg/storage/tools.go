package storage

import (
	"context"
	"database/sql"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// SeedTools inserts registry rows for tools that are not registered yet.
// Existing rows, including operator edits to enabled, are left alone.
func SeedTools(ctx context.Context, q Querier, tools []workflow.ToolDescriptor) error {
	now := formatTime(workflow.UTCNow())
	for _, t := range tools {
		_, err := q.ExecContext(ctx, `
            INSERT INTO tool_registry (tool_name, permission_profile, description, enabled, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT(tool_name) DO NOTHING`,
			t.ToolName, t.PermissionProfile, t.Description, boolToInt(t.Enabled), now, now)
		if err != nil {
			return domainerrors.Internal("seed tool "+t.ToolName, err)
		}
	}
	return nil
}

// ListTools returns all registered tools ordered by name.
func ListTools(ctx context.Context, q Querier) ([]workflow.ToolDescriptor, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT tool_name, permission_profile, description, enabled
        FROM tool_registry ORDER BY tool_name`)
	if err != nil {
		return nil, domainerrors.Internal("list tools", err)
	}
	defer rows.Close()

	tools := []workflow.ToolDescriptor{}
	for rows.Next() {
		var (
			t       workflow.ToolDescriptor
			enabled int
		)
		if err := rows.Scan(&t.ToolName, &t.PermissionProfile, &t.Description, &enabled); err != nil {
			return nil, domainerrors.Internal("scan tool", err)
		}
		t.Enabled = enabled != 0
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerrors.Internal("iterate tools", err)
	}
	return tools, nil
}

// GetTool loads a single registry entry.
func GetTool(ctx context.Context, q Querier, name string) (workflow.ToolDescriptor, error) {
	var (
		t       workflow.ToolDescriptor
		enabled int
	)
	err := q.QueryRowContext(ctx, `
        SELECT tool_name, permission_profile, description, enabled
        FROM tool_registry WHERE tool_name = ?`, name).
		Scan(&t.ToolName, &t.PermissionProfile, &t.Description, &enabled)
	if err == sql.ErrNoRows {
		return workflow.ToolDescriptor{}, domainerrors.NotFound("tool")
	}
	if err != nil {
		return workflow.ToolDescriptor{}, domainerrors.Internal("load tool", err)
	}
	t.Enabled = enabled != 0
	return t, nil
}
