package storage

import (
	"context"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// InsertArtifact persists one artifact record and fills in its id.
func InsertArtifact(ctx context.Context, q Querier, a *workflow.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = workflow.UTCNow()
	}
	res, err := q.ExecContext(ctx, `
        INSERT INTO artifacts (session_id, run_id, step_id, kind, path, sha256, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.RunID, a.StepID, a.Kind, a.Path, nullIfEmpty(a.SHA256),
		formatTime(a.CreatedAt))
	if err != nil {
		return domainerrors.Internal("insert artifact", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return domainerrors.Internal("artifact id", err)
	}
	return nil
}

// ListArtifacts returns the session's artifacts, newest first.
func ListArtifacts(ctx context.Context, q Querier, sessionID string) ([]workflow.Artifact, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT id, session_id, COALESCE(run_id, 0), COALESCE(step_id, 0), kind, path,
               COALESCE(sha256, ''), created_at
        FROM artifacts WHERE session_id = ?
        ORDER BY id DESC`, sessionID)
	if err != nil {
		return nil, domainerrors.Internal("list artifacts", err)
	}
	defer rows.Close()

	artifacts := []workflow.Artifact{}
	for rows.Next() {
		var (
			a         workflow.Artifact
			createdAt string
		)
		err := rows.Scan(&a.ID, &a.SessionID, &a.RunID, &a.StepID, &a.Kind,
			&a.Path, &a.SHA256, &createdAt)
		if err != nil {
			return nil, domainerrors.Internal("scan artifact", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, domainerrors.Internal("parse artifact created_at", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerrors.Internal("iterate artifacts", err)
	}
	return artifacts, nil
}
