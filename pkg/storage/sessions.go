package storage

import (
	"context"
	"database/sql"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// InsertSession persists a freshly created session.
func InsertSession(ctx context.Context, q Querier, s workflow.Session) error {
	_, err := q.ExecContext(ctx, `
        INSERT INTO sessions (id, goal, mode, safety_profile, status, needs_replan, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Goal, string(s.Mode), string(s.SafetyProfile), string(s.Status),
		boolToInt(s.NeedsReplan), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return domainerrors.Internal("insert session", err)
	}
	return nil
}

// GetSession loads a session plus its highest imported plan version.
func GetSession(ctx context.Context, q Querier, id string) (workflow.Session, error) {
	row := q.QueryRowContext(ctx, `
        SELECT id, goal, mode, safety_profile, status, needs_replan, created_at, updated_at,
               COALESCE((SELECT MAX(version) FROM plans WHERE plans.session_id = sessions.id), 0)
        FROM sessions WHERE id = ?`, id)

	var (
		s                    workflow.Session
		mode, profile, state string
		needsReplan          int
		createdAt, updatedAt string
	)
	err := row.Scan(&s.ID, &s.Goal, &mode, &profile, &state, &needsReplan,
		&createdAt, &updatedAt, &s.PlanVersion)
	if err == sql.ErrNoRows {
		return workflow.Session{}, domainerrors.NotFound("session")
	}
	if err != nil {
		return workflow.Session{}, domainerrors.Internal("load session", err)
	}
	s.Mode = workflow.SessionMode(mode)
	s.SafetyProfile = workflow.SafetyProfile(profile)
	s.Status = workflow.Status(state)
	s.NeedsReplan = needsReplan != 0
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return workflow.Session{}, domainerrors.Internal("parse session created_at", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return workflow.Session{}, domainerrors.Internal("parse session updated_at", err)
	}
	return s, nil
}

// UpdateSessionState writes the roll-up status and replan flag, bumping
// updated_at.
func UpdateSessionState(ctx context.Context, q Querier, id string, status workflow.Status, needsReplan bool) error {
	res, err := q.ExecContext(ctx, `
        UPDATE sessions SET status = ?, needs_replan = ?, updated_at = ? WHERE id = ?`,
		string(status), boolToInt(needsReplan), formatTime(workflow.UTCNow()), id)
	if err != nil {
		return domainerrors.Internal("update session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domainerrors.NotFound("session")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
