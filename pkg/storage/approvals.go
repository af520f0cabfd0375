package storage

import (
	"context"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// InsertPlanApproval records an approval decision for a whole plan.
func InsertPlanApproval(ctx context.Context, q Querier, sessionID string, planID int64, approved bool, source, userID string) error {
	_, err := q.ExecContext(ctx, `
        INSERT INTO approvals (session_id, plan_id, approval_type, approved, source, user_id, created_at)
        VALUES (?, ?, 'plan', ?, ?, ?, ?)`,
		sessionID, planID, boolToInt(approved), source, nullIfEmpty(userID),
		formatTime(workflow.UTCNow()))
	if err != nil {
		return domainerrors.Internal("insert plan approval", err)
	}
	return nil
}

// InsertStepApproval records an approval decision for a single step.
func InsertStepApproval(ctx context.Context, q Querier, sessionID string, planID, stepID int64, approved bool, source, userID string) error {
	_, err := q.ExecContext(ctx, `
        INSERT INTO approvals (session_id, plan_id, step_id, approval_type, approved, source, user_id, created_at)
        VALUES (?, ?, ?, 'step', ?, ?, ?, ?)`,
		sessionID, planID, stepID, boolToInt(approved), source, nullIfEmpty(userID),
		formatTime(workflow.UTCNow()))
	if err != nil {
		return domainerrors.Internal("insert step approval", err)
	}
	return nil
}

// PlanApproved reports whether the plan has at least one positive approval.
func PlanApproved(ctx context.Context, q Querier, planID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM approvals
        WHERE plan_id = ? AND approval_type = 'plan' AND approved = 1`, planID).Scan(&n)
	if err != nil {
		return false, domainerrors.Internal("check plan approval", err)
	}
	return n > 0, nil
}

// StepApproved reports whether the step has at least one positive approval.
func StepApproved(ctx context.Context, q Querier, stepID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM approvals
        WHERE step_id = ? AND approval_type = 'step' AND approved = 1`, stepID).Scan(&n)
	if err != nil {
		return false, domainerrors.Internal("check step approval", err)
	}
	return n > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
