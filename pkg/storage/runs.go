package storage

import (
	"context"
	"database/sql"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// InsertRun persists a new run attempt and fills in its id.
func InsertRun(ctx context.Context, q Querier, run *workflow.Run) error {
	res, err := q.ExecContext(ctx, `
        INSERT INTO runs (session_id, plan_id, step_id, tool_name, status, needs_replan, started_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.SessionID, run.PlanID, run.StepID, run.ToolName, string(run.Status),
		boolToInt(run.NeedsReplan), formatTimePtr(run.StartedAt))
	if err != nil {
		return domainerrors.Internal("insert run", err)
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return domainerrors.Internal("run id", err)
	}
	return nil
}

// FinishRun writes the run's terminal fields, including the tool output the
// resolver reads back later.
func FinishRun(ctx context.Context, q Querier, run *workflow.Run, outputJSON string) error {
	var duration any
	if ms := run.DurationMS(); ms >= 0 {
		duration = ms
	}
	_, err := q.ExecContext(ctx, `
        UPDATE runs
        SET status = ?, needs_replan = ?, duration_ms = ?, failure_reason = ?,
            output_json = ?, started_at = ?, finished_at = ?
        WHERE id = ?`,
		string(run.Status), boolToInt(run.NeedsReplan), duration,
		nullIfEmpty(run.FailureReason), nullIfEmpty(outputJSON),
		formatTimePtr(run.StartedAt), formatTimePtr(run.FinishedAt), run.ID)
	if err != nil {
		return domainerrors.Internal("finish run", err)
	}
	return nil
}

// GetRun loads a single run.
func GetRun(ctx context.Context, q Querier, id int64) (workflow.Run, error) {
	row := q.QueryRowContext(ctx, `
        SELECT id, session_id, COALESCE(plan_id, 0), COALESCE(step_id, 0), tool_name,
               status, needs_replan, COALESCE(failure_reason, ''), started_at, finished_at
        FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestSucceededOutput returns the output_json of the most recent succeeded
// run of the step named stepKey in the session, if any.
func LatestSucceededOutput(ctx context.Context, q Querier, sessionID, stepKey string) (string, bool, error) {
	var output sql.NullString
	err := q.QueryRowContext(ctx, `
        SELECT runs.output_json
        FROM runs JOIN steps ON steps.id = runs.step_id
        WHERE runs.session_id = ? AND steps.step_key = ? AND runs.status = 'succeeded'
        ORDER BY runs.id DESC LIMIT 1`, sessionID, stepKey).Scan(&output)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, domainerrors.Internal("load step output", err)
	}
	if !output.Valid {
		return "", false, nil
	}
	return output.String, true, nil
}

// CountRunningRuns reports how many runs of the session are still running.
func CountRunningRuns(ctx context.Context, q Querier, sessionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE session_id = ? AND status = 'running'`,
		sessionID).Scan(&n)
	if err != nil {
		return 0, domainerrors.Internal("count running runs", err)
	}
	return n, nil
}

func scanRun(row *sql.Row) (workflow.Run, error) {
	var (
		run                   workflow.Run
		status                string
		needsReplan           int
		startedAt, finishedAt sql.NullString
	)
	err := row.Scan(&run.ID, &run.SessionID, &run.PlanID, &run.StepID, &run.ToolName,
		&status, &needsReplan, &run.FailureReason, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return workflow.Run{}, domainerrors.NotFound("run")
	}
	if err != nil {
		return workflow.Run{}, domainerrors.Internal("scan run", err)
	}
	run.Status = workflow.Status(status)
	run.NeedsReplan = needsReplan != 0
	if run.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return workflow.Run{}, domainerrors.Internal("parse run started_at", err)
	}
	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return workflow.Run{}, domainerrors.Internal("parse run finished_at", err)
	}
	return run, nil
}
