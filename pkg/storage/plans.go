package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

// stepPayload is the persisted shape of steps.payload_json.
type stepPayload struct {
	Inputs     map[string]any `json:"inputs"`
	TimeoutSec int            `json:"timeout_sec"`
}

// NextPlanVersion returns the version the next imported plan should take.
func NextPlanVersion(ctx context.Context, q Querier, sessionID string) (int, error) {
	var max int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM plans WHERE session_id = ?`, sessionID,
	).Scan(&max)
	if err != nil {
		return 0, domainerrors.Internal("next plan version", err)
	}
	return max + 1, nil
}

// UpsertPlan stores a plan header, replacing the title and raw text when the
// (session, version) pair already exists, and returns the plan id.
func UpsertPlan(ctx context.Context, q Querier, sessionID string, version int, title, rawText string) (int64, error) {
	_, err := q.ExecContext(ctx, `
        INSERT INTO plans (session_id, version, title, raw_text, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(session_id, version) DO UPDATE SET
            title = excluded.title,
            raw_text = excluded.raw_text`,
		sessionID, version, title, rawText, formatTime(workflow.UTCNow()))
	if err != nil {
		return 0, domainerrors.Internal("upsert plan", err)
	}
	var id int64
	err = q.QueryRowContext(ctx,
		`SELECT id FROM plans WHERE session_id = ? AND version = ?`,
		sessionID, version).Scan(&id)
	if err != nil {
		return 0, domainerrors.Internal("plan id", err)
	}
	return id, nil
}

// DeletePlanSteps clears a plan's steps before re-import.
func DeletePlanSteps(ctx context.Context, q Querier, planID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM steps WHERE plan_id = ?`, planID); err != nil {
		return domainerrors.Internal("delete plan steps", err)
	}
	return nil
}

// InsertStep stores one step of a plan and returns its id.
func InsertStep(ctx context.Context, q Querier, planID int64, step workflow.Step) (int64, error) {
	payload, err := json.Marshal(stepPayload{Inputs: step.Inputs, TimeoutSec: step.TimeoutSec})
	if err != nil {
		return 0, domainerrors.Internal("marshal step payload", err)
	}
	res, err := q.ExecContext(ctx, `
        INSERT INTO steps (plan_id, step_key, title, tool_name, status, risk, payload_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		planID, step.StepKey, step.Title, step.ToolName, string(workflow.StatusPending),
		string(step.Risk), string(payload), formatTime(workflow.UTCNow()))
	if err != nil {
		return 0, domainerrors.Internal("insert step", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, domainerrors.Internal("step id", err)
	}
	return id, nil
}

// GetPlan loads a plan and its steps in insertion order. version <= 0 means
// the latest imported version.
func GetPlan(ctx context.Context, q Querier, sessionID string, version int) (workflow.Plan, error) {
	var (
		p   workflow.Plan
		row *sql.Row
	)
	if version > 0 {
		row = q.QueryRowContext(ctx,
			`SELECT id, session_id, version, title FROM plans WHERE session_id = ? AND version = ?`,
			sessionID, version)
	} else {
		row = q.QueryRowContext(ctx,
			`SELECT id, session_id, version, title FROM plans WHERE session_id = ? ORDER BY version DESC LIMIT 1`,
			sessionID)
	}
	err := row.Scan(&p.ID, &p.SessionID, &p.Version, &p.Title)
	if err == sql.ErrNoRows {
		return workflow.Plan{}, domainerrors.NotFound("plan")
	}
	if err != nil {
		return workflow.Plan{}, domainerrors.Internal("load plan", err)
	}

	rows, err := q.QueryContext(ctx, `
        SELECT id, plan_id, step_key, title, tool_name, status, risk, payload_json
        FROM steps WHERE plan_id = ? ORDER BY id`, p.ID)
	if err != nil {
		return workflow.Plan{}, domainerrors.Internal("load plan steps", err)
	}
	defer rows.Close()
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return workflow.Plan{}, err
		}
		p.Steps = append(p.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return workflow.Plan{}, domainerrors.Internal("iterate plan steps", err)
	}
	return p, nil
}

// GetStepByKey loads a single step of a plan.
func GetStepByKey(ctx context.Context, q Querier, planID int64, stepKey string) (workflow.Step, error) {
	row := q.QueryRowContext(ctx, `
        SELECT id, plan_id, step_key, title, tool_name, status, risk, payload_json
        FROM steps WHERE plan_id = ? AND step_key = ?`, planID, stepKey)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return workflow.Step{}, domainerrors.NotFound("step")
	}
	return step, err
}

// GetSessionStep finds a step by key across the session's plans, preferring
// the latest plan version. The returned plan version accompanies the step.
func GetSessionStep(ctx context.Context, q Querier, sessionID, stepKey string) (workflow.Step, int, error) {
	row := q.QueryRowContext(ctx, `
        SELECT s.id, s.plan_id, s.step_key, s.title, s.tool_name, s.status, s.risk, s.payload_json,
               p.version
        FROM steps AS s
        INNER JOIN plans AS p ON p.id = s.plan_id
        WHERE p.session_id = ? AND s.step_key = ?
        ORDER BY p.version DESC LIMIT 1`, sessionID, stepKey)

	var (
		step          workflow.Step
		status, risk  string
		payloadColumn string
		planVersion   int
	)
	err := row.Scan(&step.ID, &step.PlanID, &step.StepKey, &step.Title,
		&step.ToolName, &status, &risk, &payloadColumn, &planVersion)
	if err == sql.ErrNoRows {
		return workflow.Step{}, 0, domainerrors.NotFound("step")
	}
	if err != nil {
		return workflow.Step{}, 0, domainerrors.Internal("load step", err)
	}
	step.Status = workflow.Status(status)
	step.Risk = workflow.RiskLevel(risk)
	var payload stepPayload
	if err := json.Unmarshal([]byte(payloadColumn), &payload); err != nil {
		return workflow.Step{}, 0, domainerrors.Internal("decode step payload", err)
	}
	step.Inputs = payload.Inputs
	if step.Inputs == nil {
		step.Inputs = map[string]any{}
	}
	step.TimeoutSec = payload.TimeoutSec
	return step, planVersion, nil
}

// CountUnfinishedSteps counts a plan's steps that have not succeeded yet.
func CountUnfinishedSteps(ctx context.Context, q Querier, planID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM steps WHERE plan_id = ? AND status != 'succeeded'`,
		planID).Scan(&n)
	if err != nil {
		return 0, domainerrors.Internal("count unfinished steps", err)
	}
	return n, nil
}

// UpdateStepStatus records the step's latest lifecycle state.
func UpdateStepStatus(ctx context.Context, q Querier, stepID int64, status workflow.Status) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE steps SET status = ? WHERE id = ?`, string(status), stepID); err != nil {
		return domainerrors.Internal("update step status", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(r rowScanner) (workflow.Step, error) {
	var (
		step          workflow.Step
		status, risk  string
		payloadColumn string
	)
	err := r.Scan(&step.ID, &step.PlanID, &step.StepKey, &step.Title,
		&step.ToolName, &status, &risk, &payloadColumn)
	if err == sql.ErrNoRows {
		return workflow.Step{}, err
	}
	if err != nil {
		return workflow.Step{}, domainerrors.Internal("scan step", err)
	}
	step.Status = workflow.Status(status)
	step.Risk = workflow.RiskLevel(risk)

	var payload stepPayload
	if err := json.Unmarshal([]byte(payloadColumn), &payload); err != nil {
		return workflow.Step{}, domainerrors.Internal("decode step payload", err)
	}
	step.Inputs = payload.Inputs
	if step.Inputs == nil {
		step.Inputs = map[string]any{}
	}
	step.TimeoutSec = payload.TimeoutSec
	return step, nil
}
