// Package engine orchestrates the workflow protocol: plan import and
// approvals, gated step execution, the event journal, and artifact
// persistence. Every public operation is one database transaction.
package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
	"github.com/agentkit/agentd/pkg/runtime"
	"github.com/agentkit/agentd/pkg/storage"
	"github.com/agentkit/agentd/pkg/telemetry"
	"github.com/agentkit/agentd/pkg/tools"
)

const (
	defaultStepTimeoutSec = 30
	maxStepTimeoutSec     = 120
)

// Engine owns the orchestration state machine over one store.
type Engine struct {
	store    *storage.Store
	registry *tools.Registry
	executor *runtime.Executor
	dataRoot string
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// New builds an engine and seeds the default tool registry rows.
func New(ctx context.Context, store *storage.Store, registry *tools.Registry, dataRoot string, metrics *telemetry.Metrics, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		registry: registry,
		executor: runtime.NewExecutor(registry, logger),
		dataRoot: dataRoot,
		metrics:  metrics,
		logger:   logger.With("component", "engine"),
	}
	if err := storage.SeedTools(ctx, store.DB(), registry.Descriptors()); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateSessionRequest carries the optional session knobs.
type CreateSessionRequest struct {
	Goal          string
	Mode          string
	SafetyProfile string
}

// CreateSession allocates a session, its workspace directories, and the
// first journal entry.
func (e *Engine) CreateSession(ctx context.Context, req CreateSessionRequest) (workflow.Session, error) {
	mode := workflow.SessionMode(req.Mode)
	if req.Mode == "" {
		mode = workflow.ModeNormal
	}
	if !mode.Valid() {
		return workflow.Session{}, domainerrors.InvalidInput("mode", "must be 'normal' or 'dry_run'")
	}
	profile := workflow.SafetyProfile(req.SafetyProfile)
	if req.SafetyProfile == "" {
		profile = workflow.ProfileStrict
	}
	if !profile.Valid() {
		return workflow.Session{}, domainerrors.InvalidInput("safety_profile", "must be 'strict' or 'dev'")
	}

	session := workflow.NewSession(req.Goal, mode, profile)
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := storage.InsertSession(ctx, tx, session); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, &workflow.Event{
			SessionID: session.ID,
			EventType: "session_created",
			Summary:   "session created",
		})
	})
	if err != nil {
		return workflow.Session{}, err
	}
	if _, _, err := e.ensureSessionPaths(session.ID); err != nil {
		return workflow.Session{}, err
	}
	e.logger.Info("session created", "session_id", session.ID, "mode", mode, "safety_profile", profile)
	return session, nil
}

// GetSession loads a session.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (workflow.Session, error) {
	return storage.GetSession(ctx, e.store.DB(), sessionID)
}

// PlanStepRequest is one step of an imported plan.
type PlanStepRequest struct {
	ID         string
	Title      string
	Tool       string
	Inputs     map[string]any
	TimeoutSec int
	Risk       string
}

// ImportPlanRequest carries a full plan to upsert.
type ImportPlanRequest struct {
	Version     int
	Title       string
	SessionGoal *string
	Steps       []PlanStepRequest
}

// ImportPlan upserts the (session, version) plan, replacing its steps, moves
// the session to awaiting_plan_approval, and clears needs_replan.
func (e *Engine) ImportPlan(ctx context.Context, sessionID string, req ImportPlanRequest) (workflow.Plan, error) {
	if req.Version <= 0 {
		req.Version = 1
	}
	if req.Title == "" {
		req.Title = "Imported plan"
	}

	steps := make([]workflow.Step, 0, len(req.Steps))
	seen := map[string]bool{}
	for _, s := range req.Steps {
		if s.ID == "" {
			return workflow.Plan{}, domainerrors.InvalidInput("steps", "step id must not be empty")
		}
		if seen[s.ID] {
			return workflow.Plan{}, domainerrors.InvalidInput("steps", "duplicate step id "+s.ID)
		}
		seen[s.ID] = true
		if s.Tool == "" {
			return workflow.Plan{}, domainerrors.InvalidInput("steps", "step tool must not be empty")
		}
		risk := workflow.RiskLevel(s.Risk)
		if s.Risk == "" {
			risk = workflow.RiskLow
		}
		if !risk.Valid() {
			return workflow.Plan{}, domainerrors.InvalidInput("risk", "must be 'low', 'medium', or 'high'")
		}
		timeout := s.TimeoutSec
		if timeout == 0 {
			timeout = defaultStepTimeoutSec
		}
		if timeout < 1 {
			timeout = 1
		}
		if timeout > maxStepTimeoutSec {
			timeout = maxStepTimeoutSec
		}
		inputs := s.Inputs
		if inputs == nil {
			inputs = map[string]any{}
		}
		steps = append(steps, workflow.Step{
			StepKey:    s.ID,
			Title:      s.Title,
			ToolName:   s.Tool,
			Status:     workflow.StatusPending,
			Risk:       risk,
			Inputs:     inputs,
			TimeoutSec: timeout,
		})
	}

	rawText, err := json.Marshal(map[string]any{
		"version": req.Version,
		"title":   req.Title,
		"steps":   req.Steps,
	})
	if err != nil {
		return workflow.Plan{}, domainerrors.Internal("serialize plan", err)
	}

	var plan workflow.Plan
	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		session, err := storage.GetSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		planID, err := storage.UpsertPlan(ctx, tx, sessionID, req.Version, req.Title, string(rawText))
		if err != nil {
			return err
		}
		if err := storage.DeletePlanSteps(ctx, tx, planID); err != nil {
			return err
		}
		for i := range steps {
			id, err := storage.InsertStep(ctx, tx, planID, steps[i])
			if err != nil {
				return err
			}
			steps[i].ID = id
			steps[i].PlanID = planID
		}

		if req.SessionGoal != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE sessions SET goal = ? WHERE id = ?`, *req.SessionGoal, sessionID); err != nil {
				return domainerrors.Internal("update session goal", err)
			}
			session.Goal = *req.SessionGoal
		}
		if err := storage.UpdateSessionState(ctx, tx, sessionID, workflow.StatusAwaitingPlanApproval, false); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, &workflow.Event{
			SessionID:   sessionID,
			EventType:   "plan_imported",
			Summary:     fmt.Sprintf("plan v%d imported", req.Version),
			PayloadText: req.Title,
		}); err != nil {
			return err
		}
		plan = workflow.Plan{
			ID:        planID,
			SessionID: sessionID,
			Version:   req.Version,
			Title:     req.Title,
			Steps:     steps,
		}
		return nil
	})
	if err != nil {
		return workflow.Plan{}, err
	}
	e.logger.Info("plan imported", "session_id", sessionID, "version", req.Version, "steps", len(steps))
	return plan, nil
}

// GetPlan loads one plan version with its steps.
func (e *Engine) GetPlan(ctx context.Context, sessionID string, version int) (workflow.Plan, error) {
	if _, err := storage.GetSession(ctx, e.store.DB(), sessionID); err != nil {
		return workflow.Plan{}, err
	}
	return storage.GetPlan(ctx, e.store.DB(), sessionID, version)
}

// ApprovePlan records a plan approval and advances the session.
func (e *Engine) ApprovePlan(ctx context.Context, sessionID string, version int, approvedBy, source string) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := storage.GetSession(ctx, tx, sessionID); err != nil {
			return err
		}
		plan, err := storage.GetPlan(ctx, tx, sessionID, version)
		if err != nil {
			return err
		}
		if err := storage.InsertPlanApproval(ctx, tx, sessionID, plan.ID, true, source, approvedBy); err != nil {
			return err
		}
		if err := storage.UpdateSessionState(ctx, tx, sessionID, workflow.StatusAwaitingStepApproval, false); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, &workflow.Event{
			SessionID: sessionID,
			EventType: "plan_approved",
			Summary:   fmt.Sprintf("plan v%d approved", version),
			Source:    source,
			UserID:    approvedBy,
		})
	})
}

// ApproveStep records a step approval and marks the step ready to run.
func (e *Engine) ApproveStep(ctx context.Context, sessionID, stepKey, approvedBy, source string) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := storage.GetSession(ctx, tx, sessionID); err != nil {
			return err
		}
		step, _, err := storage.GetSessionStep(ctx, tx, sessionID, stepKey)
		if err != nil {
			return err
		}
		if err := storage.InsertStepApproval(ctx, tx, sessionID, step.PlanID, step.ID, true, source, approvedBy); err != nil {
			return err
		}
		if err := storage.UpdateStepStatus(ctx, tx, step.ID, workflow.StatusAwaitingStepApproval); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, &workflow.Event{
			SessionID: sessionID,
			EventType: "step_approved",
			Summary:   fmt.Sprintf("step %s approved", stepKey),
			Source:    source,
			UserID:    approvedBy,
		})
	})
}

// ExecuteResult is the outcome of one ExecuteStep call. A failed run is a
// normal result; errors are reserved for protocol refusals.
type ExecuteResult struct {
	SessionID string
	StepID    string
	Status    workflow.Status
	RunID     int64
	Output    map[string]any
	Error     string
	Artifacts []string
}

// ExecuteStep runs one approved step through the gate pipeline and records
// the run, its artifacts, and the session roll-up.
func (e *Engine) ExecuteStep(ctx context.Context, sessionID, stepKey string, confirmHighRisk bool) (ExecuteResult, error) {
	var result ExecuteResult
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		session, err := storage.GetSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.NeedsReplan {
			return domainerrors.ProtocolViolation(domainerrors.CodeNeedsReplan,
				"session needs replan: import a new plan version")
		}

		step, _, err := storage.GetSessionStep(ctx, tx, sessionID, stepKey)
		if err != nil {
			return err
		}

		planOK, err := storage.PlanApproved(ctx, tx, step.PlanID)
		if err != nil {
			return err
		}
		stepOK, err := storage.StepApproved(ctx, tx, step.ID)
		if err != nil {
			return err
		}
		if !planOK || !stepOK {
			return domainerrors.ProtocolViolation(domainerrors.CodeUnapproved,
				"plan and step approvals are required before execution")
		}

		if step.Risk == workflow.RiskHigh && !confirmHighRisk {
			return domainerrors.ProtocolViolation(domainerrors.CodeHighRiskUnconfirmed,
				"confirm_high_risk=true required for high-risk step")
		}

		if session.Mode == workflow.ModeDryRun && tools.IsMutating(step.ToolName, step.Inputs) {
			return domainerrors.ProtocolViolation(domainerrors.CodeDryRunRefusal,
				"dry_run mode refuses mutating tool "+step.ToolName)
		}

		inputs, err := resolveInputs(ctx, tx, sessionID, step.Inputs)
		if err != nil {
			return err
		}

		workspaceRoot, artifactsRoot, err := e.ensureSessionPaths(sessionID)
		if err != nil {
			return err
		}
		if _, ok := inputs["workspace_root"]; !ok {
			inputs["workspace_root"] = workspaceRoot
		}

		run := &workflow.Run{
			SessionID: sessionID,
			PlanID:    step.PlanID,
			StepID:    step.ID,
			ToolName:  step.ToolName,
			Status:    workflow.StatusPending,
		}
		for _, next := range []workflow.Status{
			workflow.StatusAwaitingPlanApproval,
			workflow.StatusAwaitingStepApproval,
			workflow.StatusRunning,
		} {
			if err := workflow.TransitionRun(run, next, ""); err != nil {
				return err
			}
		}
		if err := storage.InsertRun(ctx, tx, run); err != nil {
			return err
		}

		var outcome runtime.Result
		if session.SafetyProfile == workflow.ProfileStrict &&
			tools.RequiresPreview(step.ToolName, inputs) && !tools.HasPreview(inputs) {
			outcome = runtime.Result{
				Status: workflow.StatusFailed,
				Error:  "preview gate rejected: preview is required for " + step.ToolName,
			}
		} else {
			outcome = e.executor.Execute(ctx, step.ToolName, inputs, step.TimeoutSec)
		}

		if err := workflow.TransitionRun(run, outcome.Status, outcome.Error); err != nil {
			return err
		}
		outputJSON := ""
		if outcome.Output != nil {
			encoded, err := json.Marshal(outcome.Output)
			if err != nil {
				return domainerrors.Internal("serialize run output", err)
			}
			outputJSON = string(encoded)
		}
		if err := storage.FinishRun(ctx, tx, run, outputJSON); err != nil {
			return err
		}

		saved, err := e.saveArtifacts(ctx, tx, sessionID, run, step.ID, artifactsRoot, outcome.Artifacts)
		if err != nil {
			return err
		}

		if err := storage.UpdateStepStatus(ctx, tx, step.ID, outcome.Status); err != nil {
			return err
		}

		sessionStatus := workflow.StatusFailed
		needsReplan := true
		if outcome.Status == workflow.StatusSucceeded {
			needsReplan = false
			remaining, err := storage.CountUnfinishedSteps(ctx, tx, step.PlanID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				sessionStatus = workflow.StatusSucceeded
			} else {
				sessionStatus = workflow.StatusAwaitingStepApproval
			}
		}
		if err := storage.UpdateSessionState(ctx, tx, sessionID, sessionStatus, needsReplan); err != nil {
			return err
		}

		var runError any
		if outcome.Error != "" {
			runError = outcome.Error
		}
		payloadText, err := json.Marshal(map[string]any{
			"tool":           step.ToolName,
			"runtime_status": string(outcome.Status),
			"output":         outcome.Output,
			"error":          runError,
			"artifacts":      saved,
		})
		if err != nil {
			return domainerrors.Internal("serialize run event", err)
		}
		eventType, summary := "step_executed", fmt.Sprintf("step %s executed", stepKey)
		if outcome.Status == workflow.StatusFailed {
			eventType, summary = "step_failed", fmt.Sprintf("step %s failed", stepKey)
		}
		if err := e.appendEvent(ctx, tx, &workflow.Event{
			SessionID:   sessionID,
			RunID:       &run.ID,
			EventType:   eventType,
			Summary:     summary,
			PayloadText: string(payloadText),
		}); err != nil {
			return err
		}
		for _, path := range saved {
			if err := e.appendEvent(ctx, tx, &workflow.Event{
				SessionID:   sessionID,
				RunID:       &run.ID,
				EventType:   "artifact_saved",
				Summary:     "artifact saved: " + path,
				PayloadText: path,
			}); err != nil {
				return err
			}
		}

		e.metrics.ObserveRun(step.ToolName, string(outcome.Status), float64(run.DurationMS())/1000)
		result = ExecuteResult{
			SessionID: sessionID,
			StepID:    stepKey,
			Status:    outcome.Status,
			RunID:     run.ID,
			Output:    outcome.Output,
			Error:     outcome.Error,
			Artifacts: saved,
		}
		return nil
	})
	if err != nil {
		return ExecuteResult{}, err
	}
	e.logger.Info("step executed",
		"session_id", sessionID, "step_id", stepKey, "status", result.Status, "run_id", result.RunID)
	return result, nil
}

// StopSession cancels a session. Stopping an already-cancelled session is a
// no-op that still records the request.
func (e *Engine) StopSession(ctx context.Context, sessionID string) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := storage.GetSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if err := storage.UpdateSessionState(ctx, tx, sessionID, workflow.StatusCancelled, false); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, &workflow.Event{
			SessionID: sessionID,
			EventType: "session_stopped",
			Summary:   "session stopped",
		})
	})
}

// SearchEvents queries the session journal.
func (e *Engine) SearchEvents(ctx context.Context, sessionID, query string) ([]workflow.Event, error) {
	if _, err := storage.GetSession(ctx, e.store.DB(), sessionID); err != nil {
		return nil, err
	}
	return storage.SearchEvents(ctx, e.store.DB(), sessionID, query, 0)
}

// ListArtifacts returns the session's artifacts, newest first.
func (e *Engine) ListArtifacts(ctx context.Context, sessionID string) ([]workflow.Artifact, error) {
	if _, err := storage.GetSession(ctx, e.store.DB(), sessionID); err != nil {
		return nil, err
	}
	return storage.ListArtifacts(ctx, e.store.DB(), sessionID)
}

// ListTools returns the registry, re-seeding defaults first.
func (e *Engine) ListTools(ctx context.Context) ([]workflow.ToolDescriptor, error) {
	if err := storage.SeedTools(ctx, e.store.DB(), e.registry.Descriptors()); err != nil {
		return nil, err
	}
	return storage.ListTools(ctx, e.store.DB())
}

// GetToolPermissions returns a tool's registry entry. Unknown tools are
// reported as disabled with an unknown profile rather than an error.
func (e *Engine) GetToolPermissions(ctx context.Context, toolName string) (workflow.ToolDescriptor, error) {
	descriptor, err := storage.GetTool(ctx, e.store.DB(), toolName)
	if domainerrors.KindOf(err) == domainerrors.KindNotFound {
		return workflow.ToolDescriptor{
			ToolName:          toolName,
			PermissionProfile: "unknown",
			Description:       "",
			Enabled:           false,
		}, nil
	}
	return descriptor, err
}

func (e *Engine) appendEvent(ctx context.Context, q storage.Querier, ev *workflow.Event) error {
	if err := storage.AppendEvent(ctx, q, ev); err != nil {
		return err
	}
	e.metrics.ObserveEvent()
	return nil
}

// ensureSessionPaths creates (or re-creates) the session's workspace and
// artifact directories under data_root.
func (e *Engine) ensureSessionPaths(sessionID string) (workspaceRoot, artifactsRoot string, err error) {
	workspaceRoot = filepath.Join(e.dataRoot, "sessions", sessionID, "workspace")
	artifactsRoot = filepath.Join(e.dataRoot, "sessions", sessionID, "artifacts")
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return "", "", domainerrors.Internal("create workspace directory", err)
	}
	if err := os.MkdirAll(artifactsRoot, 0o755); err != nil {
		return "", "", domainerrors.Internal("create artifacts directory", err)
	}
	return workspaceRoot, artifactsRoot, nil
}

// saveArtifacts writes artifact payloads to disk and records their rows.
// Payloads are two-space-indented JSON with sorted keys; the stored sha256
// covers the JSON text without the trailing newline the file carries.
func (e *Engine) saveArtifacts(ctx context.Context, tx *sql.Tx, sessionID string, run *workflow.Run, stepID int64, artifactsRoot string, artifacts []runtime.Artifact) ([]string, error) {
	projectRoot := filepath.Dir(filepath.Clean(e.dataRoot))
	saved := make([]string, 0, len(artifacts))
	for i, artifact := range artifacts {
		payload, err := json.MarshalIndent(artifact.Payload, "", "  ")
		if err != nil {
			return nil, domainerrors.Internal("serialize artifact", err)
		}
		safeName := safeArtifactName(artifact.Name, fmt.Sprintf("artifact_%d.json", i+1))
		file := filepath.Join(artifactsRoot, fmt.Sprintf("run_%d_%d_%s", run.ID, i+1, safeName))
		if err := os.WriteFile(file, append(payload, '\n'), 0o644); err != nil {
			return nil, domainerrors.Internal("write artifact", err)
		}
		sum := sha256.Sum256(payload)

		relPath := file
		if rel, err := filepath.Rel(projectRoot, file); err == nil && !strings.HasPrefix(rel, "..") {
			relPath = filepath.ToSlash(rel)
		}
		row := &workflow.Artifact{
			SessionID: sessionID,
			RunID:     run.ID,
			StepID:    stepID,
			Kind:      artifact.Kind,
			Path:      relPath,
			SHA256:    hex.EncodeToString(sum[:]),
		}
		if err := storage.InsertArtifact(ctx, tx, row); err != nil {
			return nil, err
		}
		saved = append(saved, relPath)
	}
	return saved, nil
}

// safeArtifactName keeps alphanumerics, dash, underscore, and dot; anything
// else becomes an underscore. Empty results take the fallback.
func safeArtifactName(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	normalized := strings.Trim(b.String(), "._")
	if normalized == "" {
		return fallback
	}
	return normalized
}
