package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
	"github.com/agentkit/agentd/pkg/engine"
	"github.com/agentkit/agentd/pkg/storage"
)

type createSessionRequest struct {
	Goal          string `json:"goal"`
	Mode          string `json:"mode"`
	SafetyProfile string `json:"safety_profile"`
}

type planStepInput struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Tool       string         `json:"tool"`
	Inputs     map[string]any `json:"inputs"`
	TimeoutSec int            `json:"timeout_sec"`
	Risk       string         `json:"risk"`
}

type planImportRequest struct {
	Version     int             `json:"version"`
	Title       string          `json:"title"`
	SessionGoal *string         `json:"session_goal"`
	Steps       []planStepInput `json:"steps"`
}

type approvalRequest struct {
	ApprovedBy string `json:"approved_by"`
	Source     string `json:"source"`
}

type executeRequest struct {
	ConfirmHighRisk bool `json:"confirm_high_risk"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.engine.CreateSession(r.Context(), engine.CreateSessionRequest{
		Goal:          req.Goal,
		Mode:          req.Mode,
		SafetyProfile: req.SafetyProfile,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *Server) handleImportPlan(w http.ResponseWriter, r *http.Request) {
	var req planImportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	steps := make([]engine.PlanStepRequest, 0, len(req.Steps))
	for _, step := range req.Steps {
		steps = append(steps, engine.PlanStepRequest{
			ID:         step.ID,
			Title:      step.Title,
			Tool:       step.Tool,
			Inputs:     step.Inputs,
			TimeoutSec: step.TimeoutSec,
			Risk:       step.Risk,
		})
	}
	plan, err := s.engine.ImportPlan(r.Context(), chi.URLParam(r, "sessionID"), engine.ImportPlanRequest{
		Version:     req.Version,
		Title:       req.Title,
		SessionGoal: req.SessionGoal,
		Steps:       steps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planJSON(plan))
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, domainerrors.InvalidInput("version", "must be an integer"))
		return
	}
	plan, err := s.engine.GetPlan(r.Context(), chi.URLParam(r, "sessionID"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planJSON(plan))
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, domainerrors.InvalidInput("version", "must be an integer"))
		return
	}
	req := approvalRequest{ApprovedBy: "system", Source: "api"}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.engine.ApprovePlan(r.Context(), sessionID, version, req.ApprovedBy, req.Source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"version":    version,
		"approved":   true,
	})
}

func (s *Server) handleApproveStep(w http.ResponseWriter, r *http.Request) {
	req := approvalRequest{ApprovedBy: "system", Source: "api"}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	stepID := chi.URLParam(r, "stepID")
	if err := s.engine.ApproveStep(r.Context(), sessionID, stepID, req.ApprovedBy, req.Source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"step_id":    stepID,
		"approved":   true,
	})
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.ExecuteStep(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "stepID"), req.ConfirmHighRisk)
	if err != nil {
		writeError(w, err)
		return
	}

	var runError any
	if result.Error != "" {
		runError = result.Error
	}
	artifacts := result.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": result.SessionID,
		"step_id":    result.StepID,
		"status":     result.Status,
		"run_id":     result.RunID,
		"output":     result.Output,
		"error":      runError,
		"artifacts":  artifacts,
	})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.engine.StopSession(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     workflow.StatusCancelled,
	})
}

func (s *Server) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.SearchEvents(r.Context(),
		chi.URLParam(r, "sessionID"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, eventJSON(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.engine.ListArtifacts(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		items = append(items, map[string]any{
			"id":         artifact.ID,
			"run_id":     artifact.RunID,
			"step_id":    artifact.StepID,
			"kind":       artifact.Kind,
			"path":       artifact.Path,
			"sha256":     artifact.SHA256,
			"created_at": storage.FormatTime(artifact.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.engine.ListTools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(descriptors))
	for _, descriptor := range descriptors {
		items = append(items, toolJSON(descriptor))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleToolPermissions(w http.ResponseWriter, r *http.Request) {
	descriptor, err := s.engine.GetToolPermissions(r.Context(), chi.URLParam(r, "toolName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toolJSON(descriptor))
}

func sessionJSON(session workflow.Session) map[string]any {
	var goal any
	if session.Goal != "" {
		goal = session.Goal
	}
	var planVersion any
	if session.PlanVersion > 0 {
		planVersion = session.PlanVersion
	}
	return map[string]any{
		"id":             session.ID,
		"goal":           goal,
		"mode":           session.Mode,
		"safety_profile": session.SafetyProfile,
		"status":         session.Status,
		"plan_version":   planVersion,
		"needs_replan":   session.NeedsReplan,
		"created_at":     storage.FormatTime(session.CreatedAt),
		"updated_at":     storage.FormatTime(session.UpdatedAt),
	}
}

func planJSON(plan workflow.Plan) map[string]any {
	steps := make([]map[string]any, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		steps = append(steps, map[string]any{
			"id":          step.StepKey,
			"title":       step.Title,
			"tool":        step.ToolName,
			"status":      step.Status,
			"inputs":      step.Inputs,
			"timeout_sec": step.TimeoutSec,
			"risk":        step.Risk,
		})
	}
	return map[string]any{
		"session_id": plan.SessionID,
		"version":    plan.Version,
		"title":      plan.Title,
		"steps":      steps,
	}
}

func eventJSON(event workflow.Event) map[string]any {
	var userID any
	if event.UserID != "" {
		userID = event.UserID
	}
	var runID any
	if event.RunID != nil {
		runID = *event.RunID
	}
	return map[string]any{
		"id":           event.ID,
		"run_id":       runID,
		"event_type":   event.EventType,
		"summary":      event.Summary,
		"payload_text": event.PayloadText,
		"source":       event.Source,
		"user_id":      userID,
		"created_at":   storage.FormatTime(event.CreatedAt),
	}
}

func toolJSON(descriptor workflow.ToolDescriptor) map[string]any {
	return map[string]any{
		"tool_name":          descriptor.ToolName,
		"permission_profile": descriptor.PermissionProfile,
		"description":        descriptor.Description,
		"enabled":            descriptor.Enabled,
	}
}
