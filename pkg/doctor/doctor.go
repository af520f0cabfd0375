// Package doctor probes a running daemon end to end: it creates a
// disposable session, walks a minimal plan through the approval protocol,
// executes one readonly step, and reads the journal and artifact list back.
package doctor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusWarn = "warn"
	StatusSkip = "skip"
)

// Check is one probe outcome.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Report is the aggregate outcome. OK holds iff no check failed.
type Report struct {
	OK     bool           `json:"ok"`
	Counts map[string]int `json:"counts"`
	Checks []Check        `json:"checks"`
}

// API is the slice of the daemon client the probe drives. *client.Client
// satisfies it; tests substitute a stub.
type API interface {
	ListTools(ctx context.Context) (map[string]any, error)
	GetToolPermissions(ctx context.Context, toolName string) (map[string]any, error)
	CreateSession(ctx context.Context, goal, mode string) (map[string]any, error)
	ImportPlan(ctx context.Context, sessionID string, version int, title string, steps []map[string]any, sessionGoal string) (map[string]any, error)
	ApprovePlan(ctx context.Context, sessionID string, version int, approvedBy, source string) (map[string]any, error)
	ApproveStep(ctx context.Context, sessionID, stepID, approvedBy, source string) (map[string]any, error)
	ExecuteStep(ctx context.Context, sessionID, stepID string, confirmHighRisk bool) (map[string]any, error)
	SearchEvents(ctx context.Context, sessionID, q string) (map[string]any, error)
	ListArtifacts(ctx context.Context, sessionID string) (map[string]any, error)
	StopSession(ctx context.Context, sessionID string) (map[string]any, error)
}

// chainedChecks are the probes that depend on a reachable daemon, in order.
var chainedChecks = []string{
	"daemon_connectivity",
	"tools_permissions",
	"session_create",
	"plan_import",
	"plan_approve",
	"step_approve",
	"step_execute",
	"logs_search",
	"artifacts_list",
	"session_stop",
}

// Run executes the full probe chain. Precondition failures mark the
// dependent checks skip instead of aborting the report.
func Run(ctx context.Context, baseURL, token string, api API) Report {
	var checks []Check

	baseURLOK, baseURLDetail := validateBaseURL(baseURL)
	checks = append(checks, check("base_url", status(baseURLOK), baseURLDetail))

	tokenDetail := "configured"
	if strings.TrimSpace(token) == "" {
		tokenDetail = "empty"
	}
	checks = append(checks, check("token", status(tokenDetail == "configured"), tokenDetail))

	if !baseURLOK {
		for _, name := range chainedChecks {
			checks = append(checks, check(name, StatusSkip, "base_url is invalid"))
		}
		return finalize(checks)
	}

	toolsPayload, checks := probe(checks, "daemon_connectivity", func() (map[string]any, error) {
		return api.ListTools(ctx)
	}, func(payload map[string]any) string {
		return fmt.Sprintf("tools endpoint reachable (items=%d)", itemCount(payload))
	})

	toolName := firstToolName(toolsPayload)
	if toolName == "" {
		checks = append(checks, check("tools_permissions", StatusWarn, "tool list is empty"))
	} else {
		_, checks = probe(checks, "tools_permissions", func() (map[string]any, error) {
			return api.GetToolPermissions(ctx, toolName)
		}, func(map[string]any) string {
			return toolName + " permissions endpoint reachable"
		})
	}

	sessionPayload, checks := probe(checks, "session_create", func() (map[string]any, error) {
		return api.CreateSession(ctx, "doctor", "")
	}, func(payload map[string]any) string {
		return "session_id=" + stringField(payload, "id", "-")
	})

	sessionID := stringField(sessionPayload, "id", "")
	if sessionID == "" {
		for _, name := range chainedChecks[3:] {
			checks = append(checks, check(name, StatusSkip, "session_create failed"))
		}
		return finalize(checks)
	}

	const (
		probeVersion = 1
		probeStepID  = "step_doctor_ping"
	)
	probeSteps := []map[string]any{{
		"id":     probeStepID,
		"title":  "doctor ping",
		"tool":   "list_dir",
		"inputs": map[string]any{"path": "."},
	}}

	importPayload, checks := probe(checks, "plan_import", func() (map[string]any, error) {
		return api.ImportPlan(ctx, sessionID, probeVersion, "doctor connectivity plan", probeSteps, "doctor")
	}, func(map[string]any) string {
		return "plan import endpoint reachable"
	})

	if importPayload == nil {
		for _, name := range []string{"plan_approve", "step_approve", "step_execute"} {
			checks = append(checks, check(name, StatusSkip, "plan_import failed"))
		}
	} else {
		_, checks = probe(checks, "plan_approve", func() (map[string]any, error) {
			return api.ApprovePlan(ctx, sessionID, probeVersion, "doctor", "doctor")
		}, func(map[string]any) string {
			return "plan approve endpoint reachable"
		})
		_, checks = probe(checks, "step_approve", func() (map[string]any, error) {
			return api.ApproveStep(ctx, sessionID, probeStepID, "doctor", "doctor")
		}, func(map[string]any) string {
			return "step approve endpoint reachable"
		})
		_, checks = probe(checks, "step_execute", func() (map[string]any, error) {
			return api.ExecuteStep(ctx, sessionID, probeStepID, false)
		}, func(payload map[string]any) string {
			return fmt.Sprintf("step execute endpoint reachable (status=%s)",
				stringField(payload, "status", "-"))
		})
	}

	_, checks = probe(checks, "logs_search", func() (map[string]any, error) {
		return api.SearchEvents(ctx, sessionID, "step")
	}, func(payload map[string]any) string {
		return fmt.Sprintf("logs endpoint reachable (items=%d)", itemCount(payload))
	})
	_, checks = probe(checks, "artifacts_list", func() (map[string]any, error) {
		return api.ListArtifacts(ctx, sessionID)
	}, func(payload map[string]any) string {
		return fmt.Sprintf("artifacts endpoint reachable (items=%d)", itemCount(payload))
	})
	_, checks = probe(checks, "session_stop", func() (map[string]any, error) {
		return api.StopSession(ctx, sessionID)
	}, func(payload map[string]any) string {
		return fmt.Sprintf("stop endpoint reachable (status=%s)",
			stringField(payload, "status", "-"))
	})

	return finalize(checks)
}

// probe runs one operation and appends a pass or fail check. The payload is
// nil on failure so callers can short-circuit dependents.
func probe(checks []Check, name string, op func() (map[string]any, error), detail func(map[string]any) string) (map[string]any, []Check) {
	payload, err := op()
	if err != nil {
		return nil, append(checks, check(name, StatusFail, truncate(err.Error(), 100)))
	}
	return payload, append(checks, check(name, StatusPass, detail(payload)))
}

func check(name, status, detail string) Check {
	return Check{Name: name, Status: status, Detail: detail}
}

func status(ok bool) string {
	if ok {
		return StatusPass
	}
	return StatusFail
}

func finalize(checks []Check) Report {
	counts := map[string]int{StatusPass: 0, StatusFail: 0, StatusWarn: 0, StatusSkip: 0}
	for _, c := range checks {
		s := c.Status
		if _, known := counts[s]; !known {
			s = StatusFail
		}
		counts[s]++
	}
	return Report{
		OK:     counts[StatusFail] == 0,
		Counts: counts,
		Checks: checks,
	}
}

func validateBaseURL(baseURL string) (bool, string) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return false, fmt.Sprintf("invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		scheme := parsed.Scheme
		if scheme == "" {
			scheme = "(missing)"
		}
		return false, "unsupported scheme: " + scheme
	}
	if parsed.Hostname() == "" {
		return false, "host is missing"
	}
	return true, parsed.Scheme + "://" + parsed.Hostname()
}

func firstToolName(payload map[string]any) string {
	items, ok := payload["items"].([]any)
	if !ok {
		return ""
	}
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := entry["tool_name"].(string); ok && name != "" {
			return name
		}
	}
	return ""
}

func itemCount(payload map[string]any) int {
	items, ok := payload["items"].([]any)
	if !ok {
		return 0
	}
	return len(items)
}

func stringField(payload map[string]any, key, fallback string) string {
	if payload == nil {
		return fallback
	}
	if value, ok := payload[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
