package doctor

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkit/agentd/pkg/api"
	"github.com/agentkit/agentd/pkg/client"
	"github.com/agentkit/agentd/pkg/engine"
	"github.com/agentkit/agentd/pkg/storage"
	"github.com/agentkit/agentd/pkg/tools"
)

// stubAPI answers every probe from canned payloads, failing the operations
// named in failOn.
type stubAPI struct {
	failOn map[string]bool
	calls  []string
}

func (s *stubAPI) result(op string, payload map[string]any) (map[string]any, error) {
	s.calls = append(s.calls, op)
	if s.failOn[op] {
		return nil, errors.New(op + " exploded")
	}
	return payload, nil
}

func (s *stubAPI) ListTools(context.Context) (map[string]any, error) {
	return s.result("list_tools", map[string]any{
		"items": []any{map[string]any{"tool_name": "list_dir"}},
	})
}

func (s *stubAPI) GetToolPermissions(_ context.Context, _ string) (map[string]any, error) {
	return s.result("tool_permissions", map[string]any{"permission_profile": "workspace_read"})
}

func (s *stubAPI) CreateSession(context.Context, string, string) (map[string]any, error) {
	return s.result("create_session", map[string]any{"id": "session_doctor"})
}

func (s *stubAPI) ImportPlan(_ context.Context, _ string, _ int, _ string, _ []map[string]any, _ string) (map[string]any, error) {
	return s.result("import_plan", map[string]any{"version": 1})
}

func (s *stubAPI) ApprovePlan(_ context.Context, _ string, _ int, _, _ string) (map[string]any, error) {
	return s.result("approve_plan", map[string]any{"approved": true})
}

func (s *stubAPI) ApproveStep(_ context.Context, _, _, _, _ string) (map[string]any, error) {
	return s.result("approve_step", map[string]any{"approved": true})
}

func (s *stubAPI) ExecuteStep(_ context.Context, _, _ string, _ bool) (map[string]any, error) {
	return s.result("execute_step", map[string]any{"status": "succeeded"})
}

func (s *stubAPI) SearchEvents(_ context.Context, _, _ string) (map[string]any, error) {
	return s.result("search_events", map[string]any{"items": []any{}})
}

func (s *stubAPI) ListArtifacts(_ context.Context, _ string) (map[string]any, error) {
	return s.result("list_artifacts", map[string]any{"items": []any{}})
}

func (s *stubAPI) StopSession(_ context.Context, _ string) (map[string]any, error) {
	return s.result("stop_session", map[string]any{"status": "cancelled"})
}

func checkByName(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q missing from report", name)
	return Check{}
}

func TestRunAllChecksPass(t *testing.T) {
	stub := &stubAPI{failOn: map[string]bool{}}
	report := Run(context.Background(), "http://127.0.0.1:8787", "secret", stub)

	assert.True(t, report.OK)
	assert.Equal(t, 12, report.Counts[StatusPass])
	assert.Zero(t, report.Counts[StatusFail])
	assert.Len(t, report.Checks, 12)

	assert.Equal(t, "http://127.0.0.1", checkByName(t, report, "base_url").Detail)
	assert.Equal(t, "configured", checkByName(t, report, "token").Detail)
	assert.Equal(t, "session_id=session_doctor", checkByName(t, report, "session_create").Detail)
	assert.Contains(t, checkByName(t, report, "step_execute").Detail, "status=succeeded")
}

func TestRunInvalidBaseURLSkipsEverything(t *testing.T) {
	stub := &stubAPI{failOn: map[string]bool{}}
	report := Run(context.Background(), "ftp://example.com", "secret", stub)

	assert.False(t, report.OK)
	assert.Contains(t, checkByName(t, report, "base_url").Detail, "unsupported scheme")
	assert.Equal(t, 10, report.Counts[StatusSkip])
	assert.Equal(t, StatusSkip, checkByName(t, report, "session_stop").Status)
	assert.Empty(t, stub.calls, "no request leaves the process when the base URL is unusable")
}

func TestRunEmptyTokenFailsButProbesContinue(t *testing.T) {
	stub := &stubAPI{failOn: map[string]bool{}}
	report := Run(context.Background(), "http://localhost:1", "   ", stub)

	assert.False(t, report.OK)
	assert.Equal(t, "empty", checkByName(t, report, "token").Detail)
	assert.Equal(t, StatusPass, checkByName(t, report, "daemon_connectivity").Status)
}

func TestRunSessionCreateFailureSkipsDependents(t *testing.T) {
	stub := &stubAPI{failOn: map[string]bool{"create_session": true}}
	report := Run(context.Background(), "http://localhost:1", "secret", stub)

	assert.False(t, report.OK)
	assert.Equal(t, StatusFail, checkByName(t, report, "session_create").Status)
	for _, name := range []string{
		"plan_import", "plan_approve", "step_approve", "step_execute",
		"logs_search", "artifacts_list", "session_stop",
	} {
		assert.Equal(t, StatusSkip, checkByName(t, report, name).Status, name)
		assert.Equal(t, "session_create failed", checkByName(t, report, name).Detail)
	}
	assert.NotContains(t, stub.calls, "import_plan")
}

func TestRunPlanImportFailureSkipsApprovalChainOnly(t *testing.T) {
	stub := &stubAPI{failOn: map[string]bool{"import_plan": true}}
	report := Run(context.Background(), "http://localhost:1", "secret", stub)

	assert.False(t, report.OK)
	for _, name := range []string{"plan_approve", "step_approve", "step_execute"} {
		assert.Equal(t, StatusSkip, checkByName(t, report, name).Status, name)
	}
	// The journal and artifact probes still run against the session.
	assert.Equal(t, StatusPass, checkByName(t, report, "logs_search").Status)
	assert.Equal(t, StatusPass, checkByName(t, report, "session_stop").Status)
}

func TestRunAgainstLiveDaemon(t *testing.T) {
	root := t.TempDir()
	store, err := storage.Open(context.Background(), filepath.Join(root, "agentd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := engine.New(context.Background(), store, tools.DefaultRegistry(),
		filepath.Join(root, "data"), nil, nil)
	require.NoError(t, err)

	server := httptest.NewServer(api.NewServer(e, api.Config{}).Router())
	t.Cleanup(server.Close)

	probe := client.New(client.Config{BaseURL: server.URL, Token: "doctor-token"})
	report := Run(context.Background(), server.URL, "doctor-token", probe)

	require.True(t, report.OK, "report: %+v", report)
	assert.Equal(t, 12, report.Counts[StatusPass])
	assert.Contains(t, checkByName(t, report, "daemon_connectivity").Detail, "items=6")
	assert.Contains(t, checkByName(t, report, "step_execute").Detail, "status=succeeded")
	assert.Contains(t, checkByName(t, report, "artifacts_list").Detail, "items=1")
}
