package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
)

func allStatuses() []Status {
	return []Status{
		StatusPending,
		StatusAwaitingPlanApproval,
		StatusAwaitingStepApproval,
		StatusRunning,
		StatusSucceeded,
		StatusFailed,
		StatusCancelled,
		StatusSkipped,
	}
}

func TestApply_MatchesTransitionTable(t *testing.T) {
	for _, from := range allStatuses() {
		for _, to := range allStatuses() {
			from, to := from, to
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				got, err := Apply(from, to)
				if CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, got)
					return
				}
				require.Error(t, err)
				assert.True(t, domainerrors.Is(err, &domainerrors.Error{Kind: domainerrors.KindInvalidTransition}))
				assert.Equal(t, from, got)
			})
		}
	}
}

func TestTerminalStatusesAdmitNoMoves(t *testing.T) {
	for _, s := range allStatuses() {
		if s.IsTerminal() {
			assert.Empty(t, TransitionRules[s], "terminal status %s must have no successors", s)
		} else {
			assert.NotEmpty(t, TransitionRules[s])
		}
	}
}

func TestTransitionRun_StampsStartedAtOnceAndFinishedAtOnTerminal(t *testing.T) {
	run := &Run{Status: StatusPending}

	require.NoError(t, TransitionRun(run, StatusAwaitingPlanApproval, ""))
	require.NoError(t, TransitionRun(run, StatusAwaitingStepApproval, ""))
	assert.Nil(t, run.StartedAt)

	require.NoError(t, TransitionRun(run, StatusRunning, ""))
	require.NotNil(t, run.StartedAt)
	started := *run.StartedAt
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, TransitionRun(run, StatusSucceeded, ""))
	assert.Equal(t, started, *run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.NeedsReplan)
	assert.Empty(t, run.FailureReason)
}

func TestTransitionRun_FailureRecordsReasonAndNeedsReplan(t *testing.T) {
	run := &Run{Status: StatusRunning}
	now := UTCNow()
	run.StartedAt = &now

	require.NoError(t, TransitionRun(run, StatusFailed, "command is not allowlisted: echo blocked"))
	assert.True(t, run.NeedsReplan)
	assert.Equal(t, "command is not allowlisted: echo blocked", run.FailureReason)
	assert.NotNil(t, run.FinishedAt)
}

func TestTransitionRun_FailureDefaultsReason(t *testing.T) {
	run := &Run{Status: StatusRunning}
	require.NoError(t, TransitionRun(run, StatusFailed, ""))
	assert.Equal(t, "step_failed", run.FailureReason)
}

func TestTransitionRun_NonFailedTerminalClearsReason(t *testing.T) {
	run := &Run{Status: StatusRunning, FailureReason: "stale"}
	require.NoError(t, TransitionRun(run, StatusSkipped, ""))
	assert.Empty(t, run.FailureReason)
	assert.False(t, run.NeedsReplan)
}

func TestTransitionRun_RejectsIllegalMove(t *testing.T) {
	run := &Run{Status: StatusSucceeded}
	err := TransitionRun(run, StatusRunning, "")
	require.Error(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
}

func TestRunDurationMS(t *testing.T) {
	run := &Run{}
	assert.Equal(t, int64(-1), run.DurationMS())

	start := UTCNow()
	end := start.Add(1500 * time.Millisecond)
	run.StartedAt = &start
	run.FinishedAt = &end
	assert.Equal(t, int64(1500), run.DurationMS())
}
