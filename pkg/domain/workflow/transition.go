package workflow

// TransitionRun moves a run to next, stamping the fields that depend on the
// new status. The legal-transition check is delegated to Apply; callers own
// persistence and event emission.
//
// Rules:
//   - entering running the first time stamps StartedAt
//   - any terminal status stamps FinishedAt
//   - failed records failureReason (default "step_failed") and sets
//     NeedsReplan; other terminal statuses clear FailureReason
func TransitionRun(run *Run, next Status, failureReason string) error {
	status, err := Apply(run.Status, next)
	if err != nil {
		return err
	}
	run.Status = status
	run.NeedsReplan = NeedsReplanFor(status)

	if status == StatusRunning && run.StartedAt == nil {
		now := UTCNow()
		run.StartedAt = &now
	}

	if status == StatusFailed {
		if failureReason == "" {
			failureReason = "step_failed"
		}
		run.FailureReason = failureReason
	} else if status.IsTerminal() {
		run.FailureReason = ""
	}

	if status.IsTerminal() {
		now := UTCNow()
		run.FinishedAt = &now
	}
	return nil
}
