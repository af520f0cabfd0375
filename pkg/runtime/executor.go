// Package runtime invokes tools with a wall-clock bound and turns their
// outputs into run results and artifacts.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentkit/agentd/pkg/domain/workflow"
	"github.com/agentkit/agentd/pkg/tools"
)

// Artifact is a to-be-persisted tool output.
type Artifact struct {
	Name    string
	Kind    string
	Payload map[string]any
}

// Result is the outcome of one tool invocation. A tool failure is a result,
// not an error: the engine records it as a failed run.
type Result struct {
	Status    workflow.Status
	Output    map[string]any
	Error     string
	Artifacts []Artifact
}

// Executor runs registry tools with a timeout.
type Executor struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// NewExecutor wires the executor to a tool registry.
func NewExecutor(registry *tools.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		logger:   logger.With("component", "executor"),
	}
}

// Execute invokes tool with inputs, bounded by timeoutSec wall-clock
// seconds. Mutating tools must carry the preview they were shown; the
// strict-profile gate upstream enforces the same rule before any run is
// attempted, so reaching this check means the session runs the dev profile.
func (e *Executor) Execute(ctx context.Context, tool string, inputs map[string]any, timeoutSec int) Result {
	if timeoutSec < 1 {
		timeoutSec = 1
	}

	def, ok := e.registry.Get(tool)
	if !ok {
		return failed(fmt.Sprintf("unknown tool: %s", tool))
	}
	if tools.RequiresPreview(tool, inputs) && !tools.HasPreview(inputs) {
		return failed(fmt.Sprintf("preview is required for %s", tool))
	}

	invocation := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		invocation[k] = v
	}
	if tool == "run_shell_readonly" {
		if _, ok := invocation["timeout_sec"]; !ok {
			shellTimeout := timeoutSec
			if shellTimeout > 30 {
				shellTimeout = 30
			}
			invocation["timeout_sec"] = shellTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := def.Handler(ctx, invocation)
		done <- outcome{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn("tool timed out", "tool", tool, "timeout_sec", timeoutSec)
		return failed(fmt.Sprintf("tool timeout after %ds", timeoutSec))
	case result := <-done:
		if result.err != nil {
			e.logger.Debug("tool failed", "tool", tool, "error", result.err)
			return failed(result.err.Error())
		}
		return Result{
			Status: workflow.StatusSucceeded,
			Output: result.output,
			Artifacts: []Artifact{{
				Name:    fmt.Sprintf("%s_%s.json", tool, workflow.HexID(8)),
				Kind:    "json",
				Payload: result.output,
			}},
		}
	}
}

func failed(reason string) Result {
	return Result{Status: workflow.StatusFailed, Error: reason}
}
