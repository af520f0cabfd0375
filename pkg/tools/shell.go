package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/shlex"
)

// allowlistCommandPrefixes enumerates the command shapes run_shell_readonly
// accepts. A command is allowed when its leading tokens equal one prefix.
var allowlistCommandPrefixes = [][]string{
	{"ls"},
	{"cat"},
	{"rg"},
	{"find"},
	{"git", "status"},
	{"git", "diff"},
	{"python", "-m", "pytest", "-q"},
}

const (
	defaultShellTimeoutSec = 30
	maxShellTimeoutSec     = 30
)

// IsAllowlistedCommand reports whether command tokenizes to an allowlisted
// prefix. Unparseable or empty commands are not allowed.
func IsAllowlistedCommand(command string) bool {
	tokens, err := shlex.Split(command)
	if err != nil || len(tokens) == 0 {
		return false
	}
	return tokensMatchAllowlist(tokens)
}

func tokensMatchAllowlist(tokens []string) bool {
	for _, prefix := range allowlistCommandPrefixes {
		if len(tokens) < len(prefix) {
			continue
		}
		match := true
		for i, want := range prefix {
			if tokens[i] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func parseAllowlistedCommand(command string) ([]string, error) {
	tokens, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("command could not be parsed")
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("command must not be empty")
	}
	if !tokensMatchAllowlist(tokens) {
		return nil, fmt.Errorf("command is not allowlisted: %s", command)
	}
	return tokens, nil
}

// RunShellReadonly runs one allowlisted command inside the workspace and
// captures its streams. A non-zero exit is a successful invocation; the
// caller reads exit_code.
func RunShellReadonly(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	root, err := workspaceFromInputs(inputs)
	if err != nil {
		return nil, err
	}
	command, err := requireString(inputs, "command")
	if err != nil {
		return nil, err
	}
	tokens, err := parseAllowlistedCommand(command)
	if err != nil {
		return nil, err
	}

	timeoutSec := optionalInt(inputs, "timeout_sec", defaultShellTimeoutSec)
	if timeoutSec < 1 {
		timeoutSec = 1
	}
	if timeoutSec > maxShellTimeoutSec {
		timeoutSec = maxShellTimeoutSec
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %ds", timeoutSec)
	}
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, runErr
		}
	}
	return map[string]any{
		"command":   command,
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}, nil
}
