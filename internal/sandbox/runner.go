package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	coreexec "github.com/senjoyee/mcpcore/internal/exec"
)

// wallClockTimeout bounds a single ExecuteCode call, per the documented
// sandbox contract. A var, not a const, so tests can shrink it rather
// than waiting out the real 120 seconds.
var wallClockTimeout = 120 * time.Second

// runResult is the outcome of one code-runner invocation.
type runResult struct {
	Stdout   string
	Stderr   string
	TimedOut bool
}

// runCode writes code to a temp file inside workspaceDir, spawns
// runnerPath as a child process with that file as its argument and
// MCPCORE_BRIDGE_PORT set to port, and waits up to wallClockTimeout. The
// child runs in its own process group so the whole tree it spawns is
// reaped on timeout or cancellation, never just the immediate process.
func runCode(ctx context.Context, runnerPath, workspaceDir, code string, port int) (runResult, error) {
	runner, err := coreexec.SanitizeExecutableValue(runnerPath)
	if err != nil {
		return runResult{}, fmt.Errorf("sandbox: unsafe code runner path %q: %w", runnerPath, err)
	}

	codeFile, err := os.CreateTemp(workspaceDir, "turn-*.mjs")
	if err != nil {
		return runResult{}, fmt.Errorf("sandbox: write code file: %w", err)
	}
	codePath := codeFile.Name()
	defer os.Remove(codePath)

	if _, err := codeFile.WriteString(code); err != nil {
		codeFile.Close()
		return runResult{}, fmt.Errorf("sandbox: write code file: %w", err)
	}
	if err := codeFile.Close(); err != nil {
		return runResult{}, fmt.Errorf("sandbox: close code file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, wallClockTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runner, filepath.Base(codePath))
	cmd.Dir = workspaceDir
	cmd.Env = append(os.Environ(), fmt.Sprintf("MCPCORE_BRIDGE_PORT=%d", port))
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded || ctx.Err() != nil {
		if cmd.Process != nil {
			_ = killProcessTree(cmd.Process.Pid)
		}
		return runResult{Stdout: stdout.String(), Stderr: stderr.String(), TimedOut: runCtx.Err() == context.DeadlineExceeded}, nil
	}

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			// Non-zero exit is a normal tool-result failure, not a
			// sandbox-level error: the caller surfaces stderr as the
			// failure text.
			return runResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		return runResult{}, fmt.Errorf("sandbox: run code runner: %w", runErr)
	}

	return runResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
