// Package sandbox implements the code-mode sandbox (C8): it synthesizes a
// workspace of generated tool-wrapper source files once per session,
// then for each execute_code call spins up an ephemeral loopback HTTP
// bridge and a code-runner child process, tearing both down when the
// call finishes.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/senjoyee/mcpcore/internal/coreerr"
	"github.com/senjoyee/mcpcore/internal/mcp"
	"github.com/senjoyee/mcpcore/internal/observability"
)

const defaultRunnerPath = "node"

// Config configures a Sandbox. The zero value is usable.
type Config struct {
	// RunnerPath is the code-runner executable. Defaults to "node".
	RunnerPath string

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.RunnerPath == "" {
		c.RunnerPath = defaultRunnerPath
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Sandbox owns one code-mode workspace for a session. Prepare must be
// called once before ExecuteCode; Cleanup releases the workspace.
type Sandbox struct {
	caller ToolCaller
	cfg    Config

	workspace *Workspace
}

// New builds a Sandbox. caller is typically *mcp.Manager.
func New(caller ToolCaller, cfg Config) *Sandbox {
	return &Sandbox{caller: caller, cfg: cfg.withDefaults()}
}

// Prepare synthesizes the session's workspace from the current aggregate
// tool catalog. Calling Prepare again replaces the previous workspace.
func (s *Sandbox) Prepare(schemas []mcp.ToolSchema) error {
	ws, err := Prepare(schemas)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportErr, "Sandbox.Prepare", err)
	}
	if s.workspace != nil {
		_ = s.workspace.Cleanup()
	}
	s.workspace = ws
	return nil
}

// ExecuteCode runs code against the prepared workspace: it starts a
// loopback bridge routing tool calls through the ToolCaller, spawns the
// code runner with a 120-second wall-clock budget, and returns stdout as
// the tool result text. The bridge and temp code file are always torn
// down before ExecuteCode returns; the workspace itself persists until
// Cleanup.
func (s *Sandbox) ExecuteCode(ctx context.Context, code string) (string, error) {
	if s.workspace == nil {
		return "", coreerr.New(coreerr.NotConnected, "Sandbox.ExecuteCode", "workspace not prepared")
	}

	start := time.Now()
	br, err := startBridge(s.caller)
	if err != nil {
		return "", coreerr.Wrap(coreerr.TransportErr, "Sandbox.ExecuteCode", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := br.Close(shutdownCtx); err != nil {
			s.cfg.Logger.Warn("sandbox bridge shutdown error", "error", err)
		}
	}()

	result, err := runCode(ctx, s.cfg.RunnerPath, s.workspace.Dir, code, br.Port())
	outcome := "ok"
	defer func() {
		s.cfg.Metrics.RecordSandboxExecution(outcome, time.Since(start).Seconds())
	}()

	if err != nil {
		outcome = "error"
		return "", coreerr.Wrap(coreerr.TransportErr, "Sandbox.ExecuteCode", err)
	}
	if result.TimedOut {
		outcome = "timeout"
		return "", coreerr.New(coreerr.TimeoutErr, "Sandbox.ExecuteCode", "execution exceeded the 120-second wall-clock limit")
	}
	if result.Stderr != "" {
		s.cfg.Logger.Debug("sandbox execution stderr", "stderr", result.Stderr)
	}
	if result.Stdout == "" && result.Stderr != "" {
		outcome = "error"
		return "", fmt.Errorf("sandbox: code exited with no output: %s", result.Stderr)
	}

	return result.Stdout, nil
}

// Cleanup deletes the session's workspace, if one was prepared.
func (s *Sandbox) Cleanup() error {
	if s.workspace == nil {
		return nil
	}
	err := s.workspace.Cleanup()
	s.workspace = nil
	return err
}
