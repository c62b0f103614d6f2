// Command mcpcored is a smoke-test front end for the orchestration core:
// it loads the operator config and MCP registry, drives a single chat
// turn from the command line, and prints the resulting TurnEvents. It is
// not the product's GUI-hosting process (out of scope); it exists so the
// core can be exercised end to end without one.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/senjoyee/mcpcore/internal/config"
	"github.com/senjoyee/mcpcore/internal/eventbus"
	"github.com/senjoyee/mcpcore/internal/mcp"
	"github.com/senjoyee/mcpcore/internal/observability"
	"github.com/senjoyee/mcpcore/internal/orchestrator"
	"github.com/senjoyee/mcpcore/internal/sandbox"
	"github.com/senjoyee/mcpcore/internal/store"
	"github.com/senjoyee/mcpcore/internal/streamgw"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	var registryPath string

	rootCmd := &cobra.Command{
		Use:          "mcpcored",
		Short:        "mcpcored - MCP client/orchestration core smoke CLI",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mcpcore.yaml", "Path to the core config file")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "mcp.json", "Path to the MCP server registry file")

	rootCmd.AddCommand(
		buildChatCmd(&configPath, &registryPath),
		buildMCPCmd(&configPath, &registryPath),
	)
	return rootCmd
}

// setupLogger builds the process-wide logger via observability.NewLogger,
// so every log line mcpcored emits passes through the same secret-redaction
// patterns that guard tool arguments and gateway payloads elsewhere.
func setupLogger(cfg *config.CoreConfig) *slog.Logger {
	logCfg := observability.LogConfig{Output: os.Stderr}
	if cfg != nil {
		logCfg.Level = cfg.Logging.Level
		logCfg.Format = cfg.Logging.Format
	}
	logger := observability.NewLogger(logCfg).Slog()
	slog.SetDefault(logger)
	return logger
}

// loadCore wires up the MCP manager from the registry and starts every
// auto-start server declared in it. Callers must mgr.Stop() when done.
func loadCore(configPath, registryPath string) (*config.CoreConfig, *mcp.Manager, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg)

	registry, skipped, err := mcp.LoadRegistry(registryPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load mcp registry: %w", err)
	}
	for _, name := range skipped {
		logger.Warn("skipped malformed mcp server entry", "name", name)
	}

	servers := registry.Servers()
	serverPtrs := make([]*mcp.ServerConfig, 0, len(servers))
	for i := range servers {
		serverPtrs = append(serverPtrs, &servers[i])
	}

	mgr := mcp.NewManager(&mcp.Config{Enabled: true, Servers: serverPtrs}, logger)
	return cfg, mgr, logger, nil
}

// buildMCPCmd creates the "mcp" command group for inspecting registered
// servers and calling tools directly, bypassing the orchestrator.
func buildMCPCmd(configPath, registryPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect and exercise configured MCP servers",
	}
	cmd.AddCommand(buildMCPListCmd(configPath, registryPath), buildMCPCallCmd(configPath, registryPath))
	return cmd
}

func buildMCPListCmd(configPath, registryPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Connect to every auto-start server and list its tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, _, err := loadCore(*configPath, *registryPath)
			if err != nil {
				return err
			}
			secrets := store.NewMemorySecretStore()
			if err := mgr.Start(cmd.Context(), secrets); err != nil {
				return err
			}
			defer mgr.Stop()

			out := cmd.OutOrStdout()
			for _, status := range mgr.Status() {
				if status.Status == mcp.StatusError {
					fmt.Fprintf(out, "%s (%s): %s (%s)\n", status.ID, status.Name, status.Status, status.Error)
					continue
				}
				fmt.Fprintf(out, "%s (%s): %s\n", status.ID, status.Name, status.Status)
			}
			for serverID, tools := range mgr.AllTools() {
				fmt.Fprintf(out, "  %s:\n", serverID)
				for _, tool := range tools {
					fmt.Fprintf(out, "    - %s: %s\n", tool.Name, tool.Description)
				}
			}
			return nil
		},
	}
}

func buildMCPCallCmd(configPath, registryPath *string) *cobra.Command {
	var rawArgs []string
	cmd := &cobra.Command{
		Use:   "call <server-id> <tool>",
		Short: "Call a single tool on a connected server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, _, err := loadCore(*configPath, *registryPath)
			if err != nil {
				return err
			}
			secrets := store.NewMemorySecretStore()
			if err := mgr.StartServer(cmd.Context(), args[0], secrets); err != nil {
				return err
			}
			defer mgr.Stop()

			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}
			result, err := mgr.CallTool(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range result.Content {
				fmt.Fprintln(out, item.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Tool argument (key=value, value parsed as JSON when possible)")
	return cmd
}

func parseToolArgs(items []string) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid arg %q, expected key=value", item)
		}
		key, raw := parts[0], parts[1]
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			out[key] = parsed
		} else {
			out[key] = raw
		}
	}
	return out, nil
}

// buildChatCmd runs a single orchestrator turn end to end against a live
// gateway and MCP registry, printing each TurnEvent as it arrives.
func buildChatCmd(configPath, registryPath *string) *cobra.Command {
	var (
		model       string
		codeMode    bool
		bearerToken string
	)
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run a single chat turn and print the streamed events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, mgr, logger, err := loadCore(*configPath, *registryPath)
			if err != nil {
				return err
			}
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			mgr.Metrics = metrics

			secrets := store.NewMemorySecretStore()
			if err := mgr.Start(cmd.Context(), secrets); err != nil {
				logger.Warn("mcp start reported errors", "error", err)
			}
			defer mgr.Stop()

			if model == "" {
				model = cfg.DefaultModel
			}
			gateway := streamgw.NewStaticTokenClient(cfg.Gateway.BaseURL, bearerToken)

			var sandboxArg orchestrator.CodeSandbox
			if codeMode {
				sb := sandbox.New(mgr, sandbox.Config{RunnerPath: cfg.Sandbox.RunnerPath, Logger: logger})
				if err := sb.Prepare(mgr.ToolSchemas()); err != nil {
					return fmt.Errorf("prepare sandbox: %w", err)
				}
				defer sb.Cleanup()
				sandboxArg = sb
			}

			conversations := store.NewMemoryConversationStore()
			conv, err := conversations.CreateConversation(cmd.Context(), "mcpcored chat")
			if err != nil {
				return fmt.Errorf("create conversation: %w", err)
			}

			orch := orchestrator.New(gateway, mgr, sandboxArg, conversations, orchestrator.Config{
				Logger:  logger,
				Metrics: metrics,
			})

			out := cmd.OutOrStdout()
			bus := eventbus.New(eventbus.FuncSubscriber(func(e eventbus.TurnEvent) {
				printTurnEvent(out, e)
			}))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			finalText, usage, err := orch.RunTurn(ctx, bus, conv.ID, args[0], model, codeMode)
			if err != nil {
				return fmt.Errorf("turn failed: %w", err)
			}
			fmt.Fprintf(out, "\n--- final answer ---\n%s\n", finalText)
			fmt.Fprintf(out, "tokens: in=%d out=%d total=%d\n", usage.InputTokens, usage.OutputTokens, usage.TotalTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model name (defaults to the config's default_model)")
	cmd.Flags().BoolVar(&codeMode, "code-mode", false, "Run the turn with the code-mode sandbox instead of direct tool calls")
	cmd.Flags().StringVar(&bearerToken, "bearer-token", os.Getenv("MCPCORE_GATEWAY_TOKEN"), "Bearer token for the gateway (default: $MCPCORE_GATEWAY_TOKEN)")
	return cmd
}

func printTurnEvent(out interface{ Write([]byte) (int, error) }, e eventbus.TurnEvent) {
	switch e.Type {
	case eventbus.EventStart:
		fmt.Fprintf(out, "[start]\n")
	case eventbus.EventDelta:
		fmt.Fprint(out, e.Text)
	case eventbus.EventReasoning:
		// Reasoning text is not part of the transcript; surfaced only
		// for interactive debugging.
		fmt.Fprintf(out, "\n[reasoning] %s\n", e.Text)
	case eventbus.EventToolCallStart:
		fmt.Fprintf(out, "\n[tool call] %s(%s)\n", e.ToolName, e.ArgsRaw)
	case eventbus.EventToolResult:
		status := "ok"
		if !e.Success {
			status = "error"
		}
		fmt.Fprintf(out, "[tool result: %s] %s\n", status, e.ResultText)
	case eventbus.EventDone:
		fmt.Fprintf(out, "\n[done]\n")
	}
}
