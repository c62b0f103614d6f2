package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/senjoyee/mcpcore/internal/observability"
)

// Manager manages the set of MCP server connections declared in a registry
// and aggregates their tool, resource, and prompt catalogs for dispatch.
type Manager struct {
	config  *Config
	logger  *slog.Logger
	clients map[string]*Client
	mu      sync.RWMutex

	// Metrics and Tracer are optional; both tolerate a nil receiver, so
	// leaving them unset is a valid zero-observability configuration.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Config holds the MCP manager configuration: whether MCP is enabled at
// all, and the ordered list of server definitions (normally loaded via
// LoadRegistry). Order matters: it is the tie-break order FindTool uses
// when two servers expose a tool of the same name.
type Config struct {
	Enabled bool            `yaml:"enabled"`
	Servers []*ServerConfig `yaml:"servers"`
}

// SecretResolver resolves a named secret to its value, implemented by an
// external SecretStore collaborator. The manager only needs read access.
type SecretResolver interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// NewManager creates a new MCP manager.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  cfg,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Start connects to every configured server with AutoStart enabled and
// Disabled unset. A connection failure for one server is logged and does
// not prevent the rest from starting.
func (m *Manager) Start(ctx context.Context, secrets SecretResolver) error {
	if m.config == nil || !m.config.Enabled {
		m.logger.Debug("MCP disabled")
		return nil
	}

	for _, serverCfg := range m.config.Servers {
		if serverCfg.Disabled || !serverCfg.AutoStart {
			continue
		}
		if err := m.StartServer(ctx, serverCfg.ID, secrets); err != nil {
			m.logger.Error("failed to connect to MCP server",
				"server", serverCfg.ID,
				"error", err)
		}
	}

	return nil
}

// Stop disconnects from all MCP servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client",
				"server", id,
				"error", err)
		}
		delete(m.clients, id)
	}

	return nil
}

func (m *Manager) lookupConfig(serverID string) *ServerConfig {
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			return cfg
		}
	}
	return nil
}

// StartServer connects to a specific server by ID. Calling it on an
// already-connected server is a no-op, not an error: the operation is
// idempotent.
func (m *Manager) StartServer(ctx context.Context, serverID string, secrets SecretResolver) error {
	serverCfg := m.lookupConfig(serverID)
	if serverCfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	m.mu.RLock()
	_, exists := m.clients[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := NewClient(serverCfg, m.logger)

	if serverCfg.AuthKind == AuthBearer && serverCfg.AuthSecretName != "" && secrets != nil {
		secret, ok, err := secrets.Get(ctx, serverCfg.AuthSecretName)
		if err != nil {
			return fmt.Errorf("resolve auth secret %q: %w", serverCfg.AuthSecretName, err)
		}
		if ok {
			client.SetAuthSecret(secret)
		}
	}

	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	// Re-check under the write lock: another goroutine may have connected
	// this server while we were dialing.
	if _, raced := m.clients[serverID]; raced {
		m.mu.Unlock()
		client.Close()
		return nil
	}
	m.clients[serverID] = client
	count := len(m.clients)
	m.mu.Unlock()

	m.Metrics.SetConnectedServers(count)
	m.logger.Info("connected to MCP server",
		"server", serverID,
		"name", client.ServerInfo().Name)

	return nil
}

// Connect is an alias for StartServer kept for callers that resolve
// secrets themselves and never need AuthBearer support.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	return m.StartServer(ctx, serverID, nil)
}

// StopServer disconnects from a specific server. Calling it on a server
// that is not connected (or does not exist) is a no-op, not an error.
func (m *Manager) StopServer(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[serverID]
	if !exists {
		return nil
	}

	if err := client.Close(); err != nil {
		return err
	}

	delete(m.clients, serverID)
	count := len(m.clients)
	m.logger.Info("disconnected from MCP server", "server", serverID)
	m.Metrics.SetConnectedServers(count)

	return nil
}

// Disconnect is an alias for StopServer.
func (m *Manager) Disconnect(serverID string) error {
	return m.StopServer(serverID)
}

// Client returns a client for a specific server.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// Clients returns all connected clients.
func (m *Manager) Clients() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*Client, len(m.clients))
	for id, client := range m.clients {
		result[id] = client
	}
	return result
}

// RefreshAll concurrently refreshes the tool/resource/prompt catalog of
// every connected server. Each server is refreshed independently; one
// server's failure is recorded against its ID and does not stop the rest
// from refreshing.
func (m *Manager) RefreshAll(ctx context.Context) map[string]error {
	clients := m.Clients()

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make(map[string]error)

	for id, client := range clients {
		wg.Add(1)
		go func(id string, client *Client) {
			defer wg.Done()
			if err := client.RefreshCapabilities(ctx); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
		}(id, client)
	}
	wg.Wait()

	return errs
}

// AllTools returns all tools from all connected servers.
func (m *Manager) AllTools() map[string][]*MCPTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]*MCPTool)
	for id, client := range m.clients {
		if tools := client.Tools(); len(tools) > 0 {
			result[id] = tools
		}
	}
	return result
}

// AllResources returns all resources from all connected servers.
func (m *Manager) AllResources() map[string][]*MCPResource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]*MCPResource)
	for id, client := range m.clients {
		if resources := client.Resources(); len(resources) > 0 {
			result[id] = resources
		}
	}
	return result
}

// AllPrompts returns all prompts from all connected servers.
func (m *Manager) AllPrompts() map[string][]*MCPPrompt {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]*MCPPrompt)
	for id, client := range m.clients {
		if prompts := client.Prompts(); len(prompts) > 0 {
			result[id] = prompts
		}
	}
	return result
}

// CallTool calls a tool on a specific server.
func (m *Manager) CallTool(ctx context.Context, serverID string, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, fmt.Errorf("server %q not connected", serverID)
	}

	if m.Tracer != nil {
		var span interface{ End() }
		ctx, span = m.Tracer.TraceMCPRequest(ctx, serverID, "tools/call")
		defer span.End()
	}

	start := time.Now()
	result, err := client.CallTool(ctx, toolName, arguments)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Metrics.RecordMCPRequest("tools/call", status, time.Since(start).Seconds())

	return result, err
}

// FindTool finds a tool by name across all connected servers. When more
// than one server exposes a tool of the same name, the first server in
// registry declaration order wins; the collision is logged so the
// ambiguity is visible, but the name is never rewritten or namespaced on
// the wire.
func (m *Manager) FindTool(name string) (serverID string, tool *MCPTool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var foundID string
	var foundTool *MCPTool

	for _, cfg := range m.config.Servers {
		client, connected := m.clients[cfg.ID]
		if !connected {
			continue
		}
		for _, t := range client.Tools() {
			if t.Name != name {
				continue
			}
			if foundTool == nil {
				foundID, foundTool = cfg.ID, t
			} else {
				m.logger.Warn("tool name collision across servers, first registered server wins",
					"tool", name, "winner", foundID, "shadowed", cfg.ID)
			}
			break
		}
	}

	return foundID, foundTool
}

// CallToolByName resolves name via FindTool and calls it on the winning
// server.
func (m *Manager) CallToolByName(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	serverID, tool := m.FindTool(name)
	if tool == nil {
		return nil, fmt.Errorf("tool %q not found on any connected server", name)
	}
	return m.CallTool(ctx, serverID, name, arguments)
}

// ReadResource reads a resource from a specific server.
func (m *Manager) ReadResource(ctx context.Context, serverID string, uri string) ([]*ResourceContent, error) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, fmt.Errorf("server %q not connected", serverID)
	}

	return client.ReadResource(ctx, uri)
}

// GetPrompt gets a prompt from a specific server.
func (m *Manager) GetPrompt(ctx context.Context, serverID string, name string, arguments map[string]string) (*GetPromptResult, error) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, fmt.Errorf("server %q not connected", serverID)
	}

	return client.GetPrompt(ctx, name, arguments)
}

// GetLogs returns the most recent log lines recorded for a server's
// transport. Returns false if the server is not currently connected.
func (m *Manager) GetLogs(serverID string, maxLines int) ([]LogLine, bool) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, false
	}
	return client.Logs(maxLines), true
}

// ToolSchema represents the JSON schema for a tool, used by LLMs.
type ToolSchema struct {
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolSchemas returns tool schemas suitable for LLM tool definitions, in
// registry declaration order with duplicate names omitted (the later,
// shadowed, entries are dropped the same way FindTool resolves them).
func (m *Manager) ToolSchemas() []ToolSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var schemas []ToolSchema
	for _, cfg := range m.config.Servers {
		client, connected := m.clients[cfg.ID]
		if !connected {
			continue
		}
		for _, tool := range client.Tools() {
			if seen[tool.Name] {
				continue
			}
			seen[tool.Name] = true
			schemas = append(schemas, ToolSchema{
				ServerID:    cfg.ID,
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}
	return schemas
}

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
	Resources int        `json:"resources"`
	Prompts   int        `json:"prompts"`
}

// Status returns the status of all configured servers.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var statuses []ServerStatus
	for _, cfg := range m.config.Servers {
		statuses = append(statuses, m.statusLocked(cfg))
	}

	return statuses
}

// GetStatus returns the status of a single configured server, or false if
// no server with that ID is configured.
func (m *Manager) GetStatus(serverID string) (ServerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.lookupConfig(serverID)
	if cfg == nil {
		return ServerStatus{}, false
	}
	return m.statusLocked(cfg), true
}

func (m *Manager) statusLocked(cfg *ServerConfig) ServerStatus {
	status := ServerStatus{
		ID:   cfg.ID,
		Name: cfg.Name,
	}

	if client, exists := m.clients[cfg.ID]; exists {
		status.Status = client.Status()
		if lastErr := client.LastError(); lastErr != nil {
			status.Error = lastErr.Error()
		}
		status.Server = client.ServerInfo()
		status.Tools = len(client.Tools())
		status.Resources = len(client.Resources())
		status.Prompts = len(client.Prompts())
	} else {
		status.Status = StatusStopped
	}

	return status
}
