package mcp

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// rawServerEntry mirrors one entry of the on-disk mcpServers document.
// Unknown fields are ignored by encoding/json by default; missing optional
// fields fall back to the zero value, which Registry.normalize turns into
// the documented defaults.
type rawServerEntry struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	Cwd            string            `json:"cwd"`
	URL            string            `json:"url"`
	Transport      string            `json:"transport"`
	Headers        map[string]string `json:"headers"`
	AuthKind       string            `json:"authKind"`
	AuthSecretName string            `json:"authSecretName"`
	AutoStart      *bool             `json:"autoStart"`
	Disabled       bool              `json:"disabled"`
}

type rawDocument struct {
	MCPServers map[string]rawServerEntry `json:"mcpServers"`
}

// Registry is the read-only, in-memory view of the MCP server definitions
// file. The core never writes this file; a reload (LoadRegistry again)
// replaces the whole set.
type Registry struct {
	path    string
	servers []ServerConfig
}

// LoadRegistry reads and parses the MCP config file at path. A malformed
// file is a hard error; a malformed *entry* inside an otherwise valid
// document is skipped and logged by the caller (LoadRegistry returns the
// entries that did parse plus the names it skipped).
func LoadRegistry(path string) (*Registry, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read mcp config: %w", err)
	}

	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse mcp config: %w", err)
	}

	// Map iteration order is randomized by the Go runtime, but FindTool's
	// cross-server tool-name collision rule ("first server in registry
	// iteration order wins") must be reproducible across runs. Sorting by
	// name before building servers gives every load of the same file the
	// same order, regardless of how the runtime walked doc.MCPServers.
	names := make([]string, 0, len(doc.MCPServers))
	for name := range doc.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	var servers []ServerConfig
	var skipped []string
	for _, name := range names {
		cfg, err := normalizeEntry(name, doc.MCPServers[name])
		if err != nil {
			skipped = append(skipped, name)
			continue
		}
		servers = append(servers, cfg)
	}

	return &Registry{path: path, servers: servers}, skipped, nil
}

func normalizeEntry(name string, entry rawServerEntry) (ServerConfig, error) {
	kind := TransportKind(entry.Transport)
	switch kind {
	case TransportHTTP, TransportLegacySSE:
		// explicit
	case "":
		// default: stdio if a command is given, otherwise http
		if entry.Command != "" {
			kind = TransportStdio
		} else if entry.URL != "" {
			kind = TransportHTTP
		} else {
			return ServerConfig{}, fmt.Errorf("server %q: no command or url", name)
		}
	case TransportStdio:
		// explicit
	default:
		return ServerConfig{}, fmt.Errorf("server %q: unknown transport %q", name, entry.Transport)
	}

	autoStart := true
	if entry.AutoStart != nil {
		autoStart = *entry.AutoStart
	}

	cfg := ServerConfig{
		ID:             StableServerID(name),
		Name:           name,
		Transport:      kind,
		Command:        entry.Command,
		Args:           entry.Args,
		Env:            entry.Env,
		WorkDir:        entry.Cwd,
		URL:            entry.URL,
		Headers:        entry.Headers,
		AuthKind:       AuthKind(entry.AuthKind),
		AuthSecretName: entry.AuthSecretName,
		AutoStart:      autoStart,
		Disabled:       entry.Disabled,
	}
	if cfg.AuthKind == "" {
		cfg.AuthKind = AuthNone
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// StableServerID derives a server's stable identifier from its logical name
// by hashing it with MD5 and rendering the digest as a 128-bit hex
// identifier. Unlike a registry-assigned sequence number, this survives
// config reloads and reorderings of the mcpServers map.
func StableServerID(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// Servers returns the current registry snapshot, including disabled
// entries (callers that only want to start servers should filter on
// Disabled/AutoStart themselves).
func (r *Registry) Servers() []ServerConfig {
	out := make([]ServerConfig, len(r.servers))
	copy(out, r.servers)
	return out
}

// Path returns the file path this registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}
