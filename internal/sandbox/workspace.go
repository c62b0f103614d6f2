package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/senjoyee/mcpcore/internal/mcp"
)

// workspacePackageJSON is the minimal code-runner config: ES module mode
// and a target recent enough for top-level await.
const workspacePackageJSON = `{
  "name": "mcpcore-code-mode-workspace",
  "private": true,
  "type": "module"
}
`

const bridgeModuleSource = `// Generated by the code-mode sandbox. Do not edit: this file is
// regenerated every time the workspace is prepared.
const BRIDGE_PORT = process.env.MCPCORE_BRIDGE_PORT;

export async function callTool(name, args) {
  const resp = await fetch(` + "`http://127.0.0.1:${BRIDGE_PORT}/call-tool`" + `, {
    method: "POST",
    headers: { "content-type": "application/json" },
    body: JSON.stringify({ tool: name, args: args ?? {} }),
  });
  const body = await resp.json();
  if (body.error) {
    throw new Error(body.error);
  }
  return body.result;
}

export function extractText(result) {
  if (!result || !Array.isArray(result.content)) {
    return "";
  }
  return result.content
    .filter((item) => item.type === "text" && typeof item.text === "string")
    .map((item) => item.text)
    .join("\n");
}
`

// Workspace is a synthesized code-mode directory tree: a bridge module,
// one directory per connected MCP server with a tool-wrapper module per
// tool, and the minimal config the code runner needs. Prepare is called
// once per session; Cleanup removes the whole tree.
type Workspace struct {
	Dir string
}

// Prepare synthesizes a fresh workspace under the OS temp directory for
// the given aggregate tool catalog, grouped by ServerID.
func Prepare(schemas []mcp.ToolSchema) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "mcpcore-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create workspace dir: %w", err)
	}
	ws := &Workspace{Dir: dir}

	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(workspacePackageJSON), 0o644); err != nil {
		ws.Cleanup()
		return nil, fmt.Errorf("sandbox: write package.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bridge.js"), []byte(bridgeModuleSource), 0o644); err != nil {
		ws.Cleanup()
		return nil, fmt.Errorf("sandbox: write bridge.js: %w", err)
	}

	byServer := groupByServer(schemas)
	for serverID, tools := range byServer {
		serverDir := filepath.Join(dir, sanitizeIdentifier(serverID))
		if err := os.Mkdir(serverDir, 0o755); err != nil {
			ws.Cleanup()
			return nil, fmt.Errorf("sandbox: create server dir %s: %w", serverID, err)
		}
		var indexExports []string
		for _, tool := range tools {
			fnName := sanitizeIdentifier(tool.Name)
			if err := writeToolModule(serverDir, fnName, tool); err != nil {
				ws.Cleanup()
				return nil, err
			}
			indexExports = append(indexExports, fmt.Sprintf("export { %s } from \"./%s.js\";", fnName, fnName))
		}
		indexSrc := strings.Join(indexExports, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(serverDir, "index.js"), []byte(indexSrc), 0o644); err != nil {
			ws.Cleanup()
			return nil, fmt.Errorf("sandbox: write index.js for server %s: %w", serverID, err)
		}
	}

	return ws, nil
}

// Cleanup deletes the entire workspace tree. Safe to call on a
// partially-constructed Workspace.
func (w *Workspace) Cleanup() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

func groupByServer(schemas []mcp.ToolSchema) map[string][]mcp.ToolSchema {
	grouped := make(map[string][]mcp.ToolSchema)
	for _, schema := range schemas {
		grouped[schema.ServerID] = append(grouped[schema.ServerID], schema)
	}
	return grouped
}

func writeToolModule(serverDir, fnName string, tool mcp.ToolSchema) error {
	comment := sanitizeASCIIDescription(tool.Description)
	var src strings.Builder
	if comment != "" {
		src.WriteString("// " + comment + "\n")
	}
	src.WriteString(fmt.Sprintf(`import { callTool } from "../bridge.js";

export async function %s(input) {
  return callTool(%q, input);
}
`, fnName, tool.Name))

	path := filepath.Join(serverDir, fnName+".js")
	if err := os.WriteFile(path, []byte(src.String()), 0o644); err != nil {
		return fmt.Errorf("sandbox: write tool module %s: %w", path, err)
	}

	declPath := filepath.Join(serverDir, fnName+".d.ts")
	decl := fmt.Sprintf("export function %s(input: %s): Promise<any>;\n", fnName, inputSchemaTypeHint(tool.InputSchema))
	if err := os.WriteFile(declPath, []byte(decl), 0o644); err != nil {
		return fmt.Errorf("sandbox: write tool declaration %s: %w", declPath, err)
	}
	return nil
}

// inputSchemaTypeHint renders a loose TypeScript type for a tool's input
// schema. The sandbox only needs this for editor/type-checking
// convenience inside the generated workspace, not for runtime validation,
// so an object schema with declared properties becomes a structural
// type and anything else falls back to "any".
func inputSchemaTypeHint(rawSchema []byte) string {
	props, ok := topLevelObjectProperties(rawSchema)
	if !ok || len(props) == 0 {
		return "any"
	}
	var fields []string
	for _, name := range props {
		fields = append(fields, fmt.Sprintf("%s?: any", sanitizeIdentifier(name)))
	}
	return "{ " + strings.Join(fields, "; ") + " }"
}
