package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/senjoyee/mcpcore/internal/mcp"
	"github.com/senjoyee/mcpcore/internal/streamgw"
)

// translateTools converts the aggregate tool catalog into the gateway's
// function-calling wire shape. A tool with an empty name is dropped and
// logged; a tool whose inputSchema fails to normalize into valid JSON
// Schema is also dropped and logged, rather than shipped broken to the
// model.
func translateTools(schemas []mcp.ToolSchema, logger *slog.Logger) []streamgw.ToolDefinition {
	if logger == nil {
		logger = slog.Default()
	}

	defs := make([]streamgw.ToolDefinition, 0, len(schemas))
	for _, schema := range schemas {
		if schema.Name == "" {
			logger.Warn("dropping tool with empty name from catalog", "server_id", schema.ServerID)
			continue
		}
		params, err := normalizeInputSchema(schema.InputSchema)
		if err != nil {
			logger.Warn("dropping tool with invalid input schema", "tool", schema.Name, "error", err)
			continue
		}
		defs = append(defs, streamgw.ToolDefinition{
			Type: "function",
			Function: streamgw.ToolFunction{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}

// normalizeInputSchema defaults a missing "type" to "object", forces
// "additionalProperties" to false, and validates the result compiles as
// JSON Schema before it is attached to a gateway request.
func normalizeInputSchema(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if len(raw) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}
	if _, ok := doc["type"]; !ok {
		doc["type"] = "object"
	}
	doc["additionalProperties"] = false

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceURL = "inputSchema.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(normalized)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	if _, err := compiler.Compile(resourceURL); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return normalized, nil
}

// syntheticCodeModeTools returns the exactly-two tools attached in code
// mode instead of the full aggregate catalog.
func syntheticCodeModeTools() []streamgw.ToolDefinition {
	return []streamgw.ToolDefinition{
		{
			Type: "function",
			Function: streamgw.ToolFunction{
				Name:        toolExecuteCode,
				Description: "Execute JavaScript in the code-mode sandbox. Use callTool(name, args) to invoke any connected MCP tool and extractText(result) to read its text content.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"additionalProperties": false,
					"properties": {"code": {"type": "string"}},
					"required": ["code"]
				}`),
			},
		},
		{
			Type: "function",
			Function: streamgw.ToolFunction{
				Name:        toolSearchTools,
				Description: "Search the connected MCP servers' tool catalog without loading it all into context.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"query": {"type": "string"},
						"detail_level": {"type": "string", "enum": ["name", "description", "full"]}
					},
					"required": ["query"]
				}`),
			},
		},
	}
}
