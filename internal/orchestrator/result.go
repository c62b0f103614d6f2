package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/senjoyee/mcpcore/internal/mcp"
)

// extractResultText renders an MCP tool-call result as text: the
// content items' text values concatenated with newlines, or the raw
// JSON of the result when it doesn't carry the expected shape.
func extractResultText(result *mcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	var texts []string
	for _, item := range result.Content {
		if item.Type == "text" && item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("<unrenderable tool result: %v>", err)
	}
	return string(raw)
}

// truncateForDisplay bounds resultText to maxBytes for UI emission,
// without splitting a UTF-8 rune.
func truncateForDisplay(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !isUTF8Boundary(text[cut]) {
		cut--
	}
	return text[:cut] + "... (truncated)"
}

func isUTF8Boundary(b byte) bool {
	return b&0xC0 != 0x80
}

// toolDetailLevel enumerates the search_tools detail levels.
type toolDetailLevel string

const (
	detailName        toolDetailLevel = "name"
	detailDescription toolDetailLevel = "description"
	detailFull        toolDetailLevel = "full"
)

// searchToolCatalog filters the aggregate catalog by a case-insensitive
// substring match against tool name and description, rendering each hit
// at the requested detail level.
func searchToolCatalog(schemas []mcp.ToolSchema, query string, detail toolDetailLevel) string {
	query = strings.ToLower(strings.TrimSpace(query))

	type hit struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
	}
	var hits []hit
	for _, schema := range schemas {
		if query != "" &&
			!strings.Contains(strings.ToLower(schema.Name), query) &&
			!strings.Contains(strings.ToLower(schema.Description), query) {
			continue
		}
		h := hit{Name: schema.Name}
		if detail == detailDescription || detail == detailFull {
			h.Description = schema.Description
		}
		if detail == detailFull {
			h.InputSchema = schema.InputSchema
		}
		hits = append(hits, h)
	}

	out, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(out)
}

func parseDetailLevel(raw string) toolDetailLevel {
	switch toolDetailLevel(raw) {
	case detailName, detailDescription, detailFull:
		return toolDetailLevel(raw)
	default:
		return detailName
	}
}
