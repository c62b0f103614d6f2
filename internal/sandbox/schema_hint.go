package sandbox

import (
	"encoding/json"
	"sort"
)

// topLevelObjectProperties extracts the sorted property names from a JSON
// Schema document's top-level "properties" object, if it has one.
func topLevelObjectProperties(rawSchema []byte) ([]string, bool) {
	if len(rawSchema) == 0 {
		return nil, false
	}
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return nil, false
	}
	if len(doc.Properties) == 0 {
		return nil, false
	}
	names := make([]string, 0, len(doc.Properties))
	for name := range doc.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}
