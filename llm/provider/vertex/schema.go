package vertex

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// typeNames maps JSON Schema type names onto the uppercase OpenAPI dialect
// Gemini expects. Unknown or untyped nodes degrade to STRING.
var typeNames = map[string]string{
	"object":  "OBJECT",
	"array":   "ARRAY",
	"string":  "STRING",
	"number":  "NUMBER",
	"integer": "INTEGER",
	"boolean": "BOOLEAN",
}

// ConvertSchema rewrites a JSON Schema document into the responseSchema
// dialect. Unsupported keywords are dropped; structure, required fields, and
// enums survive.
func ConvertSchema(raw json.RawMessage) (*Schema, error) {
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}

	return convertNode(&js), nil
}

func convertNode(js *jsonschema.Schema) *Schema {
	if js == nil {
		return nil
	}

	out := &Schema{
		Type:        typeName(js),
		Format:      js.Format,
		Description: js.Description,
		Required:    js.Required,
	}

	if len(js.Enum) > 0 {
		out.Enum = lo.Map(js.Enum, func(v any, _ int) string {
			return cast.ToString(v)
		})
	}

	if len(js.Properties) > 0 {
		out.Properties = make(map[string]*Schema, len(js.Properties))
		for name, prop := range js.Properties {
			out.Properties[name] = convertNode(prop)
		}
	}

	if js.Items != nil {
		out.Items = convertNode(js.Items)
	}

	return out
}

func typeName(js *jsonschema.Schema) string {
	t := js.Type
	if t == "" && len(js.Types) > 0 {
		t = js.Types[0]
	}

	if name, ok := typeNames[t]; ok {
		return name
	}

	return "STRING"
}
