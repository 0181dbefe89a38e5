package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// parameters reflects an argument struct into a JSON schema object suitable
// for a function-calling tool definition.
func parameters(args any) map[string]any {
	raw, err := json.Marshal(reflector.Reflect(args))
	if err != nil {
		panic("reflect tool schema: " + err.Error())
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic("decode tool schema: " + err.Error())
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}
