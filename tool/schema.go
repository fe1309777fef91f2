package tool

import (
	"errors"
	"slices"
	"strings"
)

// Parameter kind literals derived from the JSON-Schema subset servers
// declare. A declared type outside this set parses as KindAny, which
// validation treats as unconstrained.
const (
	KindString  = "string"
	KindNumber  = "number"
	KindInteger = "integer"
	KindBoolean = "boolean"
	KindArray   = "array"
	KindObject  = "object"
	KindAny     = "any"
)

// Parameter is a read-only view over one declared tool input.
type Parameter struct {
	Name        string               `json:"name"`
	Kind        string               `json:"kind"`
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Items       *Parameter           `json:"items,omitempty"`
	Properties  map[string]Parameter `json:"properties,omitempty"`
}

// Schema is the parsed parameter list for one tool. It is recomputed on
// demand from the tool's raw input shape and never cached independently.
type Schema struct {
	Tool       string               `json:"tool"`
	Parameters map[string]Parameter `json:"parameters"`
}

// ParameterNames returns declared parameter names in deterministic order.
func (s Schema) ParameterNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseSchema interprets a tool's raw input shape as a parameter tree.
// A nil shape yields an empty schema (tools may take no arguments); a
// shape whose properties entry is not an object fails with a
// SchemaParseError.
func ParseSchema(info ToolInfo) (Schema, error) {
	schema := Schema{
		Tool:       info.Name,
		Parameters: map[string]Parameter{},
	}
	raw := info.InputSchema
	if len(raw) == 0 {
		return schema, nil
	}

	requiredSet := make(map[string]struct{})
	if requiredRaw, ok := raw["required"].([]any); ok {
		for _, item := range requiredRaw {
			if field, ok := item.(string); ok {
				requiredSet[field] = struct{}{}
			}
		}
	}

	propertiesRaw, present := raw["properties"]
	if !present {
		return schema, nil
	}
	properties, ok := propertiesRaw.(map[string]any)
	if !ok {
		return Schema{}, &SchemaParseError{Tool: info.Name, Err: errors.New("properties is not an object")}
	}

	for name, fieldRaw := range properties {
		fieldSchema, _ := fieldRaw.(map[string]any)
		param := parseParameter(name, fieldSchema)
		_, param.Required = requiredSet[name]
		schema.Parameters[name] = param
	}
	return schema, nil
}

func parseParameter(name string, schema map[string]any) Parameter {
	param := Parameter{
		Name: name,
		Kind: KindAny,
	}
	if schema == nil {
		return param
	}

	if desc, ok := schema["description"].(string); ok {
		param.Description = desc
	}
	if defaultValue, ok := schema["default"]; ok {
		param.Default = defaultValue
	}
	if enumRaw, ok := schema["enum"].([]any); ok {
		param.Enum = slices.Clone(enumRaw)
	}

	if kindName, ok := schema["type"].(string); ok {
		param.Kind = mapSchemaKind(kindName)
	} else if kindUnion, ok := schema["type"].([]any); ok {
		// Union with null: prefer the first non-null alternative.
		for _, rawKind := range kindUnion {
			kindName, _ := rawKind.(string)
			if strings.EqualFold(kindName, "null") {
				continue
			}
			param.Kind = mapSchemaKind(kindName)
			break
		}
	}

	if param.Kind == KindArray {
		if itemSchema, ok := schema["items"].(map[string]any); ok {
			item := parseParameter(name+"[]", itemSchema)
			param.Items = &item
		} else {
			item := Parameter{Name: name + "[]", Kind: KindAny}
			param.Items = &item
		}
	}

	if param.Kind == KindObject {
		if props, ok := schema["properties"].(map[string]any); ok {
			param.Properties = make(map[string]Parameter, len(props))
			for childName, childRaw := range props {
				childSchema, _ := childRaw.(map[string]any)
				param.Properties[childName] = parseParameter(childName, childSchema)
			}
		}
	}

	return param
}

func mapSchemaKind(jsonType string) string {
	switch strings.ToLower(strings.TrimSpace(jsonType)) {
	case "string":
		return KindString
	case "number":
		return KindNumber
	case "integer":
		return KindInteger
	case "boolean":
		return KindBoolean
	case "array":
		return KindArray
	case "object":
		return KindObject
	default:
		return KindAny
	}
}
