package tool

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseSchemaEmpty(t *testing.T) {
	schema, err := ParseSchema(ToolInfo{Name: "ping"})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if schema.Tool != "ping" {
		t.Fatalf("schema tool = %q, want %q", schema.Tool, "ping")
	}
	if len(schema.Parameters) != 0 {
		t.Fatalf("parameters = %d, want 0", len(schema.Parameters))
	}
}

func TestParseSchemaRequiredAndKinds(t *testing.T) {
	schema, err := ParseSchema(ToolInfo{
		Name: "read_file",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string", "description": "file path"},
				"offset": map[string]any{"type": "integer", "default": float64(0)},
				"follow": map[string]any{"type": "boolean"},
			},
			"required": []any{"path"},
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}

	path := schema.Parameters["path"]
	if path.Kind != KindString || !path.Required || path.Description != "file path" {
		t.Fatalf("path parameter = %+v", path)
	}
	offset := schema.Parameters["offset"]
	if offset.Kind != KindInteger || offset.Required || offset.Default != float64(0) {
		t.Fatalf("offset parameter = %+v", offset)
	}
	if schema.Parameters["follow"].Kind != KindBoolean {
		t.Fatalf("follow kind = %q", schema.Parameters["follow"].Kind)
	}

	want := []string{"follow", "offset", "path"}
	if got := schema.ParameterNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ParameterNames() = %v, want %v", got, want)
	}
}

func TestParseSchemaNested(t *testing.T) {
	schema, err := ParseSchema(ToolInfo{
		Name: "search",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tags": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"filter": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"limit": map[string]any{"type": "number"},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}

	tags := schema.Parameters["tags"]
	if tags.Kind != KindArray || tags.Items == nil || tags.Items.Kind != KindString {
		t.Fatalf("tags parameter = %+v", tags)
	}
	filter := schema.Parameters["filter"]
	if filter.Kind != KindObject || filter.Properties["limit"].Kind != KindNumber {
		t.Fatalf("filter parameter = %+v", filter)
	}
}

func TestParseSchemaUnionWithNull(t *testing.T) {
	schema, err := ParseSchema(ToolInfo{
		Name: "read_file",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"limit": map[string]any{"type": []any{"null", "integer"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if got := schema.Parameters["limit"].Kind; got != KindInteger {
		t.Fatalf("limit kind = %q, want %q", got, KindInteger)
	}
}

func TestParseSchemaUnknownTypeIsAny(t *testing.T) {
	schema, err := ParseSchema(ToolInfo{
		Name: "exotic",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"blob": map[string]any{"type": "binary"},
			},
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if got := schema.Parameters["blob"].Kind; got != KindAny {
		t.Fatalf("blob kind = %q, want %q", got, KindAny)
	}
}

func TestParseSchemaMalformedProperties(t *testing.T) {
	_, err := ParseSchema(ToolInfo{
		Name:        "broken",
		InputSchema: map[string]any{"properties": "not-an-object"},
	})
	var parseErr *SchemaParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ParseSchema() error = %v, want *SchemaParseError", err)
	}
	if parseErr.Tool != "broken" {
		t.Fatalf("parse error tool = %q, want %q", parseErr.Tool, "broken")
	}
}
