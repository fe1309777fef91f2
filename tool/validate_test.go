package tool

import (
	"strings"
	"testing"
)

func fileSchema(t *testing.T) Schema {
	t.Helper()
	schema, err := ParseSchema(ToolInfo{
		Name: "read_file",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string"},
				"offset": map[string]any{"type": "integer"},
				"mode":   map[string]any{"type": "string", "enum": []any{"text", "binary"}},
			},
			"required": []any{"path"},
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	return schema
}

func TestValidateAccepts(t *testing.T) {
	schema := fileSchema(t)
	cases := []map[string]any{
		{"path": "/tmp/x"},
		{"path": "/tmp/x", "offset": float64(10)},
		{"path": "/tmp/x", "offset": 3},
		{"path": "/tmp/x", "mode": "text"},
		{"path": "/tmp/x", "offset": nil},
	}
	for i, arguments := range cases {
		if problems := schema.Validate(arguments); len(problems) != 0 {
			t.Fatalf("case %d: Validate(%v) = %v, want no problems", i, arguments, problems)
		}
	}
}

func TestValidateMissingRequired(t *testing.T) {
	schema := fileSchema(t)
	problems := schema.Validate(map[string]any{"offset": float64(1)})
	if len(problems) != 1 || !strings.Contains(problems[0], `missing required parameter "path"`) {
		t.Fatalf("Validate() = %v", problems)
	}
}

func TestValidateUnknownParameter(t *testing.T) {
	schema := fileSchema(t)
	problems := schema.Validate(map[string]any{"path": "/x", "recursive": true})
	if len(problems) != 1 || !strings.Contains(problems[0], `unknown parameter "recursive"`) {
		t.Fatalf("Validate() = %v", problems)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	schema := fileSchema(t)
	problems := schema.Validate(map[string]any{"path": 42})
	if len(problems) != 1 || !strings.Contains(problems[0], "expected string") {
		t.Fatalf("Validate() = %v", problems)
	}
}

func TestValidateIntegerRejectsFraction(t *testing.T) {
	schema := fileSchema(t)
	if problems := schema.Validate(map[string]any{"path": "/x", "offset": 1.5}); len(problems) != 1 {
		t.Fatalf("Validate() = %v, want fractional offset rejected", problems)
	}
	if problems := schema.Validate(map[string]any{"path": "/x", "offset": 2.0}); len(problems) != 0 {
		t.Fatalf("Validate() = %v, want whole float accepted", problems)
	}
}

func TestValidateEnum(t *testing.T) {
	schema := fileSchema(t)
	problems := schema.Validate(map[string]any{"path": "/x", "mode": "hex"})
	if len(problems) != 1 || !strings.Contains(problems[0], "is not one of") {
		t.Fatalf("Validate() = %v", problems)
	}
}

func TestValidateEnumNumericTolerance(t *testing.T) {
	schema, err := ParseSchema(ToolInfo{
		Name: "resize",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"scale": map[string]any{"type": "integer", "enum": []any{float64(1), float64(2)}},
			},
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if problems := schema.Validate(map[string]any{"scale": 2}); len(problems) != 0 {
		t.Fatalf("Validate() = %v, want int literal accepted against float enum", problems)
	}
}

func TestValidateProblemOrdering(t *testing.T) {
	schema := fileSchema(t)
	problems := schema.Validate(map[string]any{
		"zz_extra": true,
		"aa_extra": true,
		"offset":   "ten",
	})
	want := []string{
		`missing required parameter "path"`,
		`unknown parameter "aa_extra"`,
		`unknown parameter "zz_extra"`,
		`parameter "offset"`,
	}
	if len(problems) != len(want) {
		t.Fatalf("Validate() = %v, want %d problems", problems, len(want))
	}
	for i, prefix := range want {
		if !strings.Contains(problems[i], prefix) {
			t.Fatalf("problem %d = %q, want it to contain %q", i, problems[i], prefix)
		}
	}
}
