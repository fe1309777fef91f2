package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestResolveArgumentsFromJSON(t *testing.T) {
	arguments, err := resolveArguments(`{"path": "/tmp/x", "limit": 5}`, nil)
	if err != nil {
		t.Fatalf("resolveArguments() error = %v", err)
	}
	want := map[string]any{"path": "/tmp/x", "limit": float64(5)}
	if !reflect.DeepEqual(arguments, want) {
		t.Fatalf("resolveArguments() = %v, want %v", arguments, want)
	}
}

func TestResolveArgumentsFromPairs(t *testing.T) {
	arguments, err := resolveArguments("", []string{
		"path=/tmp/x",
		"limit=5",
		"follow=true",
		`tags=["a","b"]`,
		"note=plain text",
	})
	if err != nil {
		t.Fatalf("resolveArguments() error = %v", err)
	}

	if arguments["path"] != "/tmp/x" {
		t.Errorf("path = %v", arguments["path"])
	}
	if arguments["limit"] != float64(5) {
		t.Errorf("limit = %v (%T), want JSON number", arguments["limit"], arguments["limit"])
	}
	if arguments["follow"] != true {
		t.Errorf("follow = %v, want bool", arguments["follow"])
	}
	tags, ok := arguments["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("tags = %v", arguments["tags"])
	}
	if arguments["note"] != "plain text" {
		t.Errorf("note = %v, want raw string fallback", arguments["note"])
	}
}

func TestResolveArgumentsRejectsMalformed(t *testing.T) {
	if _, err := resolveArguments("", []string{"no-equals"}); err == nil {
		t.Fatal("resolveArguments() accepted pair without =, want error")
	}
	if _, err := resolveArguments("{not json", nil); err == nil {
		t.Fatal("resolveArguments() accepted malformed JSON, want error")
	}
}

func TestResolveArgumentsJSONOverridesPairs(t *testing.T) {
	arguments, err := resolveArguments(`{"a": 1}`, []string{"b=2"})
	if err != nil {
		t.Fatalf("resolveArguments() error = %v", err)
	}
	if _, present := arguments["b"]; present {
		t.Fatalf("arguments = %v, --json should override --arg", arguments)
	}
}

func writeTestCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	catalog := `version: 1
settings:
  journal_path: ` + filepath.Join(dir, "journal.db") + `
servers:
  - name: files
    command: mcp-files
    enabled: false
`
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestServersListCommand(t *testing.T) {
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"servers", "list", "--catalog", writeTestCatalog(t)})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	output := out.String()
	if !strings.Contains(output, "files") || !strings.Contains(output, "disconnected") {
		t.Fatalf("output = %q, want files listed as disconnected", output)
	}
}

func TestCommandsRequireCatalog(t *testing.T) {
	root := NewRootCmd("test")
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"tools", "list"})

	err := root.Execute()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitValidation {
		t.Fatalf("Execute() error = %v, want validation ExitError", err)
	}
}
