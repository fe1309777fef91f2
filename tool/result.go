package tool

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/petal-labs/toolgate/mcp"
)

// ToolInfo describes one discovered tool and the server that owns it.
// Instances are produced fresh on each discovery and superseded, never
// mutated, by later discovery.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Server      string         `json:"server"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Content type tags on successful results.
const (
	ContentTypeText = "text"
	ContentTypeJSON = "json"
)

// ToolResult is the immutable outcome of one execution. It is the only
// artifact exposed to logging and notification collaborators.
type ToolResult struct {
	ID          string         `json:"id"`
	Tool        string         `json:"tool"`
	Server      string         `json:"server,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Success     bool           `json:"success"`
	Content     string         `json:"content,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Error       *ToolError     `json:"error,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Timestamp   time.Time      `json:"timestamp"`
}

// parseCallContent flattens an MCP call result's content blocks: text
// blocks join with newlines; anything else is carried as JSON.
func parseCallContent(result mcp.ToolsCallResult) (string, string) {
	texts := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), ContentTypeText
	}

	if len(result.StructuredContent) > 0 {
		data, err := json.Marshal(result.StructuredContent)
		if err == nil {
			return string(data), ContentTypeJSON
		}
	}
	if len(result.Content) > 0 {
		data, err := json.Marshal(result.Content)
		if err == nil {
			return string(data), ContentTypeJSON
		}
	}
	return "", ContentTypeText
}

// callErrorMessage extracts the first text block from a result the
// server flagged as an error.
func callErrorMessage(result mcp.ToolsCallResult) string {
	for _, block := range result.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text
		}
	}
	return "tool reported an error"
}
