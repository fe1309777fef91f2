package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS tool_executions (
	id TEXT PRIMARY KEY,
	tool TEXT NOT NULL,
	server TEXT NOT NULL,
	success INTEGER NOT NULL,
	code TEXT NOT NULL,
	content TEXT NOT NULL,
	error_message TEXT NOT NULL,
	arguments BLOB,
	duration_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_executions_created_at
	ON tool_executions (created_at DESC);`

const (
	defaultJournalDir = ".toolgate"
	defaultJournalDB  = "toolgate.db"
)

// JournalEntry is one persisted execution record.
type JournalEntry struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Server     string         `json:"server"`
	Success    bool           `json:"success"`
	Code       string         `json:"code,omitempty"`
	Content    string         `json:"content,omitempty"`
	Error      string         `json:"error,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Journal persists execution results in SQLite. Arguments are redacted
// before they touch disk.
type Journal struct {
	db *sql.DB
}

// DefaultJournalPath returns the default SQLite path for CLI storage.
func DefaultJournalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tool: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultJournalDir, defaultJournalDB), nil
}

// OpenJournal opens (or creates) an execution journal at the given DSN.
func OpenJournal(dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("tool: journal dsn is required")
	}
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tool: journal create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tool: journal open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: journal set WAL mode: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tool: journal create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append records one completed execution.
func (j *Journal) Append(ctx context.Context, result ToolResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j == nil || j.db == nil {
		return errors.New("tool: journal is nil")
	}

	code := ""
	errMessage := ""
	if result.Error != nil {
		code = result.Error.Code
		errMessage = result.Error.Message
	}

	var arguments []byte
	if len(result.Arguments) > 0 {
		data, err := json.Marshal(RedactArguments(result.Arguments))
		if err != nil {
			return fmt.Errorf("tool: journal encode arguments: %w", err)
		}
		arguments = data
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO tool_executions (id, tool, server, success, code, content, error_message, arguments, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.Tool,
		result.Server,
		boolToInt(result.Success),
		code,
		result.Content,
		errMessage,
		arguments,
		result.Duration.Milliseconds(),
		// Unix nanoseconds keep ORDER BY created_at correct; a textual
		// timestamp column sorts whole seconds after fractional ones.
		result.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("tool: journal append execution: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if j == nil || j.db == nil {
		return nil, errors.New("tool: journal is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, tool, server, success, code, content, error_message, arguments, duration_ms, created_at
FROM tool_executions
ORDER BY created_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("tool: journal list executions: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			entry        JournalEntry
			success      int
			arguments    []byte
			createdNanos int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Tool,
			&entry.Server,
			&success,
			&entry.Code,
			&entry.Content,
			&entry.Error,
			&arguments,
			&entry.DurationMS,
			&createdNanos,
		); err != nil {
			return nil, fmt.Errorf("tool: journal scan execution: %w", err)
		}
		entry.Success = success != 0
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &entry.Arguments); err != nil {
				return nil, fmt.Errorf("tool: journal decode arguments: %w", err)
			}
		}
		entry.CreatedAt = time.Unix(0, createdNanos).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool: journal execution rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ ResultSink = (*Journal)(nil)
