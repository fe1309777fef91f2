// Package loader reads server catalog files in JSON and YAML formats.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/toolgate/tool"
)

// catalogVersion is the only supported catalog schema version.
const catalogVersion = 1

// Settings carries catalog-wide tuning knobs. Zero values defer to
// component defaults.
type Settings struct {
	CacheTTL        time.Duration
	RequestTimeout  time.Duration
	RefreshSchedule string
	JournalPath     string
	OTLPEndpoint    string
}

// Catalog is a parsed, validated server catalog.
type Catalog struct {
	Settings Settings
	Servers  []tool.ServerConfig
}

// settingsFile mirrors the settings block on disk; durations are
// strings like "5m".
type settingsFile struct {
	CacheTTL        string `json:"cache_ttl"`
	RequestTimeout  string `json:"request_timeout"`
	RefreshSchedule string `json:"refresh_schedule"`
	JournalPath     string `json:"journal_path"`
	OTLPEndpoint    string `json:"otlp_endpoint"`
}

type serverFile struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Dir     string            `json:"dir"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled"`
}

type catalogFile struct {
	Version  int          `json:"version"`
	Settings settingsFile `json:"settings"`
	Servers  []serverFile `json:"servers"`
}

// Load reads and parses a catalog file, choosing the parse format from
// the file extension (.yaml/.yml is YAML, anything else JSON).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading catalog: %w", err)
	}
	return Parse(data, path)
}

// Parse parses catalog bytes. The path is used only for format
// detection and error messages.
func Parse(data []byte, path string) (*Catalog, error) {
	raw := data
	if isYAML(path) {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("loader: %s: %w", path, err)
		}
		raw = converted
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("loader: %s: parsing catalog: %w", path, err)
	}

	if file.Version != catalogVersion {
		return nil, fmt.Errorf("loader: %s: unsupported catalog version %d (want %d)", path, file.Version, catalogVersion)
	}
	if len(file.Servers) == 0 {
		return nil, fmt.Errorf("loader: %s: catalog declares no servers", path)
	}

	settings, err := parseSettings(file.Settings)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Servers))
	servers := make([]tool.ServerConfig, 0, len(file.Servers))
	for i, entry := range file.Servers {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("loader: %s: server %d has no name", path, i)
		}
		if strings.TrimSpace(entry.Command) == "" {
			return nil, fmt.Errorf("loader: %s: server %q has no command", path, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("loader: %s: duplicate server name %q", path, name)
		}
		seen[name] = struct{}{}

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		servers = append(servers, tool.ServerConfig{
			Name:    name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			Dir:     entry.Dir,
			Enabled: enabled,
		})
	}

	return &Catalog{
		Settings: settings,
		Servers:  servers,
	}, nil
}

func parseSettings(file settingsFile) (Settings, error) {
	settings := Settings{
		RefreshSchedule: strings.TrimSpace(file.RefreshSchedule),
		JournalPath:     strings.TrimSpace(file.JournalPath),
		OTLPEndpoint:    strings.TrimSpace(file.OTLPEndpoint),
	}

	if raw := strings.TrimSpace(file.CacheTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid cache_ttl %q: %w", raw, err)
		}
		if ttl <= 0 {
			return Settings{}, fmt.Errorf("cache_ttl %q must be positive", raw)
		}
		settings.CacheTTL = ttl
	}
	if raw := strings.TrimSpace(file.RequestTimeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid request_timeout %q: %w", raw, err)
		}
		if timeout <= 0 {
			return Settings{}, fmt.Errorf("request_timeout %q must be positive", raw)
		}
		settings.RequestTimeout = timeout
	}

	return settings, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts YAML bytes to JSON bytes, so one decode path
// serves both formats: YAML -> map[string]any -> JSON -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}
