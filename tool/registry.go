package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/petal-labs/toolgate/cache"
	"github.com/petal-labs/toolgate/mcp"
)

// ServerStatus is the registry-level connection state of one server.
type ServerStatus string

const (
	ServerDisconnected ServerStatus = "disconnected"
	ServerConnecting   ServerStatus = "connecting"
	ServerConnected    ServerStatus = "connected"
	ServerError        ServerStatus = "error"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	toolCacheKeyPrefix = "tools:"
)

// ServerConfig identifies one tool server and how to launch it. A config
// is immutable once registered; replacing it means removing and
// re-registering the server.
type ServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Enabled bool              `json:"enabled"`
}

// ToolClient is the protocol client contract the registry drives. It is
// satisfied by *mcp.Client; tests substitute stubs.
type ToolClient interface {
	Connect(ctx context.Context) (mcp.InitializeResult, error)
	ListTools(ctx context.Context) (mcp.ToolsListResult, error)
	CallTool(ctx context.Context, params mcp.ToolsCallParams) (mcp.ToolsCallResult, error)
	Close(ctx context.Context) error
}

var _ ToolClient = (*mcp.Client)(nil)

// Dialer builds an unconnected protocol client for a server config.
type Dialer func(cfg ServerConfig) ToolClient

// StdioDialer returns the production dialer: one stdio subprocess
// transport per server, wrapped in an MCP client.
func StdioDialer(options mcp.Options) Dialer {
	return func(cfg ServerConfig) ToolClient {
		transport := mcp.NewStdioTransport(mcp.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
			Logger:  options.Logger,
		})
		return mcp.NewClient(transport, options)
	}
}

// ServerSnapshot is the introspection view of one server for dashboards.
type ServerSnapshot struct {
	Name      string       `json:"name"`
	Status    ServerStatus `json:"status"`
	ToolCount int          `json:"tool_count"`
	Error     string       `json:"error,omitempty"`
}

// serverConnectError marks a failure that happened while establishing a
// server session, as opposed to during a call on an established one.
// The executor maps it to a transport failure even when the underlying
// cause is a handshake timeout.
type serverConnectError struct {
	Server string
	Err    error
}

func (e *serverConnectError) Error() string {
	return fmt.Sprintf("tool: connecting server %q: %v", e.Server, e.Err)
}

func (e *serverConnectError) Unwrap() error { return e.Err }

// serverState tracks one registered server. connMu serializes connect
// and disconnect attempts for this server only, so unrelated servers can
// connect in parallel; mu guards the mutable fields.
type serverState struct {
	connMu sync.Mutex

	mu        sync.Mutex
	config    ServerConfig
	status    ServerStatus
	client    ToolClient
	lastError string
	toolCount int
}

func (s *serverState) snapshot() ServerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerSnapshot{
		Name:      s.config.Name,
		Status:    s.status,
		ToolCount: s.toolCount,
		Error:     s.lastError,
	}
}

func (s *serverState) connectedClient() (ToolClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == ServerConnected && s.client != nil {
		return s.client, true
	}
	return nil, false
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// CacheTTL bounds how long discovered tool lists are reused. Zero
	// means the package default of five minutes.
	CacheTTL time.Duration
	// Dialer builds protocol clients; nil means StdioDialer with
	// default client options.
	Dialer Dialer
	Logger *slog.Logger
}

// Registry owns a set of named servers, manages their connection
// lifecycle, and serves a unified, TTL-cached view of available tools.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverState

	cache  *cache.Cache[[]ToolInfo]
	dialer Dialer
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = StdioDialer(mcp.Options{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		servers: make(map[string]*serverState),
		cache:   cache.New[[]ToolInfo](ttl),
		dialer:  dialer,
		logger:  logger,
	}
}

// AddServer registers a server. The name must be unique; replacing a
// server requires removing it first.
func (r *Registry) AddServer(cfg ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("tool: server name is required")
	}
	if cfg.Command == "" {
		return fmt.Errorf("tool: server %q has no command", cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[cfg.Name]; exists {
		return fmt.Errorf("tool: server %q is already registered", cfg.Name)
	}
	r.servers[cfg.Name] = &serverState{
		config: cfg,
		status: ServerDisconnected,
	}
	return nil
}

// RemoveServer disconnects and forgets a server, dropping its cached
// tools.
func (r *Registry) RemoveServer(ctx context.Context, name string) error {
	r.mu.Lock()
	state, ok := r.servers[name]
	if ok {
		delete(r.servers, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("tool: server %q is not registered", name)
	}
	return r.disconnectState(ctx, state)
}

func (r *Registry) state(name string) (*serverState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.servers[name]
	if !ok {
		return nil, fmt.Errorf("tool: server %q is not registered", name)
	}
	return state, nil
}

// ServerNames returns registered server names in deterministic order.
func (r *Registry) ServerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Servers returns a point-in-time snapshot of every registered server.
func (r *Registry) Servers() []ServerSnapshot {
	names := r.ServerNames()
	out := make([]ServerSnapshot, 0, len(names))
	for _, name := range names {
		state, err := r.state(name)
		if err != nil {
			continue
		}
		out = append(out, state.snapshot())
	}
	return out
}

// Connect establishes the server's protocol session, performing the MCP
// handshake. Connect attempts for the same server are serialized; a
// connected server is a no-op. A failed attempt leaves the server in the
// error state, from which a retried Connect is allowed.
func (r *Registry) Connect(ctx context.Context, name string) error {
	state, err := r.state(name)
	if err != nil {
		return err
	}
	return r.connectState(ctx, state)
}

func (r *Registry) connectState(ctx context.Context, state *serverState) error {
	state.connMu.Lock()
	defer state.connMu.Unlock()

	state.mu.Lock()
	cfg := state.config
	if state.status == ServerConnected && state.client != nil {
		state.mu.Unlock()
		return nil
	}
	if !cfg.Enabled {
		state.mu.Unlock()
		return fmt.Errorf("tool: server %q is disabled", cfg.Name)
	}
	state.status = ServerConnecting
	state.mu.Unlock()

	start := time.Now()
	client := r.dialer(cfg)
	_, err := client.Connect(ctx)
	if err != nil {
		_ = client.Close(context.Background())
		state.mu.Lock()
		state.status = ServerError
		state.lastError = err.Error()
		state.client = nil
		state.mu.Unlock()
		emitConnectObservation(ConnectObservation{
			Server:     cfg.Name,
			Success:    false,
			DurationMS: time.Since(start).Milliseconds(),
		})
		r.logger.Warn("server connect failed", "server", cfg.Name, "error", err)
		return &serverConnectError{Server: cfg.Name, Err: err}
	}

	// A changed tool catalog on the server side drops our cached copy.
	if notifier, ok := client.(interface {
		OnNotification(method string, handler mcp.NotificationHandler)
	}); ok {
		serverName := cfg.Name
		notifier.OnNotification("notifications/tools/list_changed", func(json.RawMessage) {
			r.cache.Invalidate(toolCacheKeyPrefix + serverName)
		})
	}

	state.mu.Lock()
	state.client = client
	state.status = ServerConnected
	state.lastError = ""
	state.mu.Unlock()

	emitConnectObservation(ConnectObservation{
		Server:     cfg.Name,
		Success:    true,
		DurationMS: time.Since(start).Milliseconds(),
	})
	r.logger.Info("server connected", "server", cfg.Name)
	return nil
}

// clientFor returns the server's connected client, connecting on demand.
func (r *Registry) clientFor(ctx context.Context, name string) (ToolClient, error) {
	state, err := r.state(name)
	if err != nil {
		return nil, err
	}
	if client, ok := state.connectedClient(); ok {
		return client, nil
	}
	if err := r.connectState(ctx, state); err != nil {
		return nil, err
	}
	client, ok := state.connectedClient()
	if !ok {
		return nil, fmt.Errorf("tool: server %q is not connected", name)
	}
	return client, nil
}

// ListTools returns tools from one server, or from every enabled server
// when server is empty. Aggregation tolerates per-server discovery
// failures: they are logged and the remaining servers still contribute.
func (r *Registry) ListTools(ctx context.Context, server string, forceRefresh bool) ([]ToolInfo, error) {
	if server != "" {
		return r.serverTools(ctx, server, forceRefresh)
	}

	out := make([]ToolInfo, 0)
	for _, name := range r.ServerNames() {
		state, err := r.state(name)
		if err != nil {
			continue
		}
		state.mu.Lock()
		enabled := state.config.Enabled
		state.mu.Unlock()
		if !enabled {
			continue
		}

		tools, err := r.serverTools(ctx, name, forceRefresh)
		if err != nil {
			r.logger.Warn("tool discovery failed", "server", name, "error", err)
			continue
		}
		out = append(out, tools...)
	}
	return out, nil
}

func (r *Registry) serverTools(ctx context.Context, name string, forceRefresh bool) ([]ToolInfo, error) {
	key := toolCacheKeyPrefix + name
	start := time.Now()

	if !forceRefresh {
		if tools, ok := r.cache.Get(key); ok {
			emitDiscoveryObservation(DiscoveryObservation{
				Server:     name,
				ToolCount:  len(tools),
				CacheHit:   true,
				DurationMS: time.Since(start).Milliseconds(),
			})
			return tools, nil
		}
	}

	client, err := r.clientFor(ctx, name)
	if err != nil {
		return nil, err
	}

	list, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("tool: discovering tools on %q: %w", name, err)
	}

	tools := make([]ToolInfo, 0, len(list.Tools))
	for _, discovered := range list.Tools {
		tools = append(tools, ToolInfo{
			Name:        discovered.Name,
			Description: discovered.Description,
			Server:      name,
			InputSchema: discovered.InputSchema,
		})
	}

	r.cache.Set(key, tools, 0)

	state, err := r.state(name)
	if err == nil {
		state.mu.Lock()
		state.toolCount = len(tools)
		state.mu.Unlock()
	}

	emitDiscoveryObservation(DiscoveryObservation{
		Server:     name,
		ToolCount:  len(tools),
		CacheHit:   false,
		DurationMS: time.Since(start).Milliseconds(),
	})
	r.logger.Debug("tools discovered", "server", name, "count", len(tools))
	return tools, nil
}

// GetTool resolves a tool by name with a linear scan over the aggregated
// catalog. Catalogs are small; an index would not pay for itself.
func (r *Registry) GetTool(ctx context.Context, name string) (ToolInfo, bool) {
	tools, _ := r.ListTools(ctx, "", false)
	for _, info := range tools {
		if info.Name == name {
			return info, true
		}
	}
	return ToolInfo{}, false
}

// ToolNames returns every known tool name in catalog order.
func (r *Registry) ToolNames(ctx context.Context) []string {
	tools, _ := r.ListTools(ctx, "", false)
	names := make([]string, 0, len(tools))
	for _, info := range tools {
		names = append(names, info.Name)
	}
	return names
}

// GetSchema resolves a tool and parses its input shape. An unknown name
// yields a ToolNotFoundError carrying suggestions from the full catalog.
func (r *Registry) GetSchema(ctx context.Context, name string) (Schema, error) {
	info, ok := r.GetTool(ctx, name)
	if !ok {
		return Schema{}, NewToolNotFoundError(name, r.ToolNames(ctx))
	}
	return ParseSchema(info)
}

// Call invokes a tool on a named server, connecting on demand.
func (r *Registry) Call(ctx context.Context, server string, params mcp.ToolsCallParams) (mcp.ToolsCallResult, error) {
	client, err := r.clientFor(ctx, server)
	if err != nil {
		return mcp.ToolsCallResult{}, err
	}
	return client.CallTool(ctx, params)
}

// Refresh invalidates cached discovery for one server (or all) and
// re-runs it.
func (r *Registry) Refresh(ctx context.Context, server string) error {
	if server == "" {
		r.cache.InvalidatePrefix(toolCacheKeyPrefix)
		_, err := r.ListTools(ctx, "", true)
		return err
	}
	r.cache.Invalidate(toolCacheKeyPrefix + server)
	_, err := r.serverTools(ctx, server, true)
	return err
}

// SweepCache removes expired cache entries and returns the count.
func (r *Registry) SweepCache() int {
	return r.cache.CleanupExpired()
}

// DisconnectServer closes one server's session, drops its cached tools,
// and resets its status.
func (r *Registry) DisconnectServer(ctx context.Context, name string) error {
	state, err := r.state(name)
	if err != nil {
		return err
	}
	return r.disconnectState(ctx, state)
}

func (r *Registry) disconnectState(ctx context.Context, state *serverState) error {
	state.connMu.Lock()
	defer state.connMu.Unlock()

	state.mu.Lock()
	client := state.client
	name := state.config.Name
	// Clear the client before the status flips to disconnected so no
	// reader ever sees a disconnected server holding a live client.
	state.client = nil
	state.status = ServerDisconnected
	state.lastError = ""
	state.toolCount = 0
	state.mu.Unlock()

	r.cache.Invalidate(toolCacheKeyPrefix + name)

	if client == nil {
		return nil
	}
	if err := client.Close(ctx); err != nil {
		r.logger.Warn("server disconnect failed", "server", name, "error", err)
		return err
	}
	r.logger.Info("server disconnected", "server", name)
	return nil
}

// Close disconnects every server and clears the cache.
func (r *Registry) Close(ctx context.Context) error {
	var firstErr error
	for _, name := range r.ServerNames() {
		if err := r.DisconnectServer(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.cache.Clear()
	return firstErr
}
