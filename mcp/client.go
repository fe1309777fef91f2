package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultProtocolVersion = "2025-06-18"
	defaultClientName      = "toolgate"
	defaultClientVersion   = "dev"
	defaultRequestTimeout  = 30 * time.Second
)

// NotificationHandler consumes one server notification's params.
type NotificationHandler func(params json.RawMessage)

// Options configures client identity, capabilities, and request bounds.
type Options struct {
	ProtocolVersion string
	ClientInfo      ClientInfo
	Capabilities    map[string]any
	// RequestTimeout bounds each request when the caller's context carries
	// no deadline of its own. Zero means the package default.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// pendingResult is the single fulfillment delivered to a request waiter:
// either the correlated response or a terminal transport error.
type pendingResult struct {
	message Message
	err     error
}

// Client speaks the MCP request/response/notification protocol over a
// Transport. A background routing loop correlates responses to waiters by
// request id and dispatches notifications to registered handlers.
//
// The client is one-way: once initialized it stays initialized until
// Close; reconnecting means building a new client.
type Client struct {
	transport Transport
	options   Options
	logger    *slog.Logger

	mu          sync.Mutex
	nextID      int64
	pending     map[int64]chan pendingResult
	handlers    map[string]NotificationHandler
	initialized bool
	initResult  InitializeResult
	closed      bool

	routerCancel context.CancelFunc
	routerDone   chan struct{}
}

// NewClient returns a new MCP client for a given transport.
func NewClient(transport Transport, options Options) *Client {
	if options.ProtocolVersion == "" {
		options.ProtocolVersion = defaultProtocolVersion
	}
	if options.ClientInfo.Name == "" {
		options.ClientInfo.Name = defaultClientName
	}
	if options.ClientInfo.Version == "" {
		options.ClientInfo.Version = defaultClientVersion
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultRequestTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		transport: transport,
		options:   options,
		logger:    logger,
		nextID:    1,
		pending:   make(map[int64]chan pendingResult),
		handlers:  make(map[string]NotificationHandler),
	}
}

// OnNotification registers a handler for one notification method. A nil
// handler removes the registration. Notifications without a handler are
// silently ignored.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.handlers, method)
		return
	}
	c.handlers[method] = handler
}

// Connect connects the transport, starts the routing loop, and performs
// the initialize handshake. Calling Connect on an initialized client
// returns the cached handshake result.
func (c *Client) Connect(ctx context.Context) (InitializeResult, error) {
	if c == nil {
		return InitializeResult{}, errors.New("mcp: client is nil")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return InitializeResult{}, &ConnectionError{Op: "connect", Err: errors.New("client is closed")}
	}
	if c.initialized {
		cached := c.initResult
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		return InitializeResult{}, err
	}
	c.startRouter()

	params := InitializeParams{
		ProtocolVersion: c.options.ProtocolVersion,
		Capabilities:    cloneMap(c.options.Capabilities),
		ClientInfo:      c.options.ClientInfo,
	}

	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return InitializeResult{}, err
	}

	// Fire-and-forget: the initialized notification has no response.
	if err := c.notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return InitializeResult{}, err
	}

	c.mu.Lock()
	c.initialized = true
	c.initResult = result
	c.mu.Unlock()

	return result, nil
}

// ServerInfo returns the handshake result, valid only after Connect.
func (c *Client) ServerInfo() (InitializeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initResult, c.initialized
}

// ListTools returns server tools from tools/list.
func (c *Client) ListTools(ctx context.Context) (ToolsListResult, error) {
	if err := c.requireInitialized("tools/list"); err != nil {
		return ToolsListResult{}, err
	}
	var result ToolsListResult
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return ToolsListResult{}, err
	}
	return result, nil
}

// CallTool executes an MCP tool by name with arguments. A response
// carrying an error object is surfaced as a RequestError wrapping the
// RPCError rather than a normal result.
func (c *Client) CallTool(ctx context.Context, params ToolsCallParams) (ToolsCallResult, error) {
	if err := c.requireInitialized("tools/call"); err != nil {
		return ToolsCallResult{}, err
	}
	var result ToolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return ToolsCallResult{}, err
	}
	return result, nil
}

// Close stops the routing loop, fails all pending requests, and closes
// the transport. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.transport == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.initialized = false
	cancel := c.routerCancel
	done := c.routerDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.failAllPending(&ConnectionError{Op: "request", Err: errors.New("client is closed")})

	err := c.transport.Close(ctx)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PendingRequests returns the number of in-flight correlated requests.
func (c *Client) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) requireInitialized(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return &ConnectionError{Op: op, Err: errors.New("client is not initialized")}
	}
	return nil
}

func (c *Client) startRouter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routerDone != nil {
		return
	}
	routerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.routerCancel = cancel
	c.routerDone = done
	go c.routeLoop(routerCtx, done)
}

// routeLoop delivers every inbound message: responses to their pending
// waiter, notifications to their handler. A transport failure is terminal
// and fails every pending request.
func (c *Client) routeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		message, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.failAllPending(&ConnectionError{Op: "receive", Err: err})
			}
			return
		}

		switch {
		case message.IsResponse():
			c.deliverResponse(message)
		case message.IsNotification():
			c.dispatchNotification(message)
		default:
			c.logger.Debug("dropping uncorrelated message",
				"method", message.Method,
				"id", message.ID)
		}
	}
}

func (c *Client) deliverResponse(message Message) {
	c.mu.Lock()
	ch, ok := c.pending[message.ID]
	if ok {
		delete(c.pending, message.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late arrival for a timed-out or unknown request.
		c.logger.Debug("discarding response with no pending request", "id", message.ID)
		return
	}
	ch <- pendingResult{message: message}
}

func (c *Client) dispatchNotification(message Message) {
	c.mu.Lock()
	handler, ok := c.handlers[message.Method]
	c.mu.Unlock()
	if !ok {
		return
	}
	handler(message.Params)
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan pendingResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}

// call sends one correlated request and waits for its response. The
// completion handle is registered before the send so a fast responder can
// never race the waiter. On timeout the pending entry is removed; a late
// response is then discarded by the router.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if c == nil || c.transport == nil {
		return &RequestError{Method: method, Err: errors.New("transport is nil")}
	}

	paramsRaw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}

	bound := c.options.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		bound = time.Until(deadline)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	id, ch := c.register()
	request := Message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsRaw,
	}
	if err := c.transport.Send(ctx, request); err != nil {
		c.unregister(id)
		return &RequestError{Method: method, Err: err}
	}

	select {
	case <-ctx.Done():
		c.unregister(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Op: method, Timeout: bound}
		}
		return ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return &RequestError{Method: method, Err: result.err}
		}
		response := result.message
		if response.JSONRPC != "" && response.JSONRPC != jsonRPCVersion {
			return &RequestError{Method: method, Err: fmt.Errorf("unsupported jsonrpc version %q", response.JSONRPC)}
		}
		if response.Error != nil {
			return &RequestError{Method: method, Err: response.Error}
		}
		if out == nil || len(response.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(response.Result, out); err != nil {
			return &RequestError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	if c == nil || c.transport == nil {
		return nil
	}
	paramsRaw, err := marshalParams(params)
	if err != nil {
		return &RequestError{Method: method, Err: err}
	}
	return c.transport.Send(ctx, Message{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  paramsRaw,
	})
}

func (c *Client) register() (int64, chan pendingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan pendingResult, 1)
	c.pending[id] = ch
	return id, ch
}

func (c *Client) unregister(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
