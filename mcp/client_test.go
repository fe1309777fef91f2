package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptTransport is an in-memory Transport whose responses are produced
// by a handler and delivered through a channel, so reply order is fully
// controlled by each test.
type scriptTransport struct {
	mu            sync.Mutex
	connected     bool
	closed        bool
	requests      []Message
	notifications []Message
	inbound       chan Message
	done          chan struct{}
	handler       func(req Message) *Message
}

func newScriptTransport(handler func(req Message) *Message) *scriptTransport {
	return &scriptTransport{
		inbound: make(chan Message, 64),
		done:    make(chan struct{}),
		handler: handler,
	}
}

func (s *scriptTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *scriptTransport) Send(ctx context.Context, message Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &ConnectionError{Op: "send", Err: errors.New("transport is closed")}
	}
	if message.IsNotification() {
		s.notifications = append(s.notifications, message)
		s.mu.Unlock()
		return nil
	}
	s.requests = append(s.requests, message)
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		if resp := handler(message); resp != nil {
			s.inbound <- *resp
		}
	}
	return nil
}

func (s *scriptTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-s.done:
		return Message{}, &ConnectionError{Op: "receive", Err: errors.New("transport is closed")}
	case message := <-s.inbound:
		return message, nil
	}
}

func (s *scriptTransport) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *scriptTransport) sentRequests() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *scriptTransport) sentNotifications() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func initializeHandler(t *testing.T, serverName string) func(req Message) *Message {
	t.Helper()
	return func(req Message) *Message {
		if req.Method != "initialize" {
			return &Message{
				JSONRPC: jsonRPCVersion,
				ID:      req.ID,
				Error:   &RPCError{Code: -32601, Message: "method not found"},
			}
		}
		result := InitializeResult{
			ProtocolVersion: defaultProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      ServerInfo{Name: serverName, Version: "1.0.0"},
		}
		return &Message{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Result:  mustJSON(t, result),
		}
	}
}

func connectedClient(t *testing.T, handler func(req Message) *Message) (*Client, *scriptTransport) {
	t.Helper()
	transport := newScriptTransport(handler)
	client := NewClient(transport, Options{
		ClientInfo: ClientInfo{Name: "toolgate-test", Version: "0.1.0"},
	})
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return client, transport
}

func TestClientConnectHandshake(t *testing.T) {
	client, transport := connectedClient(t, initializeHandler(t, "mock-mcp"))

	info, ok := client.ServerInfo()
	if !ok {
		t.Fatal("ServerInfo() ok = false, want true after Connect")
	}
	if info.ServerInfo.Name != "mock-mcp" {
		t.Fatalf("ServerInfo.Name = %q, want mock-mcp", info.ServerInfo.Name)
	}

	notifications := transport.sentNotifications()
	if len(notifications) == 0 {
		t.Fatal("expected initialized notification to be sent")
	}
	if notifications[0].Method != "notifications/initialized" {
		t.Fatalf("notification method = %q, want notifications/initialized", notifications[0].Method)
	}
}

func TestClientConnectIsIdempotent(t *testing.T) {
	initCalls := 0
	client, _ := connectedClient(t, func(req Message) *Message {
		if req.Method == "initialize" {
			initCalls++
		}
		return initializeHandler(t, "mock-mcp")(req)
	})

	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if initCalls != 1 {
		t.Fatalf("initialize call count = %d, want 1", initCalls)
	}
}

func TestClientHandshakeErrorAbortsConnect(t *testing.T) {
	transport := newScriptTransport(func(req Message) *Message {
		return &Message{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error:   &RPCError{Code: -32000, Message: "unsupported client"},
		}
	})
	client := NewClient(transport, Options{})
	defer client.Close(context.Background())
	_, err := client.Connect(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Connect() error = %v, want wrapped *RPCError", err)
	}
	if _, err := client.ListTools(context.Background()); !IsConnectionError(err) {
		t.Fatalf("ListTools() after failed handshake error = %v, want *ConnectionError", err)
	}
}

func TestClientRequiresInitialization(t *testing.T) {
	transport := newScriptTransport(nil)
	client := NewClient(transport, Options{})

	if _, err := client.ListTools(context.Background()); !IsConnectionError(err) {
		t.Fatalf("ListTools() error = %v, want *ConnectionError", err)
	}
	if _, err := client.CallTool(context.Background(), ToolsCallParams{Name: "x"}); !IsConnectionError(err) {
		t.Fatalf("CallTool() error = %v, want *ConnectionError", err)
	}
}

func TestClientCorrelatesOutOfOrderResponses(t *testing.T) {
	const calls = 8

	var mu sync.Mutex
	buffered := make([]Message, 0, calls)
	release := make(chan struct{})

	transport := newScriptTransport(nil)
	transport.handler = func(req Message) *Message {
		if req.Method == "initialize" {
			return initializeHandler(t, "mock-mcp")(req)
		}
		var params ToolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Errorf("Unmarshal(params) error = %v", err)
			return nil
		}
		echo, _ := json.Marshal(ToolsCallResult{
			Content: []ContentBlock{{Type: "text", Text: params.Arguments["index"].(string)}},
		})

		mu.Lock()
		buffered = append(buffered, Message{JSONRPC: jsonRPCVersion, ID: req.ID, Result: echo})
		ready := len(buffered) == calls
		mu.Unlock()
		if ready {
			close(release)
		}
		return nil
	}

	client := NewClient(transport, Options{})
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close(context.Background())

	// Deliver buffered responses in reverse arrival order once all
	// requests are in flight.
	go func() {
		<-release
		mu.Lock()
		defer mu.Unlock()
		for i := len(buffered) - 1; i >= 0; i-- {
			transport.inbound <- buffered[i]
		}
	}()

	var wg sync.WaitGroup
	results := make([]string, calls)
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := client.CallTool(context.Background(), ToolsCallParams{
				Name:      "echo",
				Arguments: map[string]any{"index": fmt.Sprintf("call-%d", i)},
			})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = result.Content[0].Text
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		if errs[i] != nil {
			t.Fatalf("CallTool(%d) error = %v", i, errs[i])
		}
		if want := fmt.Sprintf("call-%d", i); results[i] != want {
			t.Fatalf("results[%d] = %q, want %q", i, results[i], want)
		}
	}
	if n := client.PendingRequests(); n != 0 {
		t.Fatalf("PendingRequests() = %d, want 0", n)
	}
}

func TestClientRequestTimeoutCleansPending(t *testing.T) {
	transport := newScriptTransport(func(req Message) *Message {
		if req.Method == "initialize" {
			return initializeHandler(t, "mock-mcp")(req)
		}
		return nil // never reply
	})
	client := NewClient(transport, Options{RequestTimeout: 50 * time.Millisecond})
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close(context.Background())

	_, err := client.CallTool(context.Background(), ToolsCallParams{Name: "slow"})
	if !IsTimeout(err) {
		t.Fatalf("CallTool() error = %v, want *TimeoutError", err)
	}
	if n := client.PendingRequests(); n != 0 {
		t.Fatalf("PendingRequests() after timeout = %d, want 0", n)
	}
}

func TestClientListTools(t *testing.T) {
	client, _ := connectedClient(t, func(req Message) *Message {
		if req.Method == "initialize" {
			return initializeHandler(t, "mock-mcp")(req)
		}
		if req.Method != "tools/list" {
			return &Message{JSONRPC: jsonRPCVersion, ID: req.ID, Error: &RPCError{Code: -32601, Message: "method not found"}}
		}
		result := ToolsListResult{
			Tools: []Tool{{
				Name:        "read_file",
				Description: "Read a file from disk",
				InputSchema: map[string]any{"type": "object"},
			}},
		}
		return &Message{JSONRPC: jsonRPCVersion, ID: req.ID, Result: mustJSON(t, result)}
	})

	result, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "read_file" {
		t.Fatalf("Tools = %+v, want one read_file entry", result.Tools)
	}
}

func TestClientRPCErrorOnCall(t *testing.T) {
	client, _ := connectedClient(t, func(req Message) *Message {
		if req.Method == "initialize" {
			return initializeHandler(t, "mock-mcp")(req)
		}
		return &Message{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error:   &RPCError{Code: -32001, Message: "server failure"},
		}
	})

	_, err := client.CallTool(context.Background(), ToolsCallParams{Name: "broken"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T, want *RequestError", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error does not wrap *RPCError: %v", err)
	}
	if rpcErr.Code != -32001 {
		t.Fatalf("rpc error code = %d, want -32001", rpcErr.Code)
	}
}

func TestClientDispatchesNotifications(t *testing.T) {
	client, transport := connectedClient(t, initializeHandler(t, "mock-mcp"))

	received := make(chan json.RawMessage, 1)
	client.OnNotification("notifications/tools/list_changed", func(params json.RawMessage) {
		received <- params
	})

	transport.inbound <- Message{
		JSONRPC: jsonRPCVersion,
		Method:  "notifications/tools/list_changed",
		Params:  json.RawMessage(`{"reason":"registered"}`),
	}

	select {
	case params := <-received:
		var payload map[string]any
		if err := json.Unmarshal(params, &payload); err != nil {
			t.Fatalf("Unmarshal(params) error = %v", err)
		}
		if payload["reason"] != "registered" {
			t.Fatalf("params.reason = %v, want registered", payload["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("notification handler was not invoked")
	}
}

func TestClientUnknownResponseIsDropped(t *testing.T) {
	client, transport := connectedClient(t, initializeHandler(t, "mock-mcp"))

	// A response for an id that was never issued must not disturb later
	// requests.
	transport.inbound <- Message{JSONRPC: jsonRPCVersion, ID: 999, Result: json.RawMessage(`{}`)}

	transport.handler = func(req Message) *Message {
		result, _ := json.Marshal(ToolsListResult{})
		return &Message{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result}
	}
	if _, err := client.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
}

func TestClientCloseFailsPending(t *testing.T) {
	transport := newScriptTransport(func(req Message) *Message {
		if req.Method == "initialize" {
			return initializeHandler(t, "mock-mcp")(req)
		}
		return nil // hold the request open
	})
	client := NewClient(transport, Options{RequestTimeout: 5 * time.Second})
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	callErr := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), ToolsCallParams{Name: "held"})
		callErr <- err
	}()

	// Wait until the request is registered before closing.
	deadline := time.Now().Add(time.Second)
	for client.PendingRequests() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-callErr:
		if !IsConnectionError(err) {
			t.Fatalf("pending CallTool() error = %v, want *ConnectionError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request was not failed by Close")
	}
	if n := client.PendingRequests(); n != 0 {
		t.Fatalf("PendingRequests() after Close = %d, want 0", n)
	}
}

func mustJSON(t *testing.T, value any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}
