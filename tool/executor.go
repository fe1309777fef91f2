package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/toolgate/mcp"
)

const defaultExecuteTimeout = 30 * time.Second

// Call describes one tool invocation request.
type Call struct {
	// Tool is the catalog name of the tool to invoke.
	Tool string `json:"tool"`
	// Arguments are the raw invocation arguments.
	Arguments map[string]any `json:"arguments,omitempty"`
	// Timeout bounds this invocation; zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// SkipValidation bypasses schema validation for this call.
	SkipValidation bool `json:"skip_validation,omitempty"`
}

// ResultSink receives every completed result, regardless of outcome.
// The SQLite journal implements it; tests substitute recorders.
type ResultSink interface {
	Append(ctx context.Context, result ToolResult) error
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Registry *Registry
	// Sink, when set, is appended to after every execution. Sink
	// failures are logged and never affect the result.
	Sink ResultSink
	// DefaultTimeout applies to calls that do not set their own; zero
	// means thirty seconds.
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Executor resolves, validates, and invokes tools. Execute never returns
// a Go error: every failure is folded into the result's structured error
// so callers handle one shape.
type Executor struct {
	registry       *Registry
	sink           ResultSink
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewExecutor creates an executor over a registry.
func NewExecutor(cfg ExecutorConfig) *Executor {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultExecuteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:       cfg.Registry,
		sink:           cfg.Sink,
		defaultTimeout: timeout,
		logger:         logger,
	}
}

// Execute runs one tool call to completion. The returned result always
// carries the execution id, redacted-loggable arguments, duration, and
// either content or a coded error.
func (e *Executor) Execute(ctx context.Context, call Call) (result ToolResult) {
	start := time.Now()
	result = ToolResult{
		ID:        uuid.NewString(),
		Tool:      call.Tool,
		Arguments: call.Arguments,
		Timestamp: start.UTC(),
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Success = false
			result.Error = newToolError(CodeUnknownError, fmt.Sprintf("panic during execution: %v", recovered), nil)
		}
		result.Duration = time.Since(start)
		e.finish(ctx, result)
	}()

	e.logger.Debug("executing tool",
		"execution_id", result.ID,
		"tool", call.Tool,
		"arguments", RedactArguments(call.Arguments),
	)

	info, ok := e.registry.GetTool(ctx, call.Tool)
	if !ok {
		notFound := NewToolNotFoundError(call.Tool, e.registry.ToolNames(ctx))
		result.Error = withDetails(
			newToolError(CodeToolNotFound, notFound.Error(), notFound),
			map[string]any{"suggestions": notFound.Suggestions},
		)
		return result
	}
	result.Server = info.Server

	// A tool that declares no input shape is invoked as-is.
	if !call.SkipValidation && len(info.InputSchema) > 0 {
		schema, err := ParseSchema(info)
		if err != nil {
			result.Error = newToolError(CodeValidationError, err.Error(), err)
			return result
		}
		if issues := schema.Validate(call.Arguments); len(issues) > 0 {
			result.Error = withDetails(
				newToolError(CodeValidationError, issues[0], nil),
				map[string]any{"issues": issues},
			)
			return result
		}
	}

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callResult, err := e.registry.Call(callCtx, info.Server, mcp.ToolsCallParams{
		Name:      call.Tool,
		Arguments: call.Arguments,
	})
	if err != nil {
		result.Error = classifyCallError(err, timeout)
		return result
	}

	if callResult.IsError {
		result.Error = newToolError(CodeToolError, callErrorMessage(callResult), nil)
		return result
	}

	result.Success = true
	result.Content, result.ContentType = parseCallContent(callResult)
	return result
}

// ExecuteBatch runs calls concurrently and returns results in call
// order. A failed call never affects its siblings.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = e.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

const contentPreviewLimit = 120

func contentPreview(content string) string {
	if len(content) <= contentPreviewLimit {
		return content
	}
	return content[:contentPreviewLimit] + "..."
}

// classifyCallError maps a transport-layer failure onto the execution
// error taxonomy.
func classifyCallError(err error, timeout time.Duration) *ToolError {
	// A failure to (re)connect is a transport problem regardless of how
	// the handshake failed; only the call itself owns the timeout bound.
	var connectErr *serverConnectError
	if errors.As(err, &connectErr) {
		return newToolError(CodeTransportError, err.Error(), err)
	}
	switch {
	case mcp.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return withDetails(
			newToolError(CodeTimeoutError, fmt.Sprintf("tool call exceeded %s", timeout), err),
			map[string]any{"timeout": timeout.String()},
		)
	case mcp.IsConnectionError(err):
		return newToolError(CodeTransportError, err.Error(), err)
	default:
		var rpcErr *mcp.RPCError
		var reqErr *mcp.RequestError
		if errors.As(err, &rpcErr) || errors.As(err, &reqErr) {
			return newToolError(CodeTransportError, err.Error(), err)
		}
		return newToolError(CodeUnknownError, err.Error(), err)
	}
}

// finish reports a completed result to logging, the sink, and the
// observer.
func (e *Executor) finish(ctx context.Context, result ToolResult) {
	code := ""
	if result.Error != nil {
		code = result.Error.Code
	}

	if result.Success {
		e.logger.Info("tool executed",
			"execution_id", result.ID,
			"tool", result.Tool,
			"server", result.Server,
			"duration", result.Duration,
			"content", contentPreview(result.Content),
		)
	} else {
		e.logger.Warn("tool execution failed",
			"execution_id", result.ID,
			"tool", result.Tool,
			"server", result.Server,
			"code", code,
			"error", result.Error,
			"duration", result.Duration,
		)
	}

	if e.sink != nil {
		if err := e.sink.Append(ctx, result); err != nil {
			e.logger.Warn("journal append failed", "execution_id", result.ID, "error", err)
		}
	}

	emitExecuteObservation(ExecuteObservation{
		Tool:       result.Tool,
		Server:     result.Server,
		Code:       code,
		Success:    result.Success,
		DurationMS: result.Duration.Milliseconds(),
	})
}
