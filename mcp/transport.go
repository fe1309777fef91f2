package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"
)

// terminateGracePeriod is how long Close waits for the subprocess to exit
// after a termination signal before escalating to a kill.
const terminateGracePeriod = 5 * time.Second

// maxLineBytes bounds one newline-delimited message on the wire.
const maxLineBytes = 4 << 20

// Transport is the message transport contract used by the MCP client core.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// StdioConfig configures a stdio MCP transport.
type StdioConfig struct {
	Command string
	Args    []string
	// Env entries are merged over the parent environment. Values are
	// subject to shell-style $VAR expansion against the parent env.
	Env map[string]string
	Dir string

	Logger *slog.Logger
}

// StdioTransport owns one subprocess and exposes it as a bidirectional
// stream of newline-delimited JSON-RPC messages. The subprocess is spawned
// by Connect and terminated by Close; the transport never restarts a dead
// process on its own.
type StdioTransport struct {
	cfg    StdioConfig
	logger *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	queue   *messageQueue
	waitCh  chan struct{}
	waitErr error
	started bool
	closed  bool
}

// NewStdioTransport returns an unconnected stdio transport.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		cfg:    cfg,
		logger: logger,
	}
}

// Connect spawns the configured command and starts the background reader.
// Calling Connect on an already-connected transport is a no-op.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t == nil {
		return &ConnectionError{Op: "connect", Err: errors.New("transport is nil")}
	}
	if strings.TrimSpace(t.cfg.Command) == "" {
		return &ConnectionError{Op: "connect", Err: errors.New("stdio command is required")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &ConnectionError{Op: "connect", Err: errors.New("transport is closed")}
	}
	if t.started {
		return nil
	}

	args := slices.Clone(t.cfg.Args)
	// #nosec G204 -- command/args come from trusted server configuration.
	cmd := exec.Command(t.cfg.Command, args...)
	cmd.Dir = t.cfg.Dir
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), expandEnv(t.cfg.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("open stdin: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("open stdout: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("open stderr: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.queue = newMessageQueue()
	t.waitCh = make(chan struct{})
	t.started = true

	go t.readLoop(stdout)
	go t.waitLoop(stderr)

	return nil
}

// readLoop reads one message per line from the subprocess's stdout until
// EOF. Malformed lines are logged and dropped; EOF terminates the stream
// and fails any blocked Receive with a ConnectionError.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	queue := t.queue

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var message Message
		if err := json.Unmarshal([]byte(line), &message); err != nil {
			t.logger.Warn("dropping malformed message line",
				"command", t.cfg.Command,
				"error", err)
			continue
		}
		queue.push(message)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	queue.fail(&ConnectionError{Op: "receive", Err: err})
}

// waitLoop drains stderr and reaps the subprocess. It is the only caller
// of cmd.Wait.
func (t *StdioTransport) waitLoop(stderr io.Reader) {
	_, _ = io.Copy(io.Discard, stderr)

	err := t.cmd.Wait()

	t.mu.Lock()
	t.waitErr = err
	closed := t.closed
	waitCh := t.waitCh
	t.mu.Unlock()

	close(waitCh)

	if err != nil && !closed {
		t.logger.Warn("subprocess exited with error",
			"command", t.cfg.Command,
			"error", err)
	}
}

// Send serializes one message to a single line on the subprocess's stdin.
// Writers are serialized so concurrent requests never interleave mid-line.
func (t *StdioTransport) Send(ctx context.Context, message Message) error {
	if t == nil {
		return &ConnectionError{Op: "send", Err: errors.New("transport is nil")}
	}

	t.mu.Lock()
	stdin := t.stdin
	ok := t.started && !t.closed && !t.exitedLocked()
	t.mu.Unlock()
	if !ok || stdin == nil {
		return &ConnectionError{Op: "send", Err: errors.New("transport is not connected")}
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(data); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// Receive pops the next inbound message, blocking until one arrives, the
// context is done, or the stream terminates. A context deadline surfaces
// as a TimeoutError carrying the remaining bound at call time.
func (t *StdioTransport) Receive(ctx context.Context) (Message, error) {
	if t == nil {
		return Message{}, &ConnectionError{Op: "receive", Err: errors.New("transport is nil")}
	}
	t.mu.Lock()
	queue := t.queue
	t.mu.Unlock()
	if queue == nil {
		return Message{}, &ConnectionError{Op: "receive", Err: errors.New("transport is not connected")}
	}

	var bound time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		bound = time.Until(deadline)
	}

	message, err := queue.pop(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Message{}, &TimeoutError{Op: "receive", Timeout: bound}
		}
		return Message{}, err
	}
	return message, nil
}

// Close stops the reader and terminates the subprocess, escalating from a
// termination signal to a kill after the grace period. Safe to call on an
// already-stopped transport.
func (t *StdioTransport) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	if t.closed || !t.started {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	waitCh := t.waitCh
	queue := t.queue
	t.mu.Unlock()

	if queue != nil {
		queue.fail(&ConnectionError{Op: "receive", Err: errors.New("transport is closed")})
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = cmd.Process.Kill()
		}
	}

	select {
	case <-waitCh:
		return nil
	case <-time.After(terminateGracePeriod):
	case <-ctx.Done():
	}

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	select {
	case <-waitCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// exitedLocked reports whether the subprocess has been reaped. Caller must
// hold t.mu.
func (t *StdioTransport) exitedLocked() bool {
	if t.waitCh == nil {
		return false
	}
	select {
	case <-t.waitCh:
		return true
	default:
		return false
	}
}

// messageQueue is an unbounded FIFO of inbound messages. Once failed, all
// pending and future pops return the terminal error.
type messageQueue struct {
	mu     sync.Mutex
	items  []Message
	err    error
	notify chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *messageQueue) push(message Message) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, message)
	q.mu.Unlock()
	q.wake()
}

// fail marks the queue terminal. Messages already queued remain readable;
// the error is only surfaced once the queue drains.
func (q *messageQueue) fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.wake()
}

func (q *messageQueue) pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			message := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			// Leave the wakeup token for the next waiter.
			q.wake()
			return message, nil
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			q.wake()
			return Message{}, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *messageQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// expandEnv flattens the override map into KEY=VALUE pairs with $VAR
// expansion against the parent environment, in deterministic order.
func expandEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+os.Expand(values[key], os.Getenv))
	}
	return out
}
