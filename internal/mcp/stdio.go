package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// StdioConfig describes the MCP server subprocess.
type StdioConfig struct {
	// Command is the executable to run.
	Command string
	Args    []string
	// Env entries ("KEY=VALUE") are appended to the current environment.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir    string
	Logger *slog.Logger
}

// StdioTransport talks to an MCP server subprocess with
// newline-delimited JSON-RPC. The process starts on first use and is
// restarted after any I/O failure.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	// sem serialises exchanges; a buffered channel lets waiters give up
	// when their context ends.
	sem chan struct{}

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames *frameReader
}

// NewStdioTransport creates a transport for cfg.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger.With("component", "mcp_stdio"),
		sem:    make(chan struct{}, 1),
	}
}

func (t *StdioTransport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *StdioTransport) release() {
	<-t.sem
}

// start launches the subprocess unless one is running. The process is
// not tied to any request context. Caller must hold sem.
func (t *StdioTransport) start() error {
	if t.cmd != nil && t.cmd.ProcessState == nil {
		return nil
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	cmd.Dir = t.config.Dir

	var pipes []io.Closer
	closePipes := func() {
		for _, p := range pipes {
			p.Close()
		}
	}
	stdin, err := cmd.StdinPipe()
	if err == nil {
		pipes = append(pipes, stdin)
	}
	var stdout, stderr io.ReadCloser
	if err == nil {
		if stdout, err = cmd.StdoutPipe(); err == nil {
			pipes = append(pipes, stdout)
		}
	}
	if err == nil {
		if stderr, err = cmd.StderrPipe(); err == nil {
			pipes = append(pipes, stderr)
		}
	}
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		closePipes()
		return fmt.Errorf("launch MCP server %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.frames = &frameReader{r: bufio.NewReaderSize(stdout, 1<<20), mode: wireLine}
	go t.drainStderr(stderr)

	t.logger.Info("MCP server process started", "command", t.config.Command, "args", t.config.Args, "pid", cmd.Process.Pid)
	return nil
}

// drainStderr relays the child's log lines at debug level. The child
// is another linebot process, so its lines are already structured.
func (t *StdioTransport) drainStderr(r io.Reader) {
	lines := bufio.NewScanner(r)
	lines.Buffer(nil, 256<<10)
	for lines.Scan() {
		t.logger.Debug("mcp child", "line", lines.Text())
	}
}

type frameResult struct {
	body []byte
	err  error
}

// Send writes req and waits for the response with the same ID, skipping
// notifications and unrelated messages.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.release()

	if err := t.writeLocked(req); err != nil {
		return nil, err
	}

	for {
		ch := make(chan frameResult, 1)
		go func(fr *frameReader) {
			body, err := fr.next()
			ch <- frameResult{body, err}
		}(t.frames)

		select {
		case <-ctx.Done():
			// Killing the process unblocks the pending read.
			t.cleanup()
			return nil, ctx.Err()
		case res := <-ch:
			if res.err != nil {
				t.cleanup()
				return nil, fmt.Errorf("read from subprocess stdout: %w", res.err)
			}
			var resp Response
			if err := json.Unmarshal(res.body, &resp); err != nil {
				t.logger.Debug("skipping non-JSON line", "line", string(res.body))
				continue
			}
			if resp.ID == req.ID {
				return &resp, nil
			}
			t.logger.Debug("skipping unmatched message", "id", resp.ID)
		}
	}
}

// Notify writes a notification.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()
	return t.writeLocked(notif)
}

func (t *StdioTransport) writeLocked(msg any) error {
	if err := t.start(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := writeFrame(t.stdin, wireLine, data); err != nil {
		t.cleanup()
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

// Close ends the subprocess: stdin is closed so the server's read loop
// sees EOF, and the process is killed if it has not exited in five
// seconds.
func (t *StdioTransport) Close() error {
	t.sem <- struct{}{}
	defer t.release()
	return t.stop(5 * time.Second)
}

// cleanup kills the process after an I/O failure so the next exchange
// starts a fresh one. Caller must hold sem.
func (t *StdioTransport) cleanup() {
	_ = t.stop(0)
}

// stop closes stdin and waits up to grace for the process to exit
// before killing it. Caller must hold sem.
func (t *StdioTransport) stop(grace time.Duration) error {
	cmd := t.cmd
	if t.stdin != nil {
		t.stdin.Close()
	}
	t.cmd, t.stdin, t.frames = nil, nil, nil
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	if grace > 0 {
		select {
		case err := <-exited:
			return err
		case <-time.After(grace):
			t.logger.Warn("MCP server process did not exit; killing", "pid", cmd.Process.Pid)
		}
	}
	_ = cmd.Process.Kill()
	<-exited
	return nil
}
