package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/wagiedev/mcp-http-bridge/internal/errors"
)

const (
	// stdoutBufferSize is the initial read buffer for backend output lines.
	// Lines longer than this are still read in full.
	stdoutBufferSize = 64 * 1024
)

var errInvalidUTF8 = stderrors.New("response is not valid UTF-8")

// Config describes how to launch the backend process.
type Config struct {
	// Path is the backend executable. Paths without a separator are looked up on PATH.
	Path string

	// Args are passed to the backend after the executable name.
	Args []string

	// Env is appended to the bridge's own environment.
	Env []string

	// Dir is the backend's working directory. Empty means the bridge's.
	Dir string

	// Stderr receives the backend's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer
}

// Process is a running backend process and the bridge's ends of its stdio pipes.
type Process struct {
	log    *slog.Logger
	path   string
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	reader *bufio.Reader

	exited  chan struct{} // closed once the process has been reaped
	waitErr error         // valid after exited is closed

	terminated    atomic.Bool
	terminateOnce sync.Once
	terminateErr  error
}

// Start launches the backend described by cfg.
//
// Returns SpawnError if the executable cannot be found or launched,
// or PipeError if the stdio pipes cannot be created.
func Start(log *slog.Logger, cfg *Config) (*Process, error) {
	log = log.With("component", "subprocess")

	path, err := Discover(log, cfg.Path)
	if err != nil {
		return nil, err
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		log.Error("Failed to create stdin pipe", "error", err)

		return nil, &errors.PipeError{Stream: "stdin", Err: err}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		log.Error("Failed to create stdout pipe", "error", err)

		_ = stdinR.Close()
		_ = stdinW.Close()

		return nil, &errors.PipeError{Stream: "stdout", Err: err}
	}

	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	//nolint:gosec // G204: the backend path is operator configuration
	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	configureSysProcAttr(cmd)

	log.Info("Starting backend process", "path", path, "args", cfg.Args)

	startErr := startCmd(cmd)

	// The child holds its own copies; keeping ours open would hide EOF from both sides.
	_ = stdinR.Close()
	_ = stdoutW.Close()

	if startErr != nil {
		log.Error("Failed to start backend process", "path", path, "error", startErr)

		_ = stdinW.Close()
		_ = stdoutR.Close()

		return nil, &errors.SpawnError{Path: path, Err: startErr}
	}

	p := &Process{
		log:    log.With("pid", cmd.Process.Pid),
		path:   path,
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		reader: bufio.NewReaderSize(stdoutR, stdoutBufferSize),
		exited: make(chan struct{}),
	}

	go p.reap()

	p.log.Info("Backend process started")

	return p, nil
}

// reap waits for the process so it never lingers as a zombie, whoever ends it.
func (p *Process) reap() {
	p.waitErr = p.cmd.Wait()

	if p.terminated.Load() {
		p.log.Debug("Backend process reaped after termination", "status", p.cmd.ProcessState.String())
	} else {
		p.log.Warn("Backend process exited unexpectedly", "status", p.cmd.ProcessState.String())
	}

	close(p.exited)
}

// Pid returns the operating system process id of the backend.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Path returns the resolved backend executable path.
func (p *Process) Path() string {
	return p.path
}

// Exited returns a channel that is closed once the backend has exited and been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the result of waiting for the backend, or nil while it runs.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// Running reports whether the backend has neither been terminated nor exited.
func (p *Process) Running() bool {
	if p.terminated.Load() {
		return false
	}

	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Exchange sends one request line to the backend and returns the next line it prints.
//
// The request is compacted to a single line before it is written. Blank output
// lines are skipped. If ctx is done before the backend answers, the framing of
// the pipes can no longer be trusted: the backend is terminated and a
// TimeoutError is returned. A context without a Done channel waits indefinitely.
//
// Exchange must not be called concurrently.
func (p *Process) Exchange(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	if p.terminated.Load() {
		return nil, errors.ErrProcessTerminated
	}

	line, err := frame(request)
	if err != nil {
		return nil, err
	}

	if ctx.Done() == nil {
		return p.roundTrip(line)
	}

	// Nothing has been written yet, so giving up here leaves the framing intact.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		response json.RawMessage
		err      error
	}

	done := make(chan result, 1)

	go func() {
		response, err := p.roundTrip(line)
		done <- result{response: response, err: err}
	}()

	select {
	case r := <-done:
		return r.response, r.err
	case <-ctx.Done():
	}

	select {
	case r := <-done:
		return r.response, r.err
	default:
	}

	p.log.Warn("Backend did not answer in time, terminating it", "error", ctx.Err())

	if err := p.Terminate(); err != nil {
		p.log.Error("Failed to terminate unresponsive backend", "error", err)
	}

	// Killing the process closes its pipe ends, which unblocks the round trip.
	<-done

	return nil, &errors.TimeoutError{Err: context.Cause(ctx)}
}

// roundTrip performs the single write and the single read of one exchange.
func (p *Process) roundTrip(line []byte) (json.RawMessage, error) {
	p.log.Debug("Sending request to backend", "bytes", len(line))

	// One write call; the pipe is unbuffered on our side, so this is also the flush.
	if _, err := p.stdin.Write(line); err != nil {
		p.log.Error("Failed to write request to backend", "error", err)

		return nil, &errors.WriteError{Err: err}
	}

	response, err := readResponse(p.reader)
	if err != nil {
		p.log.Error("Failed to read response from backend", "error", err)

		return nil, err
	}

	p.log.Debug("Received response from backend", "bytes", len(response))

	return response, nil
}

// readResponse reads the next non-blank line and checks that it is JSON.
func readResponse(r *bufio.Reader) (json.RawMessage, error) {
	for {
		raw, err := r.ReadBytes('\n')
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(raw)) > 0 {
					err = io.ErrUnexpectedEOF
				} else {
					err = fmt.Errorf("%w: %w", errors.ErrEmptyResponse, io.EOF)
				}
			}

			return nil, &errors.ReadError{Err: err}
		}

		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}

		if !utf8.Valid(trimmed) {
			return nil, &errors.DecodeError{RawData: string(trimmed), Err: errInvalidUTF8}
		}

		var response json.RawMessage
		if err := json.Unmarshal(trimmed, &response); err != nil {
			return nil, &errors.DecodeError{RawData: string(trimmed), Err: err}
		}

		return response, nil
	}
}

// frame turns a JSON document into exactly one newline-terminated line.
func frame(request json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer

	buf.Grow(len(request) + 1)

	if err := json.Compact(&buf, request); err != nil {
		return nil, fmt.Errorf("compact request: %w", err)
	}

	if bytes.IndexByte(buf.Bytes(), '\n') >= 0 {
		return nil, errors.ErrEmbeddedNewline
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// Terminate kills the backend with SIGKILL and waits until it has been reaped.
//
// It's safe to call Terminate multiple times or after the backend has exited
// on its own; only the first call does any work.
func (p *Process) Terminate() error {
	p.terminateOnce.Do(func() {
		p.terminated.Store(true)

		p.log.Info("Terminating backend process")

		err := p.cmd.Process.Kill()
		if err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			p.terminateErr = fmt.Errorf("kill backend process (pid %d): %w", p.Pid(), err)
		} else {
			<-p.exited
		}

		_ = p.stdin.Close()
		_ = p.stdout.Close()
	})

	return p.terminateErr
}
