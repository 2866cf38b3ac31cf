package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*SpawnError)(nil)
	_ BridgeError = (*PipeError)(nil)
	_ BridgeError = (*WriteError)(nil)
	_ BridgeError = (*ReadError)(nil)
	_ BridgeError = (*DecodeError)(nil)
	_ BridgeError = (*TimeoutError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrProcessTerminated indicates the backend process has been terminated
	// and can no longer take part in exchanges.
	ErrProcessTerminated = errors.New("backend process terminated")

	// ErrEmbeddedNewline indicates a request could not be framed as a single line.
	ErrEmbeddedNewline = errors.New("request contains a raw newline")

	// ErrEmptyResponse indicates the backend closed its output after sending only blank lines.
	ErrEmptyResponse = errors.New("backend produced no response line")
)

// SpawnError indicates the backend executable could not be launched.
type SpawnError struct {
	Path          string
	SearchedPaths []string
	Err           error
}

func (e *SpawnError) Error() string {
	if len(e.SearchedPaths) > 0 {
		return fmt.Sprintf("failed to spawn backend %q (searched: %s): %v",
			e.Path, strings.Join(e.SearchedPaths, ", "), e.Err)
	}

	return fmt.Sprintf("failed to spawn backend %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *SpawnError) IsBridgeError() bool { return true }

// PipeError indicates the backend's stdin or stdout could not be captured.
type PipeError struct {
	Stream string
	Err    error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("failed to open %s pipe: %v", e.Stream, e.Err)
}

func (e *PipeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *PipeError) IsBridgeError() bool { return true }

// WriteError indicates a request could not be written to the backend's stdin.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to backend stdin: %v", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *WriteError) IsBridgeError() bool { return true }

// ReadError indicates no complete response line could be read from the backend's stdout.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read from backend stdout: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ReadError) IsBridgeError() bool { return true }

// DecodeError indicates the backend produced a line that is not valid JSON.
// This error preserves the original raw data that failed to parse.
type DecodeError struct {
	RawData string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON from backend: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *DecodeError) IsBridgeError() bool { return true }

// TimeoutError indicates the backend did not answer before the exchange deadline.
// The process that timed out has been terminated when this error is returned.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("backend did not respond within %s: %v", e.Timeout, e.Err)
	}

	return fmt.Sprintf("backend did not respond: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *TimeoutError) IsBridgeError() bool { return true }
