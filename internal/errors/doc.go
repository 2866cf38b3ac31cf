// Package errors defines error types for the MCP HTTP bridge.
//
// This package provides structured error types that wrap the different failure
// scenarios when launching and talking to the backend process. All error types
// support error unwrapping and can be checked using errors.Is, errors.As, and
// errors.AsType.
package errors
