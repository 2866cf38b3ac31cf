// Package mcpbackend is a small MCP stdio server.
//
// It speaks the same line-delimited JSON-RPC protocol on stdin/stdout as the
// backends the bridge is built for, which makes it useful for trying the
// bridge locally and for end-to-end tests.
package mcpbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// Name is reported as the server name during initialization.
	Name = "echo-backend"

	// Version is reported as the server version during initialization.
	Version = "1.0.0"
)

// New creates the backend server with its tools registered.
func New() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, nil)

	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}

	echo := newTool("echo", "Echo the given text back", simpleSchema(map[string]string{"text": "string"}))
	echo.Annotations = readOnly
	server.AddTool(echo, handleEcho)

	add := newTool("add", "Add two numbers", simpleSchema(map[string]string{"a": "float64", "b": "float64"}))
	add.Annotations = readOnly
	server.AddTool(add, handleAdd)

	upper := newTool("upper", "Upper-case each line of the given text", simpleSchema(map[string]string{"text": "string"}))
	upper.Annotations = readOnly
	server.AddTool(upper, handleUpper)

	return server
}

// Run serves the backend on the process's stdin and stdout until ctx is done
// or stdin is closed.
func Run(ctx context.Context) error {
	return New().Run(ctx, &mcp.StdioTransport{})
}

func handleEcho(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArguments(req)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	text, _ := args["text"].(string)

	return textResult(text), nil
}

func handleAdd(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArguments(req)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	a, okA := args["a"].(float64)
	b, okB := args["b"].(float64)

	if !okA || !okB {
		return errorResult("a and b must be numbers"), nil
	}

	return textResult(fmt.Sprintf("%v + %v = %v", a, b, a+b)), nil
}

// handleUpper returns multi-line text, which must travel escaped inside one
// response line.
func handleUpper(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArguments(req)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	text, _ := args["text"].(string)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.ToUpper(line)
	}

	return textResult(strings.Join(lines, "\n")), nil
}

// simpleSchema creates an object schema from a property name to Go type map.
// Every property is required.
func simpleSchema(props map[string]string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, goType := range props {
		properties[name] = goTypeToJSONSchema(goType)
		required = append(required, name)
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func goTypeToJSONSchema(goType string) *jsonschema.Schema {
	switch goType {
	case "int", "int64":
		return &jsonschema.Schema{Type: "integer"}
	case "float32", "float64":
		return &jsonschema.Schema{Type: "number"}
	case "bool":
		return &jsonschema.Schema{Type: "boolean"}
	default:
		return &jsonschema.Schema{Type: "string"}
	}
}

// newTool creates an mcp.Tool with the given parameters.
func newTool(name, description string, inputSchema *jsonschema.Schema) *mcp.Tool {
	return &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}
}

// textResult creates a CallToolResult with text content.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errorResult creates a CallToolResult indicating an error.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// parseArguments unmarshals CallToolRequest arguments into a map.
func parseArguments(req *mcp.CallToolRequest) (map[string]any, error) {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return make(map[string]any), nil
	}

	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	return args, nil
}
