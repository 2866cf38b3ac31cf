// Command mcp-echo-backend is a minimal MCP stdio server with echo, add and
// upper tools, handy for trying out mcp-http-bridge locally:
//
//	mcp-http-bridge --mcp-binary ./mcp-echo-backend
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wagiedev/mcp-http-bridge/internal/mcpbackend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mcpbackend.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-echo-backend: %v\n", err)
		stop()
		os.Exit(1)
	}
}
