// Command mcp-http-bridge exposes an MCP stdio server over HTTP.
//
// It starts the configured MCP server binary once, then forwards every
// POST /mcp request body to the server's stdin as a single line and returns
// the next line the server prints as the response.
//
// Usage:
//
//	mcp-http-bridge [--port 3000] [--host 0.0.0.0] [--mcp-binary path] [--config bridge.yaml]
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wagiedev/mcp-http-bridge/internal/bridge"
	"github.com/wagiedev/mcp-http-bridge/internal/config"
	"github.com/wagiedev/mcp-http-bridge/internal/logging"
	"github.com/wagiedev/mcp-http-bridge/internal/metrics"
	"github.com/wagiedev/mcp-http-bridge/internal/subprocess"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run starts the bridge and blocks until it stops. It returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := config.Load(args)
	if err != nil {
		if config.IsHelp(err) {
			fmt.Fprintln(stdout, err)

			return 0
		}

		fmt.Fprintf(stderr, "mcp-http-bridge: %v\n", err)

		return 2
	}

	log, err := logging.New(stderr, opts.LogLevel, opts.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "mcp-http-bridge: %v\n", err)

		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, log, opts); err != nil {
		log.Error("MCP HTTP bridge stopped with error", "error", err)

		return 1
	}

	log.Info("MCP HTTP bridge stopped")

	return 0
}

func serve(ctx context.Context, log *slog.Logger, opts *config.Options) error {
	log.Info("Starting MCP HTTP bridge", "addr", opts.Addr(), "mcp_binary", opts.MCPBinary)

	m := metrics.New()

	owner, err := bridge.NewOwner(log, &bridge.OwnerConfig{
		Process: subprocess.Config{
			Path: opts.MCPBinary,
			Args: opts.MCPArgs,
			Env:  opts.MCPEnv,
		},
		ExchangeTimeout: opts.ExchangeTimeout,
	}, m)
	if err != nil {
		log.Error("Failed to start MCP server; check --mcp-binary points at an executable MCP stdio server",
			"mcp_binary", opts.MCPBinary)

		return fmt.Errorf("start MCP server: %w", err)
	}

	defer func() {
		if err := owner.Close(); err != nil {
			log.Error("Failed to terminate MCP server", "error", err)
		}
	}()

	return bridge.NewServer(log, opts, owner, m).Run(ctx)
}
