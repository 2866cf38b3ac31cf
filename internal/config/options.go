package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/wagiedev/mcp-http-bridge/internal/logging"
)

const (
	// DefaultHost is the address the bridge binds to.
	DefaultHost = "0.0.0.0"

	// DefaultPort is the port the bridge listens on.
	DefaultPort = 3000

	// DefaultMCPBinary is the conventional local build output of the backend.
	DefaultMCPBinary = "./target/release/mcp-server-wazuh"

	// DefaultMaxRequestBytes bounds the size of a POST /mcp body.
	DefaultMaxRequestBytes = 4 << 20

	// DefaultRateBurst is the token bucket size used when rate limiting is on.
	DefaultRateBurst = 10

	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Options configures the bridge.
type Options struct {
	// Host is the address to bind to.
	Host string `long:"host" env:"MCP_BRIDGE_HOST" description:"Host address to bind to (default: 0.0.0.0)" yaml:"host"`

	// Port is the TCP port to listen on. Zero picks a free port.
	Port int `short:"p" long:"port" env:"MCP_BRIDGE_PORT" description:"Port to listen on (default: 3000)" yaml:"port"`

	// MCPBinary is the backend executable.
	MCPBinary string `long:"mcp-binary" env:"MCP_BRIDGE_BINARY" description:"Path to the MCP server binary (default: ./target/release/mcp-server-wazuh)" yaml:"mcp_binary"`

	// MCPArgs are passed to the backend.
	MCPArgs []string `long:"mcp-arg" description:"Argument passed to the MCP server, repeatable; use --mcp-arg=VALUE for values starting with -" yaml:"mcp_args"`

	// MCPEnv entries (KEY=VALUE) are added to the backend environment.
	MCPEnv []string `long:"mcp-env" description:"KEY=VALUE added to the MCP server environment (repeatable)" yaml:"mcp_env"`

	// ExchangeTimeout bounds one backend exchange. Zero waits indefinitely.
	ExchangeTimeout time.Duration `long:"exchange-timeout" env:"MCP_BRIDGE_EXCHANGE_TIMEOUT" description:"Maximum wait for a backend response; the backend is restarted on expiry (default: 0, wait forever)" yaml:"exchange_timeout"`

	// MaxRequestBytes bounds the size of a request body.
	MaxRequestBytes int64 `long:"max-request-bytes" env:"MCP_BRIDGE_MAX_REQUEST_BYTES" description:"Maximum request body size in bytes (default: 4194304)" yaml:"max_request_bytes"`

	// RateLimit is the sustained number of /mcp requests per second. Zero disables limiting.
	RateLimit float64 `long:"rate-limit" env:"MCP_BRIDGE_RATE_LIMIT" description:"Requests per second accepted on /mcp, 0 disables (default: 0)" yaml:"rate_limit"`

	// RateBurst is the token bucket size when RateLimit is set.
	RateBurst int `long:"rate-burst" env:"MCP_BRIDGE_RATE_BURST" description:"Burst size for --rate-limit (default: 10)" yaml:"rate_burst"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"MCP_BRIDGE_SHUTDOWN_TIMEOUT" description:"Grace period for in-flight requests on shutdown (default: 10s)" yaml:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `long:"log-level" env:"MCP_BRIDGE_LOG_LEVEL" description:"Log level: debug, info, warn, error (default: info)" yaml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `long:"log-format" env:"MCP_BRIDGE_LOG_FORMAT" description:"Log format: text or json (default: text)" yaml:"log_format"`

	// ConfigFile is an optional YAML file loaded before env and flags.
	ConfigFile string `short:"c" long:"config" env:"MCP_BRIDGE_CONFIG" description:"YAML configuration file" yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Options {
	return &Options{
		Host:            DefaultHost,
		Port:            DefaultPort,
		MCPBinary:       DefaultMCPBinary,
		MaxRequestBytes: DefaultMaxRequestBytes,
		RateBurst:       DefaultRateBurst,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       logging.FormatText,
	}
}

// configFileOption is parsed first, so the file can be applied underneath env and flags.
type configFileOption struct {
	ConfigFile string `short:"c" long:"config" env:"MCP_BRIDGE_CONFIG"`
}

// Load builds Options from defaults, the optional config file, the
// environment and args (without the program name).
//
// A request for help is returned as a *flags.Error of type flags.ErrHelp whose
// message is the usage text.
func Load(args []string) (*Options, error) {
	var pre configFileOption
	if _, err := flags.NewParser(&pre, flags.IgnoreUnknown).ParseArgs(args); err != nil {
		return nil, err
	}

	opts := Defaults()

	if pre.ConfigFile != "" {
		if err := opts.LoadFile(pre.ConfigFile); err != nil {
			return nil, err
		}
	}

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "mcp-http-bridge"
	parser.ShortDescription = "HTTP wrapper for an MCP stdio server"

	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", rest)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// LoadFile overlays the YAML file at path onto o. Unknown keys are rejected.
func (o *Options) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(o); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	return nil
}

// Validate reports every invalid setting at once.
func (o *Options) Validate() error {
	var errs []error

	if o.Port < 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", o.Port))
	}

	if o.MCPBinary == "" {
		errs = append(errs, errors.New("mcp-binary must not be empty"))
	}

	if o.ExchangeTimeout < 0 {
		errs = append(errs, errors.New("exchange-timeout must not be negative"))
	}

	if o.MaxRequestBytes <= 0 {
		errs = append(errs, errors.New("max-request-bytes must be positive"))
	}

	if o.RateLimit < 0 {
		errs = append(errs, errors.New("rate-limit must not be negative"))
	}

	if o.RateLimit > 0 && o.RateBurst < 1 {
		errs = append(errs, errors.New("rate-burst must be at least 1 when rate-limit is set"))
	}

	if o.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("shutdown-timeout must not be negative"))
	}

	if _, err := logging.ParseLevel(o.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch o.LogFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", o.LogFormat))
	}

	return errors.Join(errs...)
}

// Addr returns the host:port listen address.
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// IsHelp reports whether err is the usage text produced for --help.
func IsHelp(err error) bool {
	flagsErr, ok := errors.AsType[*flags.Error](err)

	return ok && flagsErr.Type == flags.ErrHelp
}
