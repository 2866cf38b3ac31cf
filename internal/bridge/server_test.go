package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-http-bridge/internal/config"
	"github.com/wagiedev/mcp-http-bridge/internal/logging"
	"github.com/wagiedev/mcp-http-bridge/internal/metrics"
)

func echoExchanger() *fakeExchanger {
	return &fakeExchanger{fn: func(_ context.Context, req json.RawMessage) (json.RawMessage, error) {
		return req, nil
	}}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(logging.Nop(), config.Defaults(), echoExchanger(), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	base := "http://" + ln.Addr().String()

	resp, err := http.Post(base+"/mcp", "application/json", strings.NewReader(`{"id":1}`))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, string(body))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}

	_, err = http.Get(base + "/health")
	require.Error(t, err, "listener should be closed after shutdown")
}

// TestServer_ShutdownWaitsForInFlight tests that a request already being
// served completes during graceful shutdown.
func TestServer_ShutdownWaitsForInFlight(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})

	exchanger := &fakeExchanger{fn: func(_ context.Context, req json.RawMessage) (json.RawMessage, error) {
		close(entered)
		<-release

		return req, nil
	}}

	srv := NewServer(logging.Nop(), config.Defaults(), exchanger, metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	type result struct {
		status int
		body   string
		err    error
	}

	results := make(chan result, 1)

	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+"/mcp", "application/json", strings.NewReader(`{"id":9}`))
		if err != nil {
			results <- result{err: err}

			return
		}

		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		results <- result{status: resp.StatusCode, body: string(body), err: err}
	}()

	<-entered
	cancel()

	// Give Shutdown a moment to start before the handler finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)

	r := <-results
	require.NoError(t, r.err)
	require.Equal(t, http.StatusOK, r.status)
	require.Equal(t, `{"id":9}`, r.body)

	require.NoError(t, <-done)
}

func TestServer_Run_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	opts := config.Defaults()
	opts.Host = "127.0.0.1"
	opts.Port = ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(logging.Nop(), opts, echoExchanger(), metrics.New())

	err = srv.Run(context.Background())
	require.ErrorContains(t, err, "listen on 127.0.0.1:"+strconv.Itoa(opts.Port))
}

func TestChainMiddlewareHandlers_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := ChainMiddlewareHandlers(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("outer"), mw("inner"))

	h.ServeHTTP(nil, &http.Request{})

	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestMetricsPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/mcp", metricsPath("/mcp"))
	require.Equal(t, "/health", metricsPath("/health"))
	require.Equal(t, "other", metricsPath("/admin/../etc"))
}
