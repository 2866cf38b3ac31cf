package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	ps "github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcp-http-bridge/internal/errors"
	"github.com/wagiedev/mcp-http-bridge/internal/logging"
	"github.com/wagiedev/mcp-http-bridge/internal/metrics"
	"github.com/wagiedev/mcp-http-bridge/internal/subprocess"
)

func TestNewOwner_SpawnFailure(t *testing.T) {
	m := metrics.New()

	_, err := NewOwner(logging.Nop(), &OwnerConfig{
		Process: subprocess.Config{Path: "/nonexistent/mcp-server-wazuh"},
	}, m)

	_, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok, "expected SpawnError, got %v", err)
	require.InDelta(t, 0.0, testutil.ToFloat64(m.BackendUp), 0)
}

func TestOwner_Exchange(t *testing.T) {
	owner, m := newTestOwner(t, "echo", 0)

	response, err := owner.Exchange(context.Background(), json.RawMessage(`{"id":1}`))
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, string(response))

	require.InDelta(t, 1.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(metrics.OutcomeOK)), 0)
	require.Equal(t, uint64(1), histogramCount(t, m))
}

// TestOwner_Close tests that closing the owner kills and reaps the backend,
// and that nothing can be exchanged afterwards.
func TestOwner_Close(t *testing.T) {
	owner, m := newTestOwner(t, "echo", 0)
	pid := int32(owner.Pid())

	exists, err := ps.PidExists(pid)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, owner.Close())
	require.NoError(t, owner.Close())

	exists, err = ps.PidExists(pid)
	require.NoError(t, err)
	require.False(t, exists, "backend process %d still present after Close", pid)

	_, err = owner.Exchange(context.Background(), json.RawMessage(`{"id":1}`))
	require.ErrorIs(t, err, errors.ErrProcessTerminated)

	require.InDelta(t, 0.0, testutil.ToFloat64(m.BackendUp), 0)
	require.InDelta(t, 1.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(metrics.OutcomeTerminated)), 0)
}

// TestOwner_CloseDuringExchange tests that Close does not wait for a stuck
// exchange and that the stuck caller gets an error.
func TestOwner_CloseDuringExchange(t *testing.T) {
	owner, _ := newTestOwner(t, "slow", 0)

	errCh := make(chan error, 1)

	go func() {
		_, err := owner.Exchange(context.Background(), json.RawMessage(`{"method":"hang"}`))
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return gateHeld(owner)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, owner.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("exchange still blocked after Close")
	}
}

// TestOwner_CancelWhileQueued tests that a caller giving up in the queue
// never reaches the backend.
func TestOwner_CancelWhileQueued(t *testing.T) {
	owner, m := newTestOwner(t, "slow", 0)

	go func() {
		_, _ = owner.Exchange(context.Background(), json.RawMessage(`{"method":"hang"}`))
	}()

	require.Eventually(t, func() bool { return gateHeld(owner) }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := owner.Exchange(ctx, json.RawMessage(`{"id":2}`))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Only the hanging exchange is still in progress; the cancelled one was never counted.
	require.Equal(t, uint64(0), histogramCount(t, m))
}

func TestOwner_TimeoutReplacesBackend(t *testing.T) {
	owner, m := newTestOwner(t, "slow", 200*time.Millisecond)
	firstPid := int32(owner.Pid())

	_, err := owner.Exchange(context.Background(), json.RawMessage(`{"method":"hang","id":1}`))

	timeoutErr, ok := stderrors.AsType[*errors.TimeoutError](err)
	require.True(t, ok, "expected TimeoutError, got %v", err)
	require.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	exists, err := ps.PidExists(firstPid)
	require.NoError(t, err)
	require.False(t, exists, "unresponsive backend %d should be gone", firstPid)

	response, err := owner.Exchange(context.Background(), json.RawMessage(`{"id":2}`))
	require.NoError(t, err)
	require.Equal(t, `{"id":2}`, string(response))

	require.InDelta(t, 1.0, testutil.ToFloat64(m.BackendRestarts), 0)
}

func TestOwner_RestartGivesUp(t *testing.T) {
	m := metrics.New()

	owner, err := NewOwner(logging.Nop(), &OwnerConfig{
		Process:         childProcess("slow"),
		ExchangeTimeout: 200 * time.Millisecond,
		RestartBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	}, m)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = owner.Close()
	})

	// Replacements can no longer be spawned.
	owner.cfg.Process.Path = "/nonexistent/mcp-server-wazuh"

	_, err = owner.Exchange(context.Background(), json.RawMessage(`{"method":"hang","id":1}`))
	_, ok := stderrors.AsType[*errors.TimeoutError](err)
	require.True(t, ok, "expected TimeoutError, got %v", err)

	_, err = owner.Exchange(context.Background(), json.RawMessage(`{"id":2}`))
	require.ErrorIs(t, err, errors.ErrProcessTerminated)

	require.InDelta(t, 0.0, testutil.ToFloat64(m.BackendRestarts), 0)
	require.InDelta(t, 0.0, testutil.ToFloat64(m.BackendUp), 0)
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: metrics.OutcomeOK},
		{name: "timeout", err: &errors.TimeoutError{Err: context.DeadlineExceeded}, want: metrics.OutcomeTimeout},
		{name: "write", err: &errors.WriteError{Err: io.ErrClosedPipe}, want: metrics.OutcomeWriteError},
		{name: "read", err: &errors.ReadError{Err: io.EOF}, want: metrics.OutcomeReadError},
		{name: "decode", err: &errors.DecodeError{RawData: "x", Err: io.ErrUnexpectedEOF}, want: metrics.OutcomeDecodeError},
		{name: "terminated", err: fmt.Errorf("exchange: %w", errors.ErrProcessTerminated), want: metrics.OutcomeTerminated},
		{name: "other", err: errors.ErrEmbeddedNewline, want: metrics.OutcomeError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, outcome(tc.err))
		})
	}
}

// gateHeld reports whether an exchange currently holds the gate.
func gateHeld(o *Owner) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := o.gate.Do(ctx, func(*backend) error { return nil })

	return err != nil
}

func histogramCount(t *testing.T, m *metrics.Metrics) uint64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == "mcp_bridge_exchange_duration_seconds" {
			return family.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}

	t.Fatal("exchange duration histogram not found")

	return 0
}
