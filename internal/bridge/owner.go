package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wagiedev/mcp-http-bridge/internal/errors"
	"github.com/wagiedev/mcp-http-bridge/internal/gate"
	"github.com/wagiedev/mcp-http-bridge/internal/metrics"
	"github.com/wagiedev/mcp-http-bridge/internal/subprocess"
)

const (
	// restartAttempts bounds how often a replacement backend is retried after a timeout.
	restartAttempts = 3
)

// Exchanger performs one request/response exchange with the backend.
type Exchanger interface {
	Exchange(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

// Compile-time verification that Owner implements Exchanger.
var _ Exchanger = (*Owner)(nil)

// backend holds the current backend process.
//
// The process is only replaced while the gate is held; mu additionally
// protects it against Close and status reads, which never take the gate.
type backend struct {
	mu     sync.Mutex
	proc   *subprocess.Process
	closed bool
}

func (b *backend) current() *subprocess.Process {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.proc
}

// replace installs proc unless the owner was closed in the meantime.
func (b *backend) replace(proc *subprocess.Process) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	b.proc = proc

	return true
}

// OwnerConfig configures an Owner.
type OwnerConfig struct {
	// Process describes how to launch the backend.
	Process subprocess.Config

	// ExchangeTimeout bounds each exchange. Zero waits indefinitely.
	ExchangeTimeout time.Duration

	// RestartBackOff returns the retry policy for replacing a backend after a
	// timeout. Defaults to a short exponential backoff.
	RestartBackOff func() backoff.BackOff
}

// Owner owns the single backend process for the lifetime of the bridge.
//
// All exchanges go through a gate, so the backend sees at most one request at
// a time and responses are never paired with the wrong caller.
type Owner struct {
	log     *slog.Logger
	cfg     OwnerConfig
	metrics *metrics.Metrics
	backend *backend
	gate    *gate.Gate[*backend]

	closeOnce sync.Once
	closeErr  error
}

// NewOwner starts the backend and returns its owner.
//
// The caller must call Close on every exit path once NewOwner has succeeded.
func NewOwner(log *slog.Logger, cfg *OwnerConfig, m *metrics.Metrics) (*Owner, error) {
	log = log.With("component", "owner")

	proc, err := subprocess.Start(log, &cfg.Process)
	if err != nil {
		m.RecordBackendStatus(false)

		return nil, err
	}

	b := &backend{proc: proc}

	o := &Owner{
		log:     log,
		cfg:     *cfg,
		metrics: m,
		backend: b,
		gate:    gate.New(b),
	}

	if o.cfg.RestartBackOff == nil {
		o.cfg.RestartBackOff = defaultRestartBackOff
	}

	m.RecordBackendStatus(true)
	m.RegisterGateWaiters(o.gate.Waiting)

	return o, nil
}

func defaultRestartBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(100*time.Millisecond),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0.1),
			backoff.WithMaxInterval(2*time.Second),
		),
		restartAttempts,
	)
}

// Exchange sends request to the backend and returns its response.
//
// Callers queue for exclusive access to the backend. If ctx ends while the
// caller is still queued, ctx's error is returned and nothing is sent. Once
// the request is on the wire, only the configured exchange timeout can
// interrupt it; on expiry the backend is replaced and a TimeoutError returned.
func (o *Owner) Exchange(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	var response json.RawMessage

	err := o.gate.Do(ctx, func(b *backend) error {
		proc := b.current()
		start := time.Now()

		exchangeCtx := context.WithoutCancel(ctx)
		if o.cfg.ExchangeTimeout > 0 {
			var cancel context.CancelFunc

			exchangeCtx, cancel = context.WithTimeout(exchangeCtx, o.cfg.ExchangeTimeout)
			defer cancel()
		}

		resp, err := proc.Exchange(exchangeCtx, request)
		o.metrics.RecordExchange(outcome(err), time.Since(start))

		if err != nil {
			if timeoutErr, ok := stderrors.AsType[*errors.TimeoutError](err); ok {
				timeoutErr.Timeout = o.cfg.ExchangeTimeout
				o.restart(b)
			} else if !proc.Running() {
				o.metrics.RecordBackendStatus(false)
			}

			return err
		}

		response = resp

		return nil
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

// restart replaces the backend after it was terminated for not answering.
// Must be called with the gate held.
func (o *Owner) restart(b *backend) {
	o.metrics.RecordBackendStatus(false)

	o.log.Warn("Replacing unresponsive backend")

	attempt := 0

	proc, err := backoff.RetryNotifyWithData(
		func() (*subprocess.Process, error) {
			attempt++

			return subprocess.Start(o.log, &o.cfg.Process)
		},
		o.cfg.RestartBackOff(),
		func(err error, wait time.Duration) {
			o.log.Warn("Failed to start replacement backend, retrying", "attempt", attempt, "retry_in", wait, "error", err)
		},
	)
	if err != nil {
		o.log.Error("Giving up on replacing backend; further exchanges will fail", "attempts", attempt, "error", err)

		return
	}

	if !b.replace(proc) {
		o.log.Debug("Owner closed during restart, discarding replacement backend")

		_ = proc.Terminate()

		return
	}

	o.metrics.RecordBackendRestart()
	o.metrics.RecordBackendStatus(true)

	o.log.Info("Replacement backend started", "pid", proc.Pid())
}

// Pid returns the process id of the current backend.
func (o *Owner) Pid() int {
	return o.backend.current().Pid()
}

// Running reports whether the current backend is alive.
func (o *Owner) Running() bool {
	return o.backend.current().Running()
}

// Close terminates the backend. It does not wait for the gate, so an
// exchange in progress fails instead of delaying shutdown.
//
// It's safe to call Close multiple times; only the first call does any work.
func (o *Owner) Close() error {
	o.closeOnce.Do(func() {
		o.backend.mu.Lock()
		o.backend.closed = true
		proc := o.backend.proc
		o.backend.mu.Unlock()

		o.log.Info("Shutting down backend", "pid", proc.Pid())

		o.closeErr = proc.Terminate()
		o.metrics.RecordBackendStatus(false)
	})

	return o.closeErr
}

// outcome classifies an exchange result for metrics.
func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}

	if _, ok := stderrors.AsType[*errors.TimeoutError](err); ok {
		return metrics.OutcomeTimeout
	}

	if _, ok := stderrors.AsType[*errors.WriteError](err); ok {
		return metrics.OutcomeWriteError
	}

	if _, ok := stderrors.AsType[*errors.ReadError](err); ok {
		return metrics.OutcomeReadError
	}

	if _, ok := stderrors.AsType[*errors.DecodeError](err); ok {
		return metrics.OutcomeDecodeError
	}

	if stderrors.Is(err, errors.ErrProcessTerminated) {
		return metrics.OutcomeTerminated
	}

	return metrics.OutcomeError
}
