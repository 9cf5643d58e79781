package driver

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ReconnectConfig tunes a Supervised driver's background reconnect loop and
// the circuit breaker guarding it.
type ReconnectConfig struct {
	ReconnectInterval  time.Duration
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	// BreakerFailureThreshold trips the breaker once this many consecutive
	// failures accumulate within BreakerInterval.
	BreakerFailureThreshold uint32
}

// DefaultReconnectConfig retries once a second and gives up retry-storming
// after a handful of consecutive failures.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		ReconnectInterval:       time.Second,
		BreakerMaxRequests:      1,
		BreakerInterval:         30 * time.Second,
		BreakerTimeout:          10 * time.Second,
		BreakerFailureThreshold: 5,
	}
}

func newBreaker(name string, cfg ReconnectConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})
}

// Supervised wraps a Driver so reconnect attempts go through a circuit
// breaker and a background loop retries Connect while disconnected. Callers
// read IsConnected/Snapshot straight through to the wrapped driver: a
// tripped breaker only stops new Connect attempts, it never fabricates
// readings, so SignalStore's watchdog is still the one thing that decides a
// stale signal has gone bad.
type Supervised struct {
	inner Driver
	cb    *gobreaker.CircuitBreaker
	cfg   ReconnectConfig
	log   *zap.Logger

	mu           sync.Mutex
	lastConnErr  error
	reconnecting bool
}

// Supervise wraps inner with reconnect supervision. cfg's zero value falls
// back to DefaultReconnectConfig.
func Supervise(inner Driver, cfg ReconnectConfig, logger *zap.Logger) *Supervised {
	if cfg.ReconnectInterval <= 0 {
		cfg = DefaultReconnectConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervised{
		inner: inner,
		cb:    newBreaker("driver_connect", cfg),
		cfg:   cfg,
		log:   logger,
	}
}

func (s *Supervised) Connect(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Connect(ctx)
	})
	s.mu.Lock()
	s.lastConnErr = err
	s.mu.Unlock()
	return err
}

func (s *Supervised) Disconnect() error { return s.inner.Disconnect() }

func (s *Supervised) IsConnected() bool { return s.inner.IsConnected() }

func (s *Supervised) Snapshot() (map[string]any, error) { return s.inner.Snapshot() }

// LastConnectError returns the error from the most recent Connect attempt,
// or nil if the last attempt succeeded (or none has been made yet).
func (s *Supervised) LastConnectError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConnErr
}

// RunReconnectLoop polls IsConnected and attempts Connect through the
// breaker at cfg.ReconnectInterval until ctx is cancelled. It never returns
// an error: a reconnect failure is logged and retried, not propagated,
// since the caller (pkg/supervisor) treats driver connectivity as
// best-effort background maintenance, not a task that can fail the
// process.
func (s *Supervised) RunReconnectLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.inner.IsConnected() {
				continue
			}
			if err := s.Connect(ctx); err != nil {
				s.log.Warn("driver_reconnect_failed",
					zap.Error(err),
					zap.String("breaker_state", s.cb.State().String()),
				)
			}
		}
	}
}

// SupervisedCommand additionally guards SendCommand with its own breaker,
// separate from the connect breaker, so a run of rejected/failed commands
// cannot also suppress reconnect attempts and vice versa.
type SupervisedCommand struct {
	*Supervised
	inner CommandDriver
	cmdCB *gobreaker.CircuitBreaker
}

// SuperviseCommand wraps a CommandDriver with both connect and command
// supervision.
func SuperviseCommand(inner CommandDriver, cfg ReconnectConfig, logger *zap.Logger) *SupervisedCommand {
	if cfg.ReconnectInterval <= 0 {
		cfg = DefaultReconnectConfig()
	}
	return &SupervisedCommand{
		Supervised: Supervise(inner, cfg, logger),
		inner:      inner,
		cmdCB:      newBreaker("driver_command", cfg),
	}
}

func (s *SupervisedCommand) SendCommand(ctx context.Context, name CommandName) error {
	_, err := s.cmdCB.Execute(func() (interface{}, error) {
		return nil, s.inner.SendCommand(ctx, name)
	})
	return err
}
