// v1
// internal/breaker/breaker.go

// Package breaker is a three-state circuit breaker guarding the external
// publishers. A dead broker must fast-fail instead of stalling the control
// loop behind connect timeouts.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the operation while the breaker is
// open and the reset timeout has not elapsed.
var ErrOpen = errors.New("breaker: open, fast-fail")

// Config tunes one breaker.
type Config struct {
	// MaxFailures consecutive failures trip the breaker open.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before the next call
	// is allowed through as a half-open probe.
	ResetTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// Breaker guards one downstream dependency. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config
	log  *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

func New(name string, cfg Config, log *slog.Logger) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		name: name,
		cfg:  cfg,
		log:  log.With(slog.String("component", "breaker"), slog.String("breaker", name)),
		now:  time.Now,
	}
}

// Execute runs op under the breaker policy. While open and inside the reset
// timeout it returns ErrOpen without calling op; after the timeout one call
// is let through half-open, closing the breaker on success and re-opening it
// on failure.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.log.Info("breaker half-open, probing")
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != Closed {
			b.log.Info("breaker closed", "from", b.state.String())
		}
		b.state = Closed
		b.recentFails = 0
		return nil
	}

	b.recentFails++
	if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
		b.state = Open
		b.openedAt = b.now()
		b.log.Warn("breaker opened", "failures", b.recentFails, "err", err)
	} else {
		b.log.Warn("operation failed under breaker", "failures", b.recentFails, "err", err)
	}
	return err
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
