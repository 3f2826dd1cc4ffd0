// Package circuit stops calling a failing remote store for a while so that
// grid loads fail fast instead of each waiting out a full retry cycle.
package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"time"

	"github.com/volgrid/volgrid/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected until Timeout elapses
	StateOpen
	// StateHalfOpen - up to MaxRequests probes decide whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed through while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period after which the closed state forgets its counts
	Interval time.Duration `yaml:"interval"`

	// Period of the open state before probing again
	Timeout time.Duration `yaml:"timeout"`

	// ConsecutiveFailures trips the breaker when ReadyToTrip is unset.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	ReadyToTrip   func(counts Counts) bool          `yaml:"-"`
	OnStateChange func(name string, from, to State) `yaml:"-"`
	IsSuccessful  func(err error) bool              `yaml:"-"`
}

// Counts holds the numbers of requests and their outcomes since the last
// state change or interval reset.
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

var (
	// ErrOpenState is the cause of errors returned while the breaker is open
	ErrOpenState = stderr.New("circuit breaker is open")

	// ErrTooManyRequests is the cause of errors returned when the half-open
	// probe quota is used up
	ErrTooManyRequests = stderr.New("too many requests in half-open state")
)

// Breaker implements the circuit breaker pattern for one remote endpoint.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a closed breaker.
func New(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = 5
	}
	if config.ReadyToTrip == nil {
		threshold := config.ConsecutiveFailures
		config.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= threshold }
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}

	b := &Breaker{name: name, config: config, now: time.Now}
	b.expiry = b.now().Add(config.Interval)
	return b
}

// Execute runs fn unless the breaker is open. A rejected call returns a
// CONNECTION_FAILED error wrapping ErrOpenState or ErrTooManyRequests.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return errors.Newf(errors.ErrCodeConnectionFailed, "circuit %s rejected request", b.name).
			WithComponent("circuit").WithCause(err)
	}
	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(b.now())
	if state == StateOpen {
		return ErrOpenState
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return ErrTooManyRequests
	}
	b.counts.Requests++
	b.counts.LastActivity = b.now()
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.currentState(now)
	if b.config.IsSuccessful(err) {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState advances time-based transitions. Callers hold b.mu.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	prev := b.state
	if prev == state {
		return
	}
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = Counts{}
	b.setState(StateClosed, b.now())
}

func (b *Breaker) Name() string {
	return b.name
}
