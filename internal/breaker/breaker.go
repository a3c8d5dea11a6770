// Package breaker implements an in-memory circuit breaker guarding
// outbound carrier calls. State lives in the process; a restart starts
// closed and relearns failures, which is acceptable because the breaker
// protects against sustained outages, not single blips.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned without invoking the call while the breaker is
// open or half-open with all probe slots taken.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Config struct {
	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before allowing probes.
	Cooldown time.Duration
	// HalfOpenProbes caps concurrent calls allowed while half-open.
	HalfOpenProbes int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
	return c
}

// Breaker guards one upstream. Create one per carrier via Registry.
type Breaker struct {
	name   string
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	// onStateChange is invoked outside the lock after each transition.
	onStateChange func(name string, from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	inFlight  int
}

func New(name string, cfg Config, logger zerolog.Logger) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// SetStateChangeHook registers a transition observer, used to keep the
// breaker state gauge current. Call before first use.
func (b *Breaker) SetStateChangeHook(hook func(name string, from, to State)) {
	b.onStateChange = hook
}

func (b *Breaker) Name() string { return b.name }

// State reports the current state, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Snapshot returns state plus counters for the status endpoint.
type Snapshot struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Failures  int       `json:"consecutiveFailures"`
	Successes int       `json:"halfOpenSuccesses"`
	OpenedAt  time.Time `json:"openedAt,omitzero"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return Snapshot{
		Name:      b.name,
		State:     b.state.String(),
		Failures:  b.failures,
		Successes: b.successes,
		OpenedAt:  b.openedAt,
	}
}

// Execute runs fn under the breaker. A context cancellation counts as a
// failure since it usually means the upstream timed out.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	b.release(err == nil)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateOpen:
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenProbes {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) release(success bool) {
	b.mu.Lock()
	b.inFlight--

	var transition func()
	switch {
	case success && b.state == StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			transition = b.transitionLocked(StateClosed)
		}
	case success:
		b.failures = 0
	case b.state == StateHalfOpen:
		// One failed probe reopens immediately.
		transition = b.transitionLocked(StateOpen)
	default:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold && b.state == StateClosed {
			transition = b.transitionLocked(StateOpen)
		}
	}
	b.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// maybeHalfOpen promotes open to half-open after the cooldown. Caller
// holds the lock; the hook fires synchronously here since transitions
// from this path happen rarely.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		from := b.state
		b.state = StateHalfOpen
		b.successes = 0
		b.logger.Info().Str("breaker", b.name).Msg("circuit breaker half-open, probing")
		if b.onStateChange != nil {
			b.onStateChange(b.name, from, StateHalfOpen)
		}
	}
}

// transitionLocked mutates state under the lock and returns the deferred
// hook invocation to run after unlock.
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		b.failures = 0
		b.successes = 0
		b.logger.Warn().Str("breaker", b.name).Dur("cooldown", b.cfg.Cooldown).Msg("circuit breaker opened")
	case StateClosed:
		b.failures = 0
		b.successes = 0
		b.logger.Info().Str("breaker", b.name).Msg("circuit breaker closed")
	}
	hook := b.onStateChange
	name := b.name
	return func() {
		if hook != nil {
			hook(name, from, to)
		}
	}
}
