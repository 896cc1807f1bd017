// Package resilience provides circuit breaker and provider failover wrappers
// for the speech pipeline.
//
// The central type is [Breaker], a three-state circuit breaker
// (closed → open → half-open). [Chain] composes a primary provider with
// ordered fallbacks, giving each its own breaker so a failing backend is
// bypassed in favour of healthy ones. The [ASR], [LLM], and [TTS] wrappers
// apply a Chain to the corresponding provider interface.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// breakerState is the operating mode of a [Breaker].
type breakerState int

const (
	// stateClosed forwards all calls.
	stateClosed breakerState = iota

	// stateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	stateOpen

	// stateHalfOpen lets a limited number of probe calls through. Probes
	// succeeding closes the breaker; any probe failure re-opens it.
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after a run of consecutive failures and fails calls fast
// until its backend has had time to recover.
type Breaker struct {
	name        string
	tripAfter   int
	cooldown    time.Duration
	probeBudget int

	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	probes    int
	probeFail int
}

// defaults applied by NewBreaker when the corresponding field is zero.
const (
	defaultTripAfter   = 5
	defaultCooldown    = 30 * time.Second
	defaultProbeBudget = 2
)

// BreakerConfig tunes a [Breaker]. Zero fields take package defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output, typically
	// "<stage>/<provider>" (e.g. "llm/openai").
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker.
	TripAfter int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// ProbeBudget is how many half-open probe calls must succeed before the
	// breaker closes again.
	ProbeBudget int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = defaultTripAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = defaultProbeBudget
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
	}
}

// Do runs fn unless the breaker is open. It returns [ErrOpen] without calling
// fn when the breaker rejects the call, and fn's error otherwise.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = stateHalfOpen
		b.probes = 0
		b.probeFail = 0
		slog.Info("breaker half-open, probing backend", "breaker", b.name)
	case stateHalfOpen:
		if b.probes >= b.probeBudget {
			// Probe budget spent; wait for outcomes.
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == stateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.probeFail++
		b.state = stateOpen
		b.failures = b.tripAfter
		slog.Warn("breaker re-opened, probe failed", "breaker", b.name)
		return
	}
	b.failures++
	if b.state == stateClosed && b.failures >= b.tripAfter {
		b.state = stateOpen
		slog.Warn("breaker opened",
			"breaker", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFail >= b.probeBudget {
			b.state = stateClosed
			b.failures = 0
			slog.Info("breaker closed, backend recovered", "breaker", b.name)
		}
		return
	}
	b.failures = 0
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && time.Since(b.openedAt) < b.cooldown
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
	b.probes = 0
	b.probeFail = 0
}
