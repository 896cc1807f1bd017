package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every provider in a [Chain] failed or had an
// open breaker.
var ErrExhausted = errors.New("resilience: all providers failed")

// link pairs one provider with its dedicated breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain tries a primary provider first and falls back to the remaining
// entries in registration order. Each entry has its own [Breaker], so a
// backend that keeps failing is skipped without waiting for its timeout.
type Chain[T any] struct {
	stage string
	links []link[T]
	cfg   BreakerConfig
}

// NewChain creates a [Chain] for one pipeline stage ("asr", "llm", "tts")
// with primary as the preferred backend. cfg tunes the per-entry breakers;
// cfg.Name is overwritten per entry.
func NewChain[T any](stage, primaryName string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{stage: stage, cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback provider. Fallbacks are tried in the order added.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.cfg
	cfg.Name = c.stage + "/" + name
	c.links = append(c.links, link[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Each calls fn once per entry, in order. Used to close every backend.
func (c *Chain[T]) Each(fn func(T)) {
	for i := range c.links {
		fn(c.links[i].value)
	}
}

// Run tries fn against each entry until one succeeds. Entries with an open
// breaker are skipped. When every entry fails the last error is wrapped in
// [ErrExhausted].
func (c *Chain[T]) Run(fn func(T) error) error {
	_, err := RunResult(c, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// RunResult is [Chain.Run] for calls that return a value. It is a package
// function because methods cannot introduce type parameters.
func RunResult[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.links {
		l := &c.links[i]
		var out R
		err := l.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(l.value)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, breaker open",
				"stage", c.stage, "provider", l.name)
		} else {
			slog.Warn("provider failed, trying next",
				"stage", c.stage, "provider", l.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
