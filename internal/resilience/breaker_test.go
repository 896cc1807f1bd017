package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func healthy() error { return nil }

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: got %v, want backend error", i, err)
		}
	}
	if !b.Open() {
		t.Fatal("breaker should be open after 3 consecutive failures")
	}
	if err := b.Do(healthy); !errors.Is(err, ErrOpen) {
		t.Fatalf("open breaker returned %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{TripAfter: 2, Cooldown: time.Hour})

	b.Do(failing)
	b.Do(healthy)
	b.Do(failing)
	if b.Open() {
		t.Fatal("breaker opened without consecutive failures")
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{TripAfter: 1, Cooldown: 5 * time.Millisecond, ProbeBudget: 2})

	b.Do(failing)
	if !b.Open() {
		t.Fatal("breaker should be open")
	}
	time.Sleep(10 * time.Millisecond)

	// Cooldown elapsed: probes are admitted again.
	for i := 0; i < 2; i++ {
		if err := b.Do(healthy); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.Open() {
		t.Fatal("breaker should be closed after successful probes")
	}
	if err := b.Do(healthy); err != nil {
		t.Fatalf("closed breaker rejected call: %v", err)
	}
}

func TestBreaker_ReopensOnFailedProbe(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{TripAfter: 1, Cooldown: 5 * time.Millisecond, ProbeBudget: 2})

	b.Do(failing)
	time.Sleep(10 * time.Millisecond)
	if err := b.Do(failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe returned %v, want backend error", err)
	}
	if !b.Open() {
		t.Fatal("breaker should re-open after a failed probe")
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{TripAfter: 1, Cooldown: time.Hour})

	b.Do(failing)
	b.Reset()
	if b.Open() {
		t.Fatal("breaker should be closed after Reset")
	}
	if err := b.Do(healthy); err != nil {
		t.Fatalf("call after Reset: %v", err)
	}
}

func TestChain_FallsBackInOrder(t *testing.T) {
	t.Parallel()
	c := NewChain("llm", "primary", "a", BreakerConfig{TripAfter: 1, Cooldown: time.Hour})
	c.Add("secondary", "b")

	got, err := RunResult(c, func(v string) (string, error) {
		if v == "a" {
			return "", errBackend
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("RunResult: %v", err)
	}
	if got != "from-b" {
		t.Fatalf("got %q, want result from fallback", got)
	}
}

func TestChain_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	c := NewChain("tts", "primary", "a", BreakerConfig{TripAfter: 1, Cooldown: time.Hour})
	c.Add("secondary", "b")

	// Trip the primary's breaker.
	c.Run(func(v string) error {
		if v == "a" {
			return errBackend
		}
		return nil
	})

	var tried []string
	err := c.Run(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tried) != 1 || tried[0] != "b" {
		t.Fatalf("tried %v, want only the fallback", tried)
	}
}

func TestChain_AllFailed(t *testing.T) {
	t.Parallel()
	c := NewChain("asr", "only", "a", BreakerConfig{TripAfter: 5, Cooldown: time.Hour})

	err := c.Run(func(string) error { return errBackend })
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
}
