package cache

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func useFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	fc := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orig := now
	now = func() time.Time { return fc.t }
	t.Cleanup(func() { now = orig })
	return fc
}

func TestTTLCache(t *testing.T) {
	fc := useFakeClock(t)
	c := NewTTL(10 * time.Minute)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}

	fc.advance(9 * time.Minute)
	if _, ok := c.Get("a"); !ok {
		t.Error("entry should still be alive before ttl")
	}

	fc.advance(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after lazy reap, want 0", c.Len())
	}
}

func TestTTLCache_SetRefreshesDeadline(t *testing.T) {
	fc := useFakeClock(t)
	c := NewTTL(10 * time.Minute)

	c.Set("a", 1)
	fc.advance(8 * time.Minute)
	c.Set("a", 2)
	fc.advance(8 * time.Minute)

	v, ok := c.Get("a")
	if !ok || v != 2 {
		t.Errorf("Get(a) = %v, %v; want 2, true after refresh", v, ok)
	}
}

func TestTTLLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	useFakeClock(t)
	c := NewTTLLRU(10*time.Minute, 3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes the least recently used.
	c.Get("a")
	c.Set("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestTTLLRUCache_Expiry(t *testing.T) {
	fc := useFakeClock(t)
	c := NewTTLLRU(10*time.Minute, 100)

	c.Set("a", 1)
	fc.advance(11 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired")
	}
}

func TestTTLLRUCache_CapacityBound(t *testing.T) {
	useFakeClock(t)
	c := NewTTLLRU(10*time.Minute, 1000)
	for i := 0; i < 1500; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if c.Len() != 1000 {
		t.Errorf("Len = %d, want capped at 1000", c.Len())
	}
	// The earliest keys must be gone.
	if _, ok := c.Get("k0"); ok {
		t.Error("k0 should have been evicted")
	}
	if _, ok := c.Get("k1499"); !ok {
		t.Error("k1499 should still be cached")
	}
}

func TestFixedSizeCache(t *testing.T) {
	c := NewFixedSize(2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts a (FIFO)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted first-in-first-out")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = %v, %v; want 2, true", v, ok)
	}

	c.Delete("b")
	if c.Len() != 1 {
		t.Errorf("Len = %d after delete, want 1", c.Len())
	}

	// Updating an existing key must not evict.
	c.Set("c", 30)
	if v, _ := c.Get("c"); v != 30 {
		t.Errorf("Get(c) = %v, want 30", v)
	}
}
