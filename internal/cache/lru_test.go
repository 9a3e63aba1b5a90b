package cache

import (
	"testing"
	"time"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("Get(a) missing")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Errorf("Get(b) should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v, want 1, true", v, ok)
	}
	if got := c.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestLRUCacheTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("Get(k) missing before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Errorf("Get(k) should have expired")
	}
	if got := c.CleanExpired(); got != 1 {
		t.Errorf("CleanExpired() = %d, want 1", got)
	}
}

func TestLRUCacheNoExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, 0)
	c.now = func() time.Time { return now }
	c.Set("k", 1)

	now = now.Add(24 * 365 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Errorf("Get(k) expired with ttl disabled")
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, 0)
	c.Set("u1#1", 1)
	c.Set("u1#2", 2)
	c.Set("u2#1", 3)
	c.Delete("missing")

	if got := c.DeletePrefix("u1#"); got != 2 {
		t.Errorf("DeletePrefix() = %d, want 2", got)
	}
	if _, ok := c.Get("u2#1"); !ok {
		t.Errorf("Get(u2#1) removed by unrelated prefix")
	}
}
