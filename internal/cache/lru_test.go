package cache

import (
	"strings"
	"testing"
	"time"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b was least recently used and should be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a should survive, got %d %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("j", "w")
	now = now.Add(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry should still be fresh")
	}
	now = now.Add(31 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should have expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired entry cleaned, got %d", n)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestDeleteFunc(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("alice|2025-03", 1)
	c.Set("alice|2025-04", 2)
	c.Set("bob|2025-03", 3)

	if n := c.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, "alice|") }); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("bob|2025-03"); !ok {
		t.Fatalf("other keys must be kept")
	}
}

func TestManagerCleanAll(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	a := NewLRUCache[int](10, time.Second)
	a.now = func() time.Time { return now }
	a.Set("x", 1)

	m := NewManager(nil)
	m.Register(a)
	now = now.Add(2 * time.Second)
	if n := m.CleanAll(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
