package cache

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	c := NewMemoryCache(1024)

	if err := c.Set("k", []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || string(got) != "value" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if c.Size() != 5 {
		t.Errorf("Size = %d, want 5", c.Size())
	}

	// Overwrite replaces the size accounting.
	if err := c.Set("k", []byte("longer value")); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 12 {
		t.Errorf("Size after overwrite = %d, want 12", c.Size())
	}

	c.Delete("k")
	if c.Contains("k") || c.Size() != 0 {
		t.Error("entry should be gone after delete")
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(100)
	for i := 0; i < 5; i++ {
		if err := c.Set(fmt.Sprintf("key-%d", i), make([]byte, 20)); err != nil {
			t.Fatal(err)
		}
	}

	// key-0 and key-1 become the most recently used.
	c.Get("key-0")
	c.Get("key-1")

	if err := c.Set("new", make([]byte, 30)); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"key-0", "key-1", "key-4", "new"} {
		if !c.Contains(k) {
			t.Errorf("%s should survive eviction", k)
		}
	}
	for _, k := range []string{"key-2", "key-3"} {
		if c.Contains(k) {
			t.Errorf("%s should have been evicted", k)
		}
	}
	if s := c.Stats(); s.Evictions != 2 || s.Size > 100 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMemoryCache_TooLarge(t *testing.T) {
	c := NewMemoryCache(10)
	if err := c.Set("big", make([]byte, 11)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("err = %v, want ErrItemTooLarge", err)
	}
}

func TestMemoryCache_Prune(t *testing.T) {
	c := NewMemoryCache(1024)
	_ = c.Set("old", []byte("a"))
	time.Sleep(20 * time.Millisecond)
	_ = c.Set("fresh", []byte("b"))

	if n := c.Prune(10 * time.Millisecond); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if c.Contains("old") || !c.Contains("fresh") {
		t.Error("only the old entry should be pruned")
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(1024)
	_ = c.Set("a", []byte("1"))
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.ItemCount != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("hit rate = %v", s.HitRate)
	}
}
