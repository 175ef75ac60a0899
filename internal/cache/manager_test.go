package cache

import (
	"bytes"
	"testing"
)

func testConfig(dir string) Config {
	return Config{
		MemoryCapacity:   1024,
		DiskPath:         dir,
		DiskCapacity:     1 << 20,
		CompressionLevel: 3,
	}
}

func TestManager_BasicOperations(t *testing.T) {
	m, err := NewManager(testConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close() //nolint:errcheck

	if err := m.Set("k", []byte("value")); err != nil {
		t.Fatal(err)
	}
	got, ok := m.Get("k")
	if !ok || string(got) != "value" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	m.Delete("k")
	if _, ok := m.Get("k"); ok {
		t.Error("key still present after delete")
	}

	s := m.Stats()
	if s.MemoryHits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestManager_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	_ = m.Set("k", []byte("from disk"))
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	// A new manager starts with an empty memory tier.
	m, err = NewManager(testConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close() //nolint:errcheck

	if got, ok := m.Get("k"); !ok || string(got) != "from disk" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if !m.memory.Contains("k") {
		t.Error("disk hit should be promoted to memory")
	}
	m.Get("k")

	s := m.Stats()
	if s.DiskHits != 1 || s.MemoryHits != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestManager_LargeValuesSkipMemory(t *testing.T) {
	m, err := NewManager(testConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close() //nolint:errcheck

	big := bytes.Repeat([]byte("x"), 4096)
	if err := m.Set("big", big); err != nil {
		t.Fatalf("oversized values must not fail: %v", err)
	}
	m.Flush()
	if m.memory.Contains("big") {
		t.Error("value larger than memory should not be held in memory")
	}
	if got, ok := m.Get("big"); !ok || !bytes.Equal(got, big) {
		t.Error("value should be served from disk")
	}
}

func TestManager_MemoryOnly(t *testing.T) {
	m, err := NewManager(Config{MemoryCapacity: 1024})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close() //nolint:errcheck

	_ = m.Set("k", []byte("v"))
	if _, ok := m.Get("k"); !ok {
		t.Error("memory-only manager should serve its entries")
	}
	if n := m.Prune(); n != 0 {
		t.Errorf("prune without TTL removed %d entries", n)
	}
}
