package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager layers the memory cache over the disk cache. Hits on disk are
// promoted to memory; writes go to memory at once and to disk in the
// background.
type Manager struct {
	memory *MemoryCache
	disk   *DiskCache // nil when the disk tier is disabled
	config Config

	writes sync.WaitGroup

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once

	mu    sync.Mutex
	stats ManagerStats
}

// ManagerStats aggregates both tiers.
type ManagerStats struct {
	MemoryHits  int64
	DiskHits    int64
	Misses      int64
	CleanupRuns int64
	LastCleanup time.Time
	Memory      Stats
	Disk        Stats
}

// NewManager creates a two-level cache.
func NewManager(config Config) (*Manager, error) {
	m := &Manager{
		memory: NewMemoryCache(config.MemoryCapacity),
		config: config,
	}
	if config.DiskPath != "" {
		disk, err := NewDiskCache(config.DiskPath, config.DiskCapacity, config.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		m.disk = disk
	}
	if config.CleanupInterval > 0 && config.TTL > 0 {
		m.cleanupStop = make(chan struct{})
		m.cleanupDone = make(chan struct{})
		go m.cleanupLoop()
	}
	return m, nil
}

// Get looks key up in memory, then on disk.
func (m *Manager) Get(key string) ([]byte, bool) {
	if data, ok := m.memory.Get(key); ok {
		m.count(func(s *ManagerStats) { s.MemoryHits++ })
		return data, true
	}
	if m.disk != nil {
		if data, ok := m.disk.Get(key); ok {
			m.count(func(s *ManagerStats) { s.DiskHits++ })
			_ = m.memory.Set(key, data)
			return data, true
		}
	}
	m.count(func(s *ManagerStats) { s.Misses++ })
	return nil, false
}

// Set stores value in memory and queues the disk write. Values too large
// for memory still go to disk.
func (m *Manager) Set(key string, value []byte) error {
	if err := m.memory.Set(key, value); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return fmt.Errorf("memory cache: %w", err)
	}
	if m.disk == nil {
		return nil
	}
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		if err := m.disk.Set(key, value); err != nil && !errors.Is(err, ErrItemTooLarge) && !errors.Is(err, ErrClosed) {
			log.Debug("disk cache write failed", "error", err)
		}
	}()
	return nil
}

// Delete removes key from both tiers.
func (m *Manager) Delete(key string) {
	m.Flush()
	m.memory.Delete(key)
	if m.disk != nil {
		m.disk.Delete(key)
	}
}

// Flush waits for queued disk writes.
func (m *Manager) Flush() {
	m.writes.Wait()
}

// Prune drops entries older than the configured TTL from both tiers.
func (m *Manager) Prune() int {
	if m.config.TTL <= 0 {
		return 0
	}
	n := m.memory.Prune(m.config.TTL)
	if m.disk != nil {
		n += m.disk.Prune(m.config.TTL)
	}
	m.count(func(s *ManagerStats) {
		s.CleanupRuns++
		s.LastCleanup = time.Now()
	})
	return n
}

func (m *Manager) cleanupLoop() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				log.Debug("pruned expired cache entries", "count", n)
			}
		case <-m.cleanupStop:
			return
		}
	}
}

// Stats returns the counters of both tiers.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()
	s.Memory = m.memory.Stats()
	if m.disk != nil {
		s.Disk = m.disk.Stats()
	}
	return s
}

func (m *Manager) count(fn func(*ManagerStats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

// Close stops the cleanup loop, waits for pending writes and saves the
// disk index.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.cleanupStop != nil {
			close(m.cleanupStop)
			<-m.cleanupDone
		}
		m.Flush()
		m.memory.Clear()
		if m.disk != nil {
			if cerr := m.disk.Close(); cerr != nil {
				err = fmt.Errorf("failed to close disk cache: %w", cerr)
			}
		}
	})
	return err
}
