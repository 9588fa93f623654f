package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/model"
)

const defaultCapacity = 1024

// Memory is a bounded in-process cache. Least recently used entries are
// evicted when capacity is reached; expired entries are dropped lazily on Get
// and by the periodic sweep.
type Memory struct {
	entries       *lru.Cache[string, model.CacheEntry]
	ttl           time.Duration
	sweepInterval time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewMemory creates a memory cache. Capacity <= 0 uses a default.
func NewMemory(ttl time.Duration, capacity int, sweepInterval time.Duration, logger zerolog.Logger) *Memory {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	// lru.New only fails for a non-positive size
	entries, _ := lru.New[string, model.CacheEntry](capacity)

	return &Memory{
		entries:       entries,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Get returns the artifact URL for fingerprint if present and fresh
func (m *Memory) Get(ctx context.Context, fingerprint string) (string, bool) {
	entry, ok := m.GetEntry(ctx, fingerprint)
	return entry.ArtifactURL, ok
}

// Put stores or replaces the entry for fingerprint
func (m *Memory) Put(ctx context.Context, fingerprint, artifactURL string) {
	m.PutEntry(ctx, model.CacheEntry{Fingerprint: fingerprint, ArtifactURL: artifactURL})
}

func (m *Memory) GetEntry(_ context.Context, fingerprint string) (model.CacheEntry, bool) {
	entry, ok := m.entries.Get(fingerprint)
	if !ok {
		return model.CacheEntry{}, false
	}
	if entry.Expired(m.now(), m.ttl) {
		m.entries.Remove(fingerprint)
		return model.CacheEntry{}, false
	}
	return entry, true
}

// PutEntry stamps the entry with the current time and stores it
func (m *Memory) PutEntry(_ context.Context, entry model.CacheEntry) {
	entry.CreatedAt = m.now()
	m.entries.Add(entry.Fingerprint, entry)
}

// Sweep removes every expired entry
func (m *Memory) Sweep(_ context.Context) int {
	now := m.now()
	removed := 0
	for _, key := range m.entries.Keys() {
		entry, ok := m.entries.Peek(key)
		if !ok {
			continue
		}
		if entry.Expired(now, m.ttl) {
			m.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Start launches the background sweeper. Calling Start twice is a no-op.
func (m *Memory) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.sweepInterval <= 0 {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.sweepLoop(m.stop, m.done)
}

// Stop halts the sweeper and waits for it to exit
func (m *Memory) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Memory) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := m.Sweep(context.Background()); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("swept expired artifacts")
			}
		}
	}
}
