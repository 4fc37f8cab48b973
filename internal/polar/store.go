package polar

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/polargen/internal/metrics"
)

// Key identifies a completed polar.
type Key struct {
	Airfoil  string  `json:"airfoil"`
	Reynolds float64 `json:"reynolds"`
}

// Entry wraps a completed polar with generation metadata.
type Entry struct {
	Key         Key       `json:"key"`
	Table       *Table    `json:"-"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Store holds completed polars in memory.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*Entry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[Key]*Entry)}
}

// Put stores t under (airfoil, reynolds), replacing any previous table.
func (s *Store) Put(airfoil string, reynolds float64, t *Table) {
	key := Key{Airfoil: airfoil, Reynolds: reynolds}
	entry := &Entry{Key: key, Table: t, GeneratedAt: time.Now()}

	s.mu.Lock()
	s.entries[key] = entry
	n := len(s.entries)
	s.mu.Unlock()

	metrics.SetStoreEntries(n)
}

// Get returns the stored table, or nil if none is stored.
func (s *Store) Get(airfoil string, reynolds float64) *Table {
	s.mu.RLock()
	entry, ok := s.entries[Key{Airfoil: airfoil, Reynolds: reynolds}]
	s.mu.RUnlock()

	if ok {
		s.hits.Add(1)
		metrics.IncStoreLookup(true)
		return entry.Table
	}

	s.misses.Add(1)
	metrics.IncStoreLookup(false)
	return nil
}

// List returns all entries sorted by airfoil then Reynolds number.
func (s *Store) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Airfoil != out[j].Key.Airfoil {
			return out[i].Key.Airfoil < out[j].Key.Airfoil
		}
		return out[i].Key.Reynolds < out[j].Key.Reynolds
	})
	return out
}

// Len returns the number of stored polars.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns current store statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	count := len(s.entries)
	var points int
	var newest time.Time
	for _, e := range s.entries {
		points += e.Table.Len()
		if e.GeneratedAt.After(newest) {
			newest = e.GeneratedAt
		}
	}
	s.mu.RUnlock()

	return StoreStats{
		Entries:     count,
		Points:      points,
		NewestEntry: newest,
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
	}
}

// StoreStats holds store statistics for the stats endpoint.
type StoreStats struct {
	Entries     int       `json:"entries"`
	Points      int       `json:"points"`
	NewestEntry time.Time `json:"newest_entry"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
}
