package state

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
)

// Store holds the latest known state of every monitored instance, keyed by
// address. Values are deep-copied on the way in and on the way out, so
// callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]domain.InstanceState

	replacements uint64
	changes      uint64
	lastUpdate   map[string]time.Time
	lastSeed     time.Time
}

// Stats is a point-in-time summary of store activity.
type Stats struct {
	Entries      int                  `json:"entries"`
	Replacements uint64               `json:"replacements"`
	Changes      uint64               `json:"changes"`
	LastSeed     time.Time            `json:"last_seed"`
	LastUpdate   map[string]time.Time `json:"last_update"`
}

func NewStore() *Store {
	return &Store{
		entries:    make(map[string]domain.InstanceState),
		lastUpdate: make(map[string]time.Time),
	}
}

// Seed replaces all entries with the empty initial state of each instance.
func (s *Store) Seed(instances []domain.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]domain.InstanceState, len(instances))
	s.lastUpdate = make(map[string]time.Time, len(instances))
	for _, inst := range instances {
		s.entries[inst.Address()] = domain.NewInstanceState(inst)
	}
	s.lastSeed = time.Now()
}

// Restore fills already seeded entries from previously saved states. The
// configured identity always wins over the saved one. It returns how many
// entries were restored.
func (s *Store) Restore(saved map[string]domain.InstanceState) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for addr, st := range saved {
		cur, ok := s.entries[addr]
		if !ok {
			continue
		}
		next := st.Clone()
		next.Instance = cur.Instance
		if next.Restreams == nil {
			next.Restreams = []domain.Restream{}
		}
		s.entries[addr] = next
		n++
	}
	return n
}

// Replace stores next as the state of addr and returns what changed. An
// empty diff means nothing observable changed.
func (s *Store) Replace(addr string, next domain.InstanceState) domain.Diff {
	next = next.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.entries[addr]
	diff := domain.DiffState(prev, next)

	s.entries[addr] = next
	s.replacements++
	if !diff.Empty() {
		s.changes++
	}
	s.lastUpdate[addr] = time.Now()
	return diff
}

// Get returns a copy of the state of addr.
func (s *Store) Get(addr string) (domain.InstanceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.entries[addr]
	if !ok {
		return domain.InstanceState{}, false
	}
	return st.Clone(), true
}

// Snapshot returns a deep copy of every entry.
func (s *Store) Snapshot() map[string]domain.InstanceState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.InstanceState, len(s.entries))
	for addr, st := range s.entries {
		out[addr] = st.Clone()
	}
	return out
}

// Addresses returns the known addresses in sorted order.
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.entries))
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Entries:      len(s.entries),
		Replacements: s.replacements,
		Changes:      s.changes,
		LastSeed:     s.lastSeed,
		LastUpdate:   maps.Clone(s.lastUpdate),
	}
}
