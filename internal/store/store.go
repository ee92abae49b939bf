// Package store is the in-memory result aggregator: it assigns result ids,
// keeps completed measurement records for the process lifetime and folds
// their metrics into per-server running averages.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netmeasure/speedster/pkg/model"
)

// Store holds results and per-server stats. A single mutex serializes all
// updates; each submission touches exactly one result and one stats entry.
type Store struct {
	mu      sync.Mutex
	results map[string]*model.TestResult
	stats   map[string]*model.ServerStats
}

// New returns an empty store.
func New() *Store {
	return &Store{
		results: make(map[string]*model.TestResult),
		stats:   make(map[string]*model.ServerStats),
	}
}

// Submit stores a completed result and updates the stats of the referenced
// server. The server assigns an authoritative id and timestamp when the
// client did not provide them. Returns the stored id.
func (s *Store) Submit(result *model.TestResult) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *result
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	s.results[stored.ID] = &stored

	if stored.ServerID != "" {
		st, ok := s.stats[stored.ServerID]
		if !ok {
			st = &model.ServerStats{}
			s.stats[stored.ServerID] = st
		}
		st.TotalTests++
		n := float64(st.TotalTests)
		st.AvgPing = (st.AvgPing*(n-1) + stored.Ping) / n
		st.AvgDownload = (st.AvgDownload*(n-1) + stored.Download) / n
		st.AvgUpload = (st.AvgUpload*(n-1) + stored.Upload) / n
		st.LastUpdated = stored.Timestamp
	}
	return stored.ID
}

// Get returns the result stored under id, if any.
func (s *Store) Get(id string) (*model.TestResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return nil, false
	}
	out := *r
	return &out, true
}

// Stats returns a copy of the stats entry for one server, if any.
func (s *Store) Stats(serverID string) (*model.ServerStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[serverID]
	if !ok {
		return nil, false
	}
	out := *st
	return &out, true
}

// Count reports how many results are stored.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// StatsSnapshot joins the given directory entries with their stats. Servers
// without results get a nil Stats field.
func (s *Store) StatsSnapshot(servers []model.TestServer) []model.ServerStatsEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ServerStatsEntry, 0, len(servers))
	for _, srv := range servers {
		entry := model.ServerStatsEntry{Server: srv}
		if st, ok := s.stats[srv.ID]; ok {
			cp := *st
			entry.Stats = &cp
		}
		out = append(out, entry)
	}
	return out
}
