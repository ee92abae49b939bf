package store

import (
	"math"
	"sync"
	"testing"

	"github.com/netmeasure/speedster/pkg/model"
)

func TestSubmitAssignsIDAndTimestamp(t *testing.T) {
	s := New()
	id := s.Submit(&model.TestResult{ServerID: "srv-1", Ping: 12})
	if id == "" {
		t.Fatal("Submit returned empty id")
	}
	r, ok := s.Get(id)
	if !ok {
		t.Fatal("stored result not found")
	}
	if r.Timestamp.IsZero() {
		t.Error("timestamp was not assigned")
	}
	if r.Ping != 12 {
		t.Errorf("ping = %v, want 12", r.Ping)
	}
}

func TestGetMiss(t *testing.T) {
	s := New()
	if _, ok := s.Get("missing"); ok {
		t.Error("Get on unknown id reported a hit")
	}
}

func TestIncrementalMeanMatchesBatchMean(t *testing.T) {
	s := New()
	pings := []float64{10, 25.5, 31, 8.2, 99, 42, 17.3}
	var sum float64
	for _, p := range pings {
		s.Submit(&model.TestResult{ServerID: "srv-1", Ping: p})
		sum += p
	}
	st, ok := s.Stats("srv-1")
	if !ok {
		t.Fatal("no stats for srv-1")
	}
	if st.TotalTests != len(pings) {
		t.Fatalf("totalTests = %d, want %d", st.TotalTests, len(pings))
	}
	want := sum / float64(len(pings))
	if math.Abs(st.AvgPing-want) > 1e-9 {
		t.Errorf("avgPing = %v, want %v", st.AvgPing, want)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	s := New()
	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(&model.TestResult{ServerID: "srv-1", Ping: 20, Download: 1e8, Upload: 5e7})
		}()
	}
	wg.Wait()
	st, ok := s.Stats("srv-1")
	if !ok {
		t.Fatal("no stats for srv-1")
	}
	if st.TotalTests != n {
		t.Errorf("totalTests = %d, want %d (lost updates)", st.TotalTests, n)
	}
	if math.Abs(st.AvgPing-20) > 1e-9 {
		t.Errorf("avgPing = %v, want 20", st.AvgPing)
	}
	if s.Count() != n {
		t.Errorf("stored results = %d, want %d", s.Count(), n)
	}
}

func TestStatsSnapshotJoinsDirectory(t *testing.T) {
	s := New()
	s.Submit(&model.TestResult{ServerID: "a", Ping: 5})
	servers := []model.TestServer{{ID: "a"}, {ID: "b"}}
	snap := s.StatsSnapshot(servers)
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	if snap[0].Stats == nil || snap[0].Stats.TotalTests != 1 {
		t.Error("server a should have stats with one test")
	}
	if snap[1].Stats != nil {
		t.Error("server b should have nil stats")
	}
}

func TestSubmitKeepsClientProvidedID(t *testing.T) {
	s := New()
	id := s.Submit(&model.TestResult{ID: "client-id", ServerID: "a"})
	if id != "client-id" {
		t.Errorf("id = %q, want client-id", id)
	}
}
