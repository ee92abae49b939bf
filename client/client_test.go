package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/netmeasure/speedster/client/config"
	"github.com/netmeasure/speedster/client/emitter"
	"github.com/netmeasure/speedster/internal/directory"
	"github.com/netmeasure/speedster/internal/handler"
	"github.com/netmeasure/speedster/internal/store"
	"github.com/netmeasure/speedster/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

// testTarget runs a full transfer service instance and returns a directory
// entry pointing at it.
type testTarget struct {
	server model.TestServer
	dir    *directory.Directory
	store  *store.Store
}

func newTestTarget(t *testing.T) *testTarget {
	t.Helper()
	dir, err := directory.New([]model.TestServer{{
		ID: "test-1", Name: "Test", Status: model.StatusOnline,
	}})
	if err != nil {
		t.Fatal(err)
	}
	st := store.New()
	h := handler.New(handler.Config{
		Instance: "test",
		ServerID: "test-1",
	}, dir, st, handler.NewMetrics(prometheus.NewRegistry(), "test"))
	srv := httptest.NewServer(h.Engine())
	t.Cleanup(srv.Close)

	host, portRaw, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portRaw)
	return &testTarget{
		server: model.TestServer{ID: "test-1", Host: host, Port: port, Status: model.StatusOnline},
		dir:    dir,
		store:  st,
	}
}

func quickConfig() *config.Config {
	cfg := config.New(3, time.Millisecond, 256<<10, 2, 64<<10, 5*time.Second)
	return cfg
}

func TestRunCompletes(t *testing.T) {
	target := newTestTarget(t)
	o := NewWithConfig(target.server, quickConfig(), emitter.NullEmitter{})

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o.State() != StateComplete {
		t.Errorf("state = %s, want complete", o.State())
	}
	if result.ID == "" {
		t.Error("result has no id")
	}
	if result.Ping <= 0 {
		t.Errorf("ping = %v, want > 0", result.Ping)
	}
	if result.Download <= 0 || result.Upload <= 0 {
		t.Errorf("throughput = (%v, %v), want > 0", result.Download, result.Upload)
	}
	if result.QualityLabel == "" {
		t.Error("quality label missing")
	}
	if result.PacketLoss < 0 || result.PacketLoss >= 0.5 {
		t.Errorf("packet loss = %v, want simulated [0, 0.5)", result.PacketLoss)
	}

	// The run must have stored its result on the server.
	stored, ok := target.store.Get(result.ID)
	if !ok {
		t.Fatal("result not stored server-side")
	}
	if stored.ServerID != "test-1" {
		t.Errorf("stored server id = %q", stored.ServerID)
	}
}

func TestStoppedRunStoresNothingAndLeaksNothing(t *testing.T) {
	target := newTestTarget(t)
	cfg := quickConfig()
	cfg.PingCount = 1000
	cfg.PingDelay = 20 * time.Millisecond
	o := NewWithConfig(target.server, cfg, emitter.NullEmitter{})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	o.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("err = %v, want ErrStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stopped run did not return")
	}
	if o.State() != StateStopped {
		t.Errorf("state = %s, want stopped", o.State())
	}
	if target.store.Count() != 0 {
		t.Errorf("stopped run stored %d results", target.store.Count())
	}
	if n, _ := target.dir.ActiveConnections("test-1"); n != 0 {
		t.Errorf("dangling connections: %d", n)
	}
}

func TestRunFailsWhenServerUnreachable(t *testing.T) {
	// Reserve a port and close it so probes are refused quickly.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, portRaw, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portRaw)
	l.Close()

	cfg := quickConfig()
	cfg.PingCount = 2
	o := NewWithConfig(model.TestServer{ID: "x", Host: host, Port: port}, cfg,
		emitter.NullEmitter{})
	if _, err := o.Run(context.Background()); err == nil {
		t.Fatal("expected run against unreachable server to fail")
	}
	if o.State() != StateFailed {
		t.Errorf("state = %s, want failed", o.State())
	}
}

func TestDownloadPhaseDeadlineKeepsPartialBytes(t *testing.T) {
	// A server that streams forever: only the deadline can end the phase.
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		chunk := make([]byte, 8<<10)
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, portRaw, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portRaw)
	cfg := quickConfig()
	cfg.PhaseDeadline = 300 * time.Millisecond
	o := NewWithConfig(model.TestServer{ID: "slow", Host: host, Port: port}, cfg,
		emitter.NullEmitter{})

	start := time.Now()
	bps, err := o.downloadPhase(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("downloadPhase: %v", err)
	}
	if bps <= 0 {
		t.Error("partial bytes at deadline should still produce a throughput")
	}
	if elapsed > 2*time.Second {
		t.Errorf("phase ran %v, deadline was 300ms", elapsed)
	}
}

func TestStateTransitionsSequential(t *testing.T) {
	target := newTestTarget(t)
	rec := &stateRecorder{o: nil, states: nil}
	o := NewWithConfig(target.server, quickConfig(), rec)
	rec.o = o

	if o.State() != StateIdle {
		t.Errorf("initial state = %s, want idle", o.State())
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []State{StatePing, StateDownload, StateUpload, StateJitter}
	if len(rec.states) != len(want) {
		t.Fatalf("observed states %v, want %v", rec.states, want)
	}
	for i, s := range want {
		if rec.states[i] != s {
			t.Errorf("phase %d state = %s, want %s", i, rec.states[i], s)
		}
	}
}

// stateRecorder captures the orchestrator state at each phase start.
type stateRecorder struct {
	emitter.NullEmitter
	o      *Orchestrator
	states []State
}

func (r *stateRecorder) OnPhaseStart(model.Phase) {
	r.states = append(r.states, r.o.State())
}
