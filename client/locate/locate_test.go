package locate

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/netmeasure/speedster/pkg/model"
	"github.com/netmeasure/speedster/pkg/proto"
)

// pingTarget runs a minimal ping endpoint with an artificial delay and
// returns its host and port.
func pingTarget(t *testing.T, delay time.Duration) (string, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(proto.PingPath, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Write(proto.PingAck)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	host, portRaw, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portRaw)
	return host, port
}

// coordinator serves a fixed ranked server list.
func coordinator(t *testing.T, servers []model.TestServer) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(proto.ServersPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(servers)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestBestPicksLowestProbedLatency(t *testing.T) {
	slowHost, slowPort := pingTarget(t, 150*time.Millisecond)
	fastHost, fastPort := pingTarget(t, 0)

	// The nearest-by-distance candidate is slow; probing must pick the
	// faster one anyway.
	coord := coordinator(t, []model.TestServer{
		{ID: "near-slow", Host: slowHost, Port: slowPort, Status: model.StatusOnline, Distance: 10},
		{ID: "far-fast", Host: fastHost, Port: fastPort, Status: model.StatusOnline, Distance: 500},
	})

	best, err := New().Best(context.Background(), coord, &model.Coordinates{Lat: 1, Lon: 1})
	if err != nil {
		t.Fatal(err)
	}
	if best.ID != "far-fast" {
		t.Errorf("best = %q, want far-fast", best.ID)
	}
}

func TestBestSkipsOffline(t *testing.T) {
	host, port := pingTarget(t, 0)
	coord := coordinator(t, []model.TestServer{
		{ID: "down", Host: "192.0.2.1", Port: 9, Status: model.StatusOffline, Distance: 1},
		{ID: "up", Host: host, Port: port, Status: model.StatusOnline, Distance: 2},
	})
	best, err := New().Best(context.Background(), coord, nil)
	if err != nil {
		t.Fatal(err)
	}
	if best.ID != "up" {
		t.Errorf("best = %q, want up", best.ID)
	}
}

func TestBestFallsBackToNearestWhenProbesFail(t *testing.T) {
	// Closed ports: every probe is refused.
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	host, portRaw, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portRaw)
	l.Close()

	coord := coordinator(t, []model.TestServer{
		{ID: "nearest", Host: host, Port: port, Status: model.StatusOnline, Distance: 5},
		{ID: "farther", Host: host, Port: port, Status: model.StatusOnline, Distance: 50},
	})
	best, err := New().Best(context.Background(), coord, nil)
	if err != nil {
		t.Fatal(err)
	}
	if best.ID != "nearest" {
		t.Errorf("best = %q, want fallback to nearest", best.ID)
	}
}

func TestBestNoOnlineServers(t *testing.T) {
	coord := coordinator(t, []model.TestServer{
		{ID: "down", Status: model.StatusOffline},
	})
	if _, err := New().Best(context.Background(), coord, nil); err != ErrNoServers {
		t.Errorf("err = %v, want ErrNoServers", err)
	}
}

func TestServersPassesGeoHint(t *testing.T) {
	var gotLat, gotLon string
	mux := http.NewServeMux()
	mux.HandleFunc(proto.ServersPath, func(w http.ResponseWriter, r *http.Request) {
		gotLat, gotLon = r.URL.Query().Get("lat"), r.URL.Query().Get("lon")
		json.NewEncoder(w).Encode([]model.TestServer{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New().Servers(context.Background(), srv.URL,
		&model.Coordinates{Lat: 48.8566, Lon: 2.3522})
	if err != nil {
		t.Fatal(err)
	}
	if gotLat != "48.8566" || gotLon != "2.3522" {
		t.Errorf("geo hint = (%s, %s)", gotLat, gotLon)
	}
}
