// Package directory owns the measurement server registry: static entries,
// live connection counters and proximity-based selection.
package directory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netmeasure/speedster/internal/geo"
	"github.com/netmeasure/speedster/pkg/model"
)

var (
	// ErrUnknownServer is returned for server ids not in the registry.
	ErrUnknownServer = errors.New("directory: unknown server")

	// ErrNoOnlineServer is returned when selection finds no online entry.
	ErrNoOnlineServer = errors.New("directory: no online server")
)

// Connection is an ephemeral handle for one in-flight transfer. It is
// released exactly once, regardless of how the transfer ends.
type Connection struct {
	Token    string
	ServerID string
	OpenedAt time.Time
}

// Directory holds the server registry. Entries are created at construction
// and never removed; only ActiveConnections and Status mutate afterwards.
// All access is serialized on a single mutex.
type Directory struct {
	mu      sync.Mutex
	servers []*model.TestServer // registry order; first entry is the primary
	byID    map[string]*model.TestServer
	conns   map[string]Connection
}

// New builds a directory from a static registry. The slice order is
// preserved and the first entry becomes the designated primary.
func New(servers []model.TestServer) (*Directory, error) {
	if len(servers) == 0 {
		return nil, errors.New("directory: empty registry")
	}
	d := &Directory{
		byID:  make(map[string]*model.TestServer, len(servers)),
		conns: make(map[string]Connection),
	}
	for i := range servers {
		s := servers[i] // copy, the directory owns its entries
		if s.ID == "" {
			return nil, fmt.Errorf("directory: server #%d has no id", i)
		}
		if _, dup := d.byID[s.ID]; dup {
			return nil, fmt.Errorf("directory: duplicate server id %q", s.ID)
		}
		d.servers = append(d.servers, &s)
		d.byID[s.ID] = &s
	}
	return d, nil
}

// List returns a copy of the registry. When coords is non-nil every entry is
// annotated with its distance and a simulated latency estimate and the list
// is sorted ascending by distance.
func (d *Directory) List(coords *model.Coordinates) []model.TestServer {
	d.mu.Lock()
	out := make([]model.TestServer, 0, len(d.servers))
	for _, s := range d.servers {
		out = append(out, *s)
	}
	d.mu.Unlock()

	if coords == nil {
		return out
	}
	for i := range out {
		km := geo.Distance(coords.Lat, coords.Lon,
			out[i].Coordinates.Lat, out[i].Coordinates.Lon)
		out[i].Distance = km
		out[i].Latency = geo.EstimateLatency(km)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	return out
}

// Optimal returns the nearest online server to coords. With nil coords the
// designated primary (first registry entry) is returned deterministically.
func (d *Directory) Optimal(coords *model.Coordinates) (model.TestServer, error) {
	if coords == nil {
		d.mu.Lock()
		defer d.mu.Unlock()
		return *d.servers[0], nil
	}
	var best model.TestServer
	found := false
	for _, s := range d.List(coords) {
		if s.Status != model.StatusOnline {
			continue
		}
		if !found || s.Distance < best.Distance {
			best = s
			found = true
		}
	}
	if !found {
		return model.TestServer{}, ErrNoOnlineServer
	}
	return best, nil
}

// Acquire registers a new in-flight transfer against the given server and
// increments its connection counter.
func (d *Directory) Acquire(serverID string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byID[serverID]
	if !ok {
		return Connection{}, ErrUnknownServer
	}
	conn := Connection{
		Token:    uuid.NewString(),
		ServerID: serverID,
		OpenedAt: time.Now(),
	}
	d.conns[conn.Token] = conn
	s.ActiveConnections++
	return conn, nil
}

// Release removes a connection and decrements the owning server's counter,
// floored at zero. Releasing an unknown or already-released token is a no-op,
// so completion, error and disconnect paths may all call it.
func (d *Directory) Release(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.conns[token]
	if !ok {
		return
	}
	delete(d.conns, token)
	if s, ok := d.byID[conn.ServerID]; ok && s.ActiveConnections > 0 {
		s.ActiveConnections--
	}
}

// SetStatus administratively marks a server online or offline.
func (d *Directory) SetStatus(serverID string, status model.ServerStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byID[serverID]
	if !ok {
		return ErrUnknownServer
	}
	s.Status = status
	return nil
}

// ActiveConnections reports the live counter for one server.
func (d *Directory) ActiveConnections(serverID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.byID[serverID]
	if !ok {
		return 0, ErrUnknownServer
	}
	return s.ActiveConnections, nil
}

// OpenConnections reports how many transfers are currently in flight across
// all servers.
func (d *Directory) OpenConnections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
