// Package locate picks the best measurement server for a client: ranked by
// great-circle distance on the server side, refined here with real latency
// probes against the nearest candidates.
package locate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/netmeasure/speedster/pkg/model"
	"github.com/netmeasure/speedster/pkg/proto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoServers is returned when the directory has no online entries.
var ErrNoServers = errors.New("locate: no online servers")

// DefaultMaxProbes bounds how many nearest candidates get a latency probe.
const DefaultMaxProbes = 5

// Locator queries a server directory and probes candidates.
type Locator struct {
	httpc        *http.Client
	maxProbes    int
	probeTimeout time.Duration
}

// New returns a Locator with the default probe budget and timeout.
func New() *Locator {
	return &Locator{
		httpc:        &http.Client{},
		maxProbes:    DefaultMaxProbes,
		probeTimeout: proto.ProbeTimeout,
	}
}

// Servers fetches the directory from the coordinator, ranked by distance
// when coords is non-nil.
func (l *Locator) Servers(ctx context.Context, coordinator string,
	coords *model.Coordinates) ([]model.TestServer, error) {
	u := coordinator + proto.ServersPath
	if coords != nil {
		q := url.Values{}
		q.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("locate: unexpected status %d", resp.StatusCode)
	}
	var servers []model.TestServer
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Best selects the measurement server to target: the online candidate with
// the lowest probed latency among the nearest few, falling back to the
// nearest by distance when every probe fails.
func (l *Locator) Best(ctx context.Context, coordinator string,
	coords *model.Coordinates) (model.TestServer, error) {
	servers, err := l.Servers(ctx, coordinator, coords)
	if err != nil {
		return model.TestServer{}, err
	}
	online := servers[:0:0]
	for _, s := range servers {
		if s.Status == model.StatusOnline {
			online = append(online, s)
		}
	}
	if len(online) == 0 {
		return model.TestServer{}, ErrNoServers
	}

	candidates := online
	if len(candidates) > l.maxProbes {
		candidates = candidates[:l.maxProbes]
	}

	// Probe candidates concurrently so one slow server does not stall the
	// rest. Unreachable candidates are skipped, not fatal.
	rtts := make([]time.Duration, len(candidates))
	var g errgroup.Group
	for i := range candidates {
		i := i
		s := candidates[i]
		g.Go(func() error {
			rtt, err := l.probe(ctx, &s)
			if err != nil {
				rtts[i] = -1
				zap.L().Sugar().Warnw("latency probe failed",
					"server", s.ID, "err", err)
				return nil
			}
			zap.L().Sugar().Debugw("latency probe", "server", s.ID, "rtt", rtt)
			rtts[i] = rtt
			return nil
		})
	}
	g.Wait()

	best := -1
	for i, rtt := range rtts {
		if rtt < 0 {
			continue
		}
		if best == -1 || rtt < rtts[best] {
			best = i
		}
	}
	if best == -1 {
		// All probes failed: nearest by distance.
		return online[0], nil
	}
	return candidates[best], nil
}

// probe measures one round trip against a server's ping endpoint.
func (l *Locator) probe(ctx context.Context, s *model.TestServer) (time.Duration, error) {
	pctx, cancel := context.WithTimeout(ctx, l.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet,
		"http://"+s.Endpoint()+proto.PingPath, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := l.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("locate: unexpected status %d", resp.StatusCode)
	}
	return time.Since(start), nil
}
