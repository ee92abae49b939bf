// Package client orchestrates a measurement run: latency probes, parallel
// download and upload transfers against a selected server, and the derived
// jitter and quality metrics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-lab/go/memoryless"
	"github.com/netmeasure/speedster/client/config"
	"github.com/netmeasure/speedster/client/emitter"
	"github.com/netmeasure/speedster/internal/payload"
	"github.com/netmeasure/speedster/pkg/model"
	"github.com/netmeasure/speedster/pkg/proto"
	"go.uber.org/zap"
)

// State is the orchestrator's run state.
type State string

const (
	StateIdle     = State("idle")
	StatePing     = State("ping")
	StateDownload = State("download")
	StateUpload   = State("upload")
	StateJitter   = State("jitter")
	StateComplete = State("complete")
	StateFailed   = State("failed")
	StateStopped  = State("stopped")
)

// ErrStopped is returned by Run when the user cancelled the measurement.
var ErrStopped = errors.New("measurement stopped")

// Orchestrator drives the phase sequence of one measurement run. A given
// Orchestrator runs one measurement at a time.
type Orchestrator struct {
	server  model.TestServer
	base    string
	httpc   *http.Client
	config  *config.Config
	emitter emitter.Emitter

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	stopped bool
}

// New creates an orchestrator targeting server with default settings.
func New(server model.TestServer) *Orchestrator {
	return NewWithConfig(server, config.NewDefault(), &emitter.LogEmitter{})
}

// NewWithConfig creates an orchestrator with explicit settings.
func NewWithConfig(server model.TestServer, cfg *config.Config, e emitter.Emitter) *Orchestrator {
	return &Orchestrator{
		server:  server,
		base:    "http://" + server.Endpoint(),
		httpc:   &http.Client{},
		config:  cfg,
		emitter: e,
		state:   StateIdle,
	}
}

// State reports the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Stop cancels the run. All in-flight sub-transfers abort and the run
// finishes in the stopped state without storing a result.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the full phase sequence and submits the assembled result to
// the server's result store. It returns the stored result, or an error with
// the terminal state set to failed or stopped.
func (o *Orchestrator) Run(ctx context.Context) (*model.TestResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.stopped = false
	o.mu.Unlock()

	o.setState(StatePing)
	o.emitter.OnPhaseStart(model.PhasePing)
	samples, err := o.pingPhase(runCtx)
	if err != nil {
		return nil, o.terminate(model.PhasePing, err)
	}
	ping := Mean(samples)
	o.emitter.OnPhaseComplete(model.PhasePing, emitter.Progress{})

	o.setState(StateDownload)
	o.emitter.OnPhaseStart(model.PhaseDownload)
	download, err := o.downloadPhase(runCtx)
	if err != nil {
		return nil, o.terminate(model.PhaseDownload, err)
	}
	o.emitter.OnPhaseComplete(model.PhaseDownload,
		emitter.Progress{SpeedBitsPerSecond: download})

	o.setState(StateUpload)
	o.emitter.OnPhaseStart(model.PhaseUpload)
	upload, err := o.uploadPhase(runCtx)
	if err != nil {
		return nil, o.terminate(model.PhaseUpload, err)
	}
	o.emitter.OnPhaseComplete(model.PhaseUpload,
		emitter.Progress{SpeedBitsPerSecond: upload})

	o.setState(StateJitter)
	o.emitter.OnPhaseStart(model.PhaseJitter)
	jitter := Jitter(samples)
	loss := SimulatedPacketLoss()
	score, label := QualityScore(ping, jitter, loss)
	o.emitter.OnPhaseComplete(model.PhaseJitter, emitter.Progress{})

	result := &model.TestResult{
		ServerID:     o.server.ID,
		Ping:         ping,
		Jitter:       jitter,
		Download:     download,
		Upload:       upload,
		PacketLoss:   loss,
		QualityScore: score,
		QualityLabel: label,
	}
	if err := o.submit(runCtx, result); err != nil {
		return nil, o.terminate(model.PhaseJitter, err)
	}
	o.setState(StateComplete)
	return result, nil
}

// terminate maps a phase error to the stopped or failed terminal state.
func (o *Orchestrator) terminate(phase model.Phase, err error) error {
	o.mu.Lock()
	stopped := o.stopped
	o.mu.Unlock()
	if stopped {
		o.setState(StateStopped)
		return ErrStopped
	}
	o.setState(StateFailed)
	o.emitter.OnError(phase, err)
	return fmt.Errorf("%s phase: %w", phase, err)
}

// pingPhase runs sequential round-trip probes. Individual probe failures are
// skipped; the phase fails only when no probe succeeds.
func (o *Orchestrator) pingPhase(ctx context.Context) ([]float64, error) {
	samples := make([]float64, 0, o.config.PingCount)
	for i := 0; i < o.config.PingCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rtt, err := o.probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Sugar().Warnw("ping probe failed", "probe", i, "err", err)
		} else {
			samples = append(samples, rtt)
			o.emitter.OnProgress(model.PhasePing, emitter.Progress{
				Elapsed:            time.Duration(rtt * float64(time.Millisecond)),
				SpeedBitsPerSecond: 0,
			})
		}
		if i < o.config.PingCount-1 {
			select {
			case <-time.After(o.config.PingDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if len(samples) == 0 {
		return nil, errors.New("all ping probes failed")
	}
	return samples, nil
}

// probe issues one round-trip against the ping endpoint and returns the
// elapsed time in milliseconds.
func (o *Orchestrator) probe(ctx context.Context) (float64, error) {
	pctx, cancel := context.WithTimeout(ctx, o.config.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, o.base+proto.PingPath, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := o.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return float64(time.Since(start)) / float64(time.Millisecond), nil
}

// downloadPhase fetches the configured total across parallel sub-transfers,
// racing the phase deadline. Sub-transfers still in flight at the deadline
// are abandoned; their partial bytes count toward the final metric.
func (o *Orchestrator) downloadPhase(ctx context.Context) (float64, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, o.config.PhaseDeadline)
	defer cancel()

	var total atomic.Int64
	start := time.Now()
	go o.sampleProgress(phaseCtx, model.PhaseDownload, &total, start)

	streams := o.config.DownloadStreams
	if streams < 1 {
		streams = 1
	}
	share := o.config.DownloadBytes / int64(streams)
	var wg sync.WaitGroup
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func(stream int) {
			defer wg.Done()
			if err := o.downloadStream(phaseCtx, share, &total); err != nil {
				// Deadline abandonment and transport errors are both
				// non-fatal; partial bytes are already counted.
				if phaseCtx.Err() == nil {
					zap.L().Sugar().Warnw("download stream error",
						"stream", stream, "err", err)
				}
			}
		}(i)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	elapsed := time.Since(start)
	if elapsed > o.config.PhaseDeadline {
		elapsed = o.config.PhaseDeadline
	}
	return float64(total.Load()*8) / elapsed.Seconds(), nil
}

// downloadStream reads one sub-transfer, folding every received chunk into
// the shared byte counter as it arrives.
func (o *Orchestrator) downloadStream(ctx context.Context, size int64, total *atomic.Int64) error {
	url := o.base + proto.DownloadPath + "?size=" + strconv.FormatInt(size, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		total.Add(int64(n))
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// uploadPhase sends a generated payload as a single transfer under the phase
// deadline. Hitting the deadline keeps the bytes sent so far and is not an
// error.
func (o *Orchestrator) uploadPhase(ctx context.Context) (float64, error) {
	buf, err := payload.NewGenerator(1).Bytes(int(o.config.UploadBytes))
	if err != nil {
		return 0, err
	}

	phaseCtx, cancel := context.WithTimeout(ctx, o.config.PhaseDeadline)
	defer cancel()

	var sent atomic.Int64
	start := time.Now()
	go o.sampleProgress(phaseCtx, model.PhaseUpload, &sent, start)

	body := &countingReader{r: bytes.NewReader(buf), n: &sent}
	req, err := http.NewRequestWithContext(phaseCtx, http.MethodPost,
		o.base+proto.UploadPath, body)
	if err != nil {
		return 0, err
	}
	req.ContentLength = int64(len(buf))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := o.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// User cancellation, not the phase deadline.
			return 0, ctx.Err()
		}
		// Deadline or transport error: compute from partial progress.
		elapsed := time.Since(start)
		if elapsed > o.config.PhaseDeadline {
			elapsed = o.config.PhaseDeadline
		}
		zap.L().Sugar().Warnw("upload ended early", "bytes", sent.Load(), "err", err)
		return float64(sent.Load()*8) / elapsed.Seconds(), nil
	}
	defer resp.Body.Close()

	var summary model.UploadSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err == nil &&
		summary.SpeedBitsPerSecond > 0 {
		// Prefer the server-side measurement when available.
		return summary.SpeedBitsPerSecond, nil
	}
	elapsed := time.Since(start)
	return float64(sent.Load()*8) / elapsed.Seconds(), nil
}

// sampleProgress emits live throughput at semi-random intervals until the
// phase ends.
func (o *Orchestrator) sampleProgress(ctx context.Context, phase model.Phase,
	total *atomic.Int64, start time.Time) {
	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      100 * time.Millisecond,
		Expected: 250 * time.Millisecond,
		Max:      400 * time.Millisecond,
	})
	if err != nil {
		return
	}
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			n := total.Load()
			o.emitter.OnProgress(phase, emitter.Progress{
				Bytes:              n,
				Elapsed:            elapsed,
				SpeedBitsPerSecond: float64(n*8) / elapsed.Seconds(),
			})
		}
	}
}

// submit stores the completed result on the server and records the assigned
// id and timestamp.
func (o *Orchestrator) submit(ctx context.Context, result *model.TestResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.base+proto.ResultsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save result: unexpected status %d", resp.StatusCode)
	}
	var save model.SaveResponse
	if err := json.NewDecoder(resp.Body).Decode(&save); err != nil {
		return err
	}
	result.ID = save.ID
	result.Timestamp = time.Now().UTC()
	return nil
}

// countingReader counts bytes as the transport consumes them.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
