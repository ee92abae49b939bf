// Package handler implements the transfer service: the latency probe,
// download and upload endpoints plus the directory and result API.
package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/netmeasure/speedster/internal/directory"
	"github.com/netmeasure/speedster/internal/payload"
	"github.com/netmeasure/speedster/internal/store"
	"github.com/netmeasure/speedster/pkg/model"
	"github.com/netmeasure/speedster/pkg/proto"
	"go.uber.org/zap"
)

const noStore = "no-store, no-cache, must-revalidate"

const (
	kindPing     = "ping"
	kindDownload = "download"
	kindUpload   = "upload"
)

// Config carries the per-instance handler settings.
type Config struct {
	// Instance names this service instance in logs and metrics.
	Instance string

	// ServerID is the directory entry this instance serves transfers for.
	ServerID string

	// MaxTransferBytes clamps download and upload sizes.
	MaxTransferBytes int64

	// DefaultDownloadBytes is served when the size parameter is absent or
	// not a parseable non-negative integer.
	DefaultDownloadBytes int64
}

// Handler serves the transfer and API endpoints of one service instance.
// Instances share no state: each has its own payload cache, directory
// counters and metrics.
type Handler struct {
	cfg     Config
	dir     *directory.Directory
	store   *store.Store
	gen     *payload.Generator
	metrics *Metrics
	started time.Time
}

// New creates a Handler.
func New(cfg Config, dir *directory.Directory, st *store.Store, m *Metrics) *Handler {
	if cfg.MaxTransferBytes <= 0 {
		cfg.MaxTransferBytes = proto.MaxTransferSize
	}
	if cfg.DefaultDownloadBytes <= 0 || cfg.DefaultDownloadBytes > cfg.MaxTransferBytes {
		cfg.DefaultDownloadBytes = proto.DefaultDownloadSize
	}
	return &Handler{
		cfg:     cfg,
		dir:     dir,
		store:   st,
		gen:     payload.NewGenerator(payload.DefaultCacheEntries),
		metrics: m,
		started: time.Now(),
	}
}

// Routes registers all endpoints on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET(proto.PingPath, h.Ping)
	r.GET(proto.DownloadPath, h.Download)
	r.POST(proto.UploadPath, h.Upload)

	r.GET(proto.ServersPath, h.Servers)
	r.GET(proto.OptimalPath, h.OptimalServer)
	r.POST(proto.ResultsPath, h.SaveResult)
	r.GET(proto.ResultsPath+"/:id", h.GetResult)
	r.GET(proto.StatsPath, h.ServerStats)
	r.GET(proto.MonitorPath, h.Monitor)
}

// Engine builds a gin engine with the handler's routes. Each worker pool
// instance gets its own engine.
func (h *Handler) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	h.Routes(r)
	return r
}

// Ping answers a latency probe with a fixed 4-byte acknowledgement.
func (h *Handler) Ping(c *gin.Context) {
	conn, err := h.dir.Acquire(h.cfg.ServerID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.metrics.ActiveConnections.Inc()
	defer func() {
		h.dir.Release(conn.Token)
		h.metrics.ActiveConnections.Dec()
	}()
	h.metrics.TransfersStarted.WithLabelValues(kindPing).Inc()

	c.Header("Cache-Control", noStore)
	c.Data(http.StatusOK, "application/octet-stream", proto.PingAck)
	h.metrics.TransfersCompleted.WithLabelValues(kindPing).Inc()
}

// Download streams exactly the clamped requested number of bytes. The chunk
// producer rides the socket's flow control: Write does not return until the
// transport can take the chunk, and each chunk is flushed before the next
// one is produced.
func (h *Handler) Download(c *gin.Context) {
	size := h.downloadSize(c.Query("size"))

	conn, err := h.dir.Acquire(h.cfg.ServerID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.metrics.ActiveConnections.Inc()
	defer func() {
		h.dir.Release(conn.Token)
		h.metrics.ActiveConnections.Dec()
	}()
	h.metrics.TransfersStarted.WithLabelValues(kindDownload).Inc()

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", `attachment; filename="speedster.bin"`)
	c.Header("Cache-Control", noStore)
	c.Header("Content-Length", strconv.FormatInt(size, 10))

	chunk, err := h.gen.Bytes(int(min64(size, proto.ChunkSize)))
	if err != nil {
		c.JSON(http.StatusInsufficientStorage, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	start := time.Now()
	var sent int64
	for sent < size {
		select {
		case <-ctx.Done():
			// Client went away mid-transfer. Non-fatal to the service.
			h.metrics.TransferErrors.WithLabelValues(kindDownload).Inc()
			h.metrics.BytesMoved.WithLabelValues(kindDownload).Add(float64(sent))
			return
		default:
		}
		n := min64(size-sent, int64(len(chunk)))
		if _, err := c.Writer.Write(chunk[:n]); err != nil {
			h.metrics.TransferErrors.WithLabelValues(kindDownload).Inc()
			h.metrics.BytesMoved.WithLabelValues(kindDownload).Add(float64(sent))
			return
		}
		c.Writer.Flush()
		sent += n
	}
	elapsed := time.Since(start)
	h.metrics.TransfersCompleted.WithLabelValues(kindDownload).Inc()
	h.metrics.BytesMoved.WithLabelValues(kindDownload).Add(float64(sent))
	zap.L().Sugar().Infow("download complete",
		"instance", h.cfg.Instance,
		"bytes", sent,
		"duration", elapsed,
		"bps", float64(sent*8)/elapsed.Seconds())
}

// Upload counts an incoming body incrementally and reports the achieved
// rate. The body is never buffered whole; bytes beyond the ceiling are cut
// off, not rejected.
func (h *Handler) Upload(c *gin.Context) {
	conn, err := h.dir.Acquire(h.cfg.ServerID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.metrics.ActiveConnections.Inc()
	defer func() {
		h.dir.Release(conn.Token)
		h.metrics.ActiveConnections.Dec()
	}()
	h.metrics.TransfersStarted.WithLabelValues(kindUpload).Inc()

	start := time.Now()
	received, err := io.Copy(io.Discard, io.LimitReader(c.Request.Body, h.cfg.MaxTransferBytes))
	if err != nil {
		h.metrics.TransferErrors.WithLabelValues(kindUpload).Inc()
		zap.L().Sugar().Warnw("upload failed",
			"instance", h.cfg.Instance,
			"bytes", received,
			"err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	h.metrics.TransfersCompleted.WithLabelValues(kindUpload).Inc()
	h.metrics.BytesMoved.WithLabelValues(kindUpload).Add(float64(received))
	c.JSON(http.StatusOK, model.UploadSummary{
		BytesReceived:      received,
		DurationMs:         elapsed.Milliseconds(),
		SpeedBitsPerSecond: float64(received*8) / elapsed.Seconds(),
		Timestamp:          time.Now().UTC(),
	})
}

// downloadSize resolves the size query parameter: unparseable or negative
// values fall back to the default, oversized values are clamped.
func (h *Handler) downloadSize(raw string) int64 {
	if raw == "" {
		return h.cfg.DefaultDownloadBytes
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || size < 0 {
		return h.cfg.DefaultDownloadBytes
	}
	if size > h.cfg.MaxTransferBytes {
		return h.cfg.MaxTransferBytes
	}
	return size
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
