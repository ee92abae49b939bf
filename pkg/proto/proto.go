// Package proto holds the wire-level paths, defaults and limits shared by the
// speedster server and client.
package proto

import "time"

const (
	PingPath     = "/ping"
	DownloadPath = "/download"
	UploadPath   = "/upload"

	ServersPath = "/api/servers"
	OptimalPath = "/api/servers/optimal"
	ResultsPath = "/api/results"
	StatsPath   = "/api/stats"
	MonitorPath = "/ws/monitor"

	// ChunkSize is the unit in which download payloads are streamed.
	ChunkSize = 128 << 10

	// DefaultDownloadSize is served when the size parameter is absent or
	// not a parseable non-negative integer.
	DefaultDownloadSize = 10 << 20

	// MaxTransferSize caps both download and upload transfers. Larger
	// requests are clamped, not rejected.
	MaxTransferSize = 100 << 20

	// ProbeTimeout bounds a single latency probe.
	ProbeTimeout = 5 * time.Second

	// PhaseDeadline bounds the download and upload phases.
	PhaseDeadline = 10 * time.Second
)

// PingAck is the fixed acknowledgement body returned by the ping endpoint.
var PingAck = []byte("pong")
