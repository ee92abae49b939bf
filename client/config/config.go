// Package config holds the client-side measurement settings.
package config

import (
	"time"

	"github.com/netmeasure/speedster/pkg/proto"
)

const (
	DefaultPingCount       = 10
	DefaultPingDelay       = 200 * time.Millisecond
	DefaultDownloadBytes   = 100 << 20
	DefaultDownloadStreams = 4
	DefaultUploadBytes     = 25 << 20
)

// Config drives one measurement run.
type Config struct {
	// PingCount sequential probes, PingDelay apart, each bounded by
	// ProbeTimeout.
	PingCount    int
	PingDelay    time.Duration
	ProbeTimeout time.Duration

	// DownloadBytes is split evenly across DownloadStreams parallel
	// sub-transfers.
	DownloadBytes   int64
	DownloadStreams int

	// UploadBytes is sent as a single transfer.
	UploadBytes int64

	// PhaseDeadline bounds the download and upload phases; transfers still
	// in flight at the deadline are abandoned and their partial bytes kept.
	PhaseDeadline time.Duration
}

// New builds a Config from explicit values.
func New(pingCount int, pingDelay time.Duration, downloadBytes int64,
	streams int, uploadBytes int64, deadline time.Duration) *Config {
	return &Config{
		PingCount:       pingCount,
		PingDelay:       pingDelay,
		ProbeTimeout:    proto.ProbeTimeout,
		DownloadBytes:   downloadBytes,
		DownloadStreams: streams,
		UploadBytes:     uploadBytes,
		PhaseDeadline:   deadline,
	}
}

// NewDefault returns the standard run configuration.
func NewDefault() *Config {
	return New(DefaultPingCount, DefaultPingDelay, DefaultDownloadBytes,
		DefaultDownloadStreams, DefaultUploadBytes, proto.PhaseDeadline)
}
