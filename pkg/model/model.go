// Package model contains the data structures exchanged between the speedster
// server, client and result store.
package model

import (
	"strconv"
	"time"
)

// Phase is one sequential stage of a measurement run.
type Phase string

const (
	PhasePing     = Phase("ping")
	PhaseDownload = Phase("download")
	PhaseUpload   = Phase("upload")
	PhaseJitter   = Phase("jitter")
)

// ServerStatus is the administrative state of a measurement server.
type ServerStatus string

const (
	StatusOnline  = ServerStatus("online")
	StatusOffline = ServerStatus("offline")
)

// Coordinates is a (latitude, longitude) pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// TestServer describes one measurement server in the directory.
//
// Distance and Latency are only populated on ranked listings. Latency is a
// placeholder derived from distance, not a measured value.
type TestServer struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Location    string       `json:"location" yaml:"location"`
	Country     string       `json:"country" yaml:"country"`
	Coordinates Coordinates  `json:"coordinates" yaml:"coordinates"`
	Host        string       `json:"host" yaml:"host"`
	Port        int          `json:"port" yaml:"port"`
	Capacity    int          `json:"capacity" yaml:"capacity"`
	Status      ServerStatus `json:"status" yaml:"status"`

	ActiveConnections int `json:"activeConnections" yaml:"-"`

	Distance float64 `json:"distance,omitempty" yaml:"-"`
	Latency  int     `json:"latency,omitempty" yaml:"-"`
}

// Endpoint returns the host:port address of the server's transfer endpoint.
func (s *TestServer) Endpoint() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// TestResult is the archival record of one completed measurement run. It is
// immutable once stored.
type TestResult struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ServerID  string    `json:"serverId"`

	// Ping and Jitter are in milliseconds. Download and Upload are in
	// bits per second. PacketLoss is a percentage in [0, 100].
	Ping       float64 `json:"ping"`
	Jitter     float64 `json:"jitter"`
	Download   float64 `json:"download"`
	Upload     float64 `json:"upload"`
	PacketLoss float64 `json:"packetLoss"`

	QualityScore int    `json:"qualityScore"`
	QualityLabel string `json:"qualityLabel"`

	ClientIP  string `json:"clientIp,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ServerStats is the running per-server aggregate maintained by the result
// store. Averages are online means, updated incrementally on every submission.
type ServerStats struct {
	TotalTests  int       `json:"totalTests"`
	AvgPing     float64   `json:"avgPing"`
	AvgDownload float64   `json:"avgDownload"`
	AvgUpload   float64   `json:"avgUpload"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ServerStatsEntry joins a directory entry with its accumulated stats. Stats
// is nil for servers that have not received any results yet.
type ServerStatsEntry struct {
	Server TestServer   `json:"server"`
	Stats  *ServerStats `json:"stats,omitempty"`
}

// UploadSummary is the response body of the upload endpoint.
type UploadSummary struct {
	BytesReceived      int64     `json:"bytesReceived"`
	DurationMs         int64     `json:"durationMs"`
	SpeedBitsPerSecond float64   `json:"speedBitsPerSecond"`
	Timestamp          time.Time `json:"timestamp"`
}

// SaveResponse is the response body of the save-result endpoint.
type SaveResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}
