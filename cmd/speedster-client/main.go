package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/m-lab/go/rtx"
	"github.com/netmeasure/speedster/client"
	"github.com/netmeasure/speedster/client/config"
	"github.com/netmeasure/speedster/client/emitter"
	"github.com/netmeasure/speedster/client/locate"
	"github.com/netmeasure/speedster/pkg/model"
	"go.uber.org/zap"
)

var (
	flagServer   = flag.String("server", "localhost:8080", "Coordinator address (host:port)")
	flagLat      = flag.String("lat", "", "Client latitude for server ranking")
	flagLon      = flag.String("lon", "", "Client longitude for server ranking")
	flagStreams  = flag.Int("streams", config.DefaultDownloadStreams, "Parallel download streams")
	flagPings    = flag.Int("pings", config.DefaultPingCount, "Latency probes to send")
	flagDeadline = flag.Duration("deadline", 0, "Phase deadline override")
	flagQuiet    = flag.Bool("quiet", false, "Only print the final result JSON")
)

func main() {
	flag.Parse()

	logger, err := zap.NewDevelopment()
	rtx.Must(err, "Could not create logger")
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	coords := parseCoords(*flagLat, *flagLon)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := locate.New().Best(ctx, "http://"+*flagServer, coords)
	rtx.Must(err, "Could not select a measurement server")
	zap.L().Sugar().Infow("selected server",
		"id", server.ID,
		"name", server.Name,
		"endpoint", server.Endpoint())

	cfg := config.NewDefault()
	cfg.DownloadStreams = *flagStreams
	cfg.PingCount = *flagPings
	if *flagDeadline > 0 {
		cfg.PhaseDeadline = *flagDeadline
	}

	var e emitter.Emitter = &emitter.LogEmitter{}
	if *flagQuiet {
		e = emitter.NullEmitter{}
	}
	o := client.NewWithConfig(server, cfg, e)

	// An interrupt cancels the run cooperatively via Stop.
	go func() {
		<-ctx.Done()
		o.Stop()
	}()

	result, err := o.Run(context.Background())
	rtx.Must(err, "Measurement failed")

	out, err := json.MarshalIndent(result, "", "  ")
	rtx.Must(err, "Could not encode result")
	os.Stdout.Write(append(out, '\n'))
}

// parseCoords returns nil unless both values parse, matching the server's
// fallback-to-primary behavior for unknown locations.
func parseCoords(latRaw, lonRaw string) *model.Coordinates {
	if latRaw == "" || lonRaw == "" {
		return nil
	}
	lat, err1 := strconv.ParseFloat(latRaw, 64)
	lon, err2 := strconv.ParseFloat(lonRaw, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &model.Coordinates{Lat: lat, Lon: lon}
}
