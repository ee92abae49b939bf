package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/netmeasure/speedster/internal/config"
	"github.com/netmeasure/speedster/internal/directory"
	"github.com/netmeasure/speedster/internal/handler"
	"github.com/netmeasure/speedster/internal/store"
	"github.com/netmeasure/speedster/internal/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	flagConfig  = flag.String("config", "speedster.yaml", "Path to the server configuration (written with defaults if missing)")
	flagListen  = flag.String("listen", "", "Override the configured listen address")
	flagWorkers = flag.Int("workers", 0, "Override the configured instance count")
)

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	rtx.Must(err, "Could not create logger")
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	cfg, err := config.LoadAndValidate(*flagConfig)
	rtx.Must(err, "Could not load configuration")
	if *flagListen != "" {
		cfg.Listen = *flagListen
	}
	if *flagWorkers != 0 {
		cfg.Workers = *flagWorkers
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	rtx.Must(err, "Could not listen on "+cfg.Listen)

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	size := workerpool.Size(cfg.Workers)

	// Metrics live per slot, not per instance start, so a restarted
	// instance keeps accumulating into the same counters.
	metrics := make([]*handler.Metrics, size)
	for i := range metrics {
		metrics[i] = handler.NewMetrics(prometheus.DefaultRegisterer, strconv.Itoa(i))
	}

	// Each instance gets its own directory, store and payload cache:
	// instances share nothing but the listening endpoint.
	build := func(instance int) workerpool.Instance {
		dir, err := directory.New(cfg.Servers)
		rtx.Must(err, "Could not build server directory")
		h := handler.New(handler.Config{
			Instance:             strconv.Itoa(instance),
			ServerID:             cfg.ServerID,
			MaxTransferBytes:     cfg.MaxTransferBytes,
			DefaultDownloadBytes: cfg.DefaultDownloadBytes,
		}, dir, store.New(), metrics[instance])
		return &workerpool.HTTPInstance{Server: &http.Server{Handler: h.Engine()}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Sugar().Infow("speedster server starting",
		"listen", cfg.Listen,
		"instances", size,
		"server_id", cfg.ServerID)
	workerpool.New(listener, size, build).Run(ctx)
	zap.L().Sugar().Info("speedster server stopped")
}
