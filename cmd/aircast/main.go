package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aircast-dev/aircast/internal/api"
	"github.com/aircast-dev/aircast/internal/config"
	"github.com/aircast-dev/aircast/internal/metrics"
	"github.com/aircast-dev/aircast/internal/playout"
	"github.com/aircast-dev/aircast/internal/schedule"
	"github.com/aircast-dev/aircast/internal/station"
	"github.com/aircast-dev/aircast/internal/storage/sqlite"
	"github.com/aircast-dev/aircast/internal/websocket"
	"github.com/aircast-dev/aircast/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "aircast.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Fatal error", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	sampleStorage, err := sqlite.NewSampleStorage(db, log)
	if err != nil {
		return fmt.Errorf("failed to initialize sample storage: %w", err)
	}

	resolver := schedule.NewStaticResolver(cfg.Channels)
	director := schedule.NewStaticDirector(cfg.Channels)
	runner := playout.NewExecRunner(log)

	baseline := time.Now().UTC()
	st, err := station.New(cfg, baseline, resolver, director, runner, sampleStorage, log)
	if err != nil {
		return fmt.Errorf("failed to build station: %w", err)
	}

	exporter := metrics.NewExporter()
	for _, rt := range st.Runtimes() {
		rt := rt
		exporter.RegisterChannel(rt.Manager().ID(),
			rt.Manager().ChannelMetrics,
			rt.Publisher().IsSampleFresh)
	}

	feedInterval := time.Duration(float64(time.Second) / cfg.Metrics.SampleHz)
	wsServer := websocket.NewServer(func(channelID string) (metrics.ChannelMetricsSample, bool) {
		rt, ok := st.Runtime(channelID)
		if !ok {
			return metrics.ChannelMetricsSample{}, false
		}
		return rt.Manager().ChannelMetrics(), true
	}, feedInterval, log)

	router := api.NewRouter(st, sampleStorage, wsServer, exporter, cfg, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router.Routes()}

	st.Start()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	log.Info("Aircast started",
		logger.String("addr", addr),
		logger.Int("channels", len(cfg.Channels)),
		logger.String("db", cfg.Storage.Path),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		st.Stop()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	wsServer.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}
	st.Stop()

	log.Info("Aircast stopped")
	return nil
}
