package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campustrack/busrelay/internal/config"
	"github.com/campustrack/busrelay/internal/feed"
	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/metadata"
	"github.com/campustrack/busrelay/internal/observability"
	"github.com/campustrack/busrelay/internal/relay"
	"github.com/campustrack/busrelay/internal/server"
	"github.com/campustrack/busrelay/internal/stream"
	"github.com/campustrack/busrelay/internal/ws"
)

var (
	configPath = flag.String("config", "", "path to config.yml (default: ./config.yml or ./configs/config.yml)")
	httpPort   = flag.Int("port", 0, "HTTP port, overrides server.port")
	staticDir  = flag.String("static", "", "directory of viewer assets served at /")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *httpPort != 0 {
		cfg.Server.Port = *httpPort
	}
	log := logging.NewFromEnv(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "busrelay exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, log logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownTracing(shutdownTracing, log)

	metrics, err := observability.NewRelayCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	catalog := metadata.NewCatalog(cfg.Metadata.Routes, cfg.Metadata.Buses)

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	opts := []relay.Option{
		relay.WithLogger(log),
		relay.WithMetrics(metrics),
		relay.WithMetadata(catalog),
		relay.WithSkewTolerance(cfg.Relay.SkewTolerance()),
		relay.WithReapQueueSize(cfg.Relay.ReapQueueSize),
		relay.WithOfflineAfter(cfg.Relay.OfflineAfter()),
	}
	var history *stream.HistoryWriter
	if cfg.Kafka.Enabled() && cfg.Kafka.HistoryTopic != "" {
		history = stream.NewHistoryWriter(cfg.Kafka.Brokers, cfg.Kafka.HistoryTopic, 0, log)
		opts = append(opts, relay.WithHistory(history))
	}
	hub := relay.New(opts...)
	spawn(hub.Run)
	if history != nil {
		spawn(history.Run)
	}

	if cfg.Metadata.BackendURL != "" {
		dir := metadata.NewDirectory(catalog, cfg.Metadata.BackendURL,
			cfg.Metadata.RefreshInterval(), cfg.Feed.Timeout(), log)
		spawn(dir.Run)
	}

	if cfg.Feed.Enabled() {
		poller := feed.NewPoller(selectFeed(cfg.Feed), hub, feed.PollerConfig{
			MinRefresh:     time.Duration(cfg.Feed.RefreshMinSecs) * time.Second,
			Timeout:        cfg.Feed.Timeout(),
			DefaultRouteID: cfg.Feed.DefaultRouteID,
		}, log)
		spawn(poller.Run)
	}

	if cfg.Kafka.Enabled() {
		consumer := stream.NewConsumer(stream.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, hub, log)
		spawn(func(ctx context.Context) {
			if err := consumer.Run(ctx); err != nil {
				log.Error(ctx, "kafka consumer stopped", logging.Err(err))
			}
		})
	}

	router := server.NewRouter(server.Deps{
		Hub:     hub,
		Catalog: catalog,
		WebSocket: ws.NewHandler(hub, ws.Config{
			SendQueueSize:  cfg.WebSocket.SendQueueSize,
			WriteTimeout:   cfg.WebSocket.WriteTimeout(),
			PongTimeout:    cfg.WebSocket.PongTimeout(),
			PingInterval:   cfg.WebSocket.PingInterval(),
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		}, log),
		Metrics:   metrics,
		Log:       log,
		StaticDir: *staticDir,
	})
	srv := server.New(cfg.Server.Port, router)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", logging.String("addr", fmt.Sprintf("http://localhost:%d/", cfg.Server.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutdown initiated")
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP server shutdown error", logging.Err(err))
	} else {
		log.Info(shutdownCtx, "HTTP server shut down successfully")
	}
	wg.Wait()
	return nil
}

func selectFeed(cfg config.FeedConfig) feed.VehicleFeedSource {
	switch {
	case cfg.GTFSRTURL != "":
		return feed.NewGtfsRtSource(cfg.GTFSRTURL, cfg.Timeout())
	case cfg.SiriXMLURL != "":
		return feed.NewSiriXmlSource(cfg.SiriXMLURL, cfg.Timeout())
	default:
		return feed.NewSiriJsonSource(cfg.SiriJSONURL, cfg.Timeout())
	}
}
