package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/tr-translate/internal/api"
	"github.com/snarg/tr-translate/internal/config"
	"github.com/snarg/tr-translate/internal/database"
	"github.com/snarg/tr-translate/internal/ingest"
	"github.com/snarg/tr-translate/internal/metrics"
	"github.com/snarg/tr-translate/internal/mqttclient"
	"github.com/snarg/tr-translate/internal/storage"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.Provider, "provider", "", "translation provider, OLLAMA or OPENAI (overrides TRANSLATION_PROVIDER)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString("tr-translate " + version + "\n")
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("provider", cfg.Provider().Label()).
		Msg("tr-translate starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database (optional)
	var (
		db       *database.DB
		pool     *pgxpool.Pool
		segments ingest.SegmentStore
		apiStore api.SegmentStore
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.Database(), dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		pool = db.Pool
		segments = db
		apiStore = db
	} else {
		log.Info().Msg("DATABASE_URL not set, transcription segment routes disabled")
	}

	// Export storage
	exports, exportStopper, err := storage.New(cfg.S3, cfg.ExportDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize export storage")
	}
	log.Info().Str("type", exports.Type()).Str("export_dir", cfg.ExportDir).Msg("export storage ready")

	// MQTT (optional)
	var (
		mqtt      *mqttclient.Client
		publisher ingest.Publisher
		mqttStat  api.MQTTStatus
	)
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTopics,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		publisher = mqtt
		mqttStat = mqtt
	}

	// Ingest pipeline and translation relay
	pipeline, err := ingest.NewPipeline(ingest.PipelineOptions{
		Translate:     cfg.Translate(),
		DB:            segments,
		Retention:     cfg.SegmentRetention,
		MQTT:          publisher,
		ResultTopic:   cfg.MQTTResultTopic,
		Exports:       exports,
		WatchDir:      cfg.WatchDir,
		WatchBackfill: cfg.WatchBackfill,
		Log:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ingest pipeline")
	}
	if err := pipeline.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start ingest pipeline")
	}
	if mqtt != nil {
		mqtt.SetMessageHandler(pipeline.HandleMessage)
	}

	prometheus.MustRegister(metrics.NewCollector(pool, pipeline))

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:     cfg,
		Translator: pipeline,
		Live:       pipeline,
		DB:         apiStore,
		MQTT:       mqttStat,
		Exports:    exports,
		Version:    version,
		StartTime:  startTime,
		Log:        log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown: HTTP first (open event streams are ended), then
	// intake, then the relay and its pending writes and exports.
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if mqtt != nil {
		mqtt.Close()
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	stopped := make(chan struct{})
	go func() {
		pipeline.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-stopCtx.Done():
		log.Warn().Msg("translation relay did not stop in time, pending writes may be lost")
	}

	exportStopper.Stop()
	if db != nil {
		db.Close()
	}

	log.Info().Msg("tr-translate stopped")
}
