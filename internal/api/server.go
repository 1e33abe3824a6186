package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/tr-translate/internal/config"
	"github.com/snarg/tr-translate/internal/metrics"
	"github.com/snarg/tr-translate/internal/storage"
)

// MQTTStatus reports broker connectivity for the health check.
type MQTTStatus interface {
	IsConnected() bool
}

type ServerOptions struct {
	Config     *config.Config
	Translator Translator
	Live       LiveDataSource
	DB         SegmentStore        // nil when DATABASE_URL is unset
	MQTT       MQTTStatus          // nil when MQTT_BROKER_URL is unset
	Exports    storage.ExportStore // nil disables the export route
	Version    string
	StartTime  time.Time
	Log        zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger

	// closing is closed when Shutdown begins so long-lived SSE streams end
	// and let the server drain.
	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	health := NewHealthHandler(opts.Translator, opts.DB, opts.MQTT, opts.Live, opts.Version, opts.StartTime)
	translations := NewTranslationsHandler(opts.Translator)
	closing := make(chan struct{})
	events := NewEventsHandler(opts.Live, closing)
	transcriptions := NewTranscriptionsHandler(opts.DB, opts.Live, opts.Exports)
	segments := NewSegmentsHandler(opts.DB)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			translations.Routes(r)
			events.Routes(r)
			transcriptions.Routes(r)
			segments.Routes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
			translations.WriteRoutes(r)
			transcriptions.WriteRoutes(r)
			segments.WriteRoutes(r)
		})
	})

	s := &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log:     opts.Log,
		closing: closing,
	}
	s.http.RegisterOnShutdown(s.closeStreams)
	return s
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server starting")
	err := s.http.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown ends open event streams and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
