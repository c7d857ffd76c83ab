// Package server assembles the storage daemon: the content store, the
// protocol facade, and the background workers around them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/eniz1806/omnistore/internal/accesslog"
	"github.com/eniz1806/omnistore/internal/config"
	"github.com/eniz1806/omnistore/internal/facade"
	"github.com/eniz1806/omnistore/internal/metadata"
	"github.com/eniz1806/omnistore/internal/metrics"
	"github.com/eniz1806/omnistore/internal/middleware"
	"github.com/eniz1806/omnistore/internal/notify"
	"github.com/eniz1806/omnistore/internal/objstore"
	"github.com/eniz1806/omnistore/internal/ratelimit"
	"github.com/eniz1806/omnistore/internal/reconcile"
	"github.com/eniz1806/omnistore/internal/storage"
)

const metadataFile = "omnistore.db"

type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	meta        *metadata.Store
	store       *objstore.Store
	metrics     *metrics.Collector
	accessLog   *accesslog.AccessLogger
	notifyDisp  *notify.Dispatcher
	rateLimiter *ratelimit.Limiter
	reconciler  *reconcile.Worker
	handler     http.Handler
}

// observers fans one request record out to several sinks.
type observers []facade.Observer

func (o observers) ObserveRequest(info facade.RequestInfo) {
	for _, obs := range o {
		obs.ObserveRequest(info)
	}
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := storage.NewFileSystem(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.MetadataDir, 0755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	meta, err := metadata.NewStore(filepath.Join(cfg.Storage.MetadataDir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("init metadata: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger, meta: meta}
	s.store = objstore.New(engine, meta, objstore.Options{
		Fingerprint: cfg.FingerprintAlgorithm(),
		Logger:      logger.With("component", "store"),
	})
	s.metrics = metrics.NewCollector(s.store)

	sinks := observers{s.metrics}
	if cfg.Logging.AccessLogEnabled {
		s.accessLog, err = accesslog.NewAccessLogger(cfg.Logging.AccessLogPath)
		if err != nil {
			meta.Close()
			return nil, fmt.Errorf("init access logger: %w", err)
		}
		sinks = append(sinks, s.accessLog)
		logger.Info("access logging enabled", "path", cfg.Logging.AccessLogPath)
	}

	s.notifyDisp = newDispatcher(cfg.Notifications, logger, s.metrics)
	s.store.Subscribe(s.notifyDisp.Dispatch)

	fh, err := facade.New(s.store, facade.Options{
		Logger:             logger.With("component", "facade"),
		Compression:        cfg.Compression.Enabled,
		CompressionMinSize: cfg.Compression.MinSizeBytes,
		Observer:           sinks,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.reconciler = reconcile.NewWorker(s.store,
		cfg.Storage.ReconcileInterval(), cfg.Storage.OrphanGrace(),
		s.metrics, logger.With("component", "reconcile"))

	var h http.Handler = routes(s.metrics, fh)
	if cfg.RateLimit.Enabled {
		s.rateLimiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst)
		h = s.rateLimiter.Middleware(h)
		logger.Info("rate limiting enabled", "rps", cfg.RateLimit.RequestsPerSec, "burst", cfg.RateLimit.Burst)
	}
	h = middleware.Latency(s.metrics, h)
	h = middleware.APIHeaders(h)
	h = middleware.RequestID(h)
	s.handler = middleware.PanicRecovery(logger, h)

	return s, nil
}

// routes sends /metrics to the collector and everything else to the facade.
// Paths are passed through uncleaned: keys may contain "//", "/./" or "/../".
func routes(metricsHandler, facadeHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			metricsHandler.ServeHTTP(w, r)
			return
		}
		facadeHandler.ServeHTTP(w, r)
	})
}

func newDispatcher(nc config.NotificationsConfig, logger *slog.Logger, mc *metrics.Collector) *notify.Dispatcher {
	d := notify.NewDispatcher(notify.Options{
		MaxWorkers: nc.MaxWorkers,
		QueueSize:  nc.QueueSize,
		MaxRetries: nc.MaxRetries,
		Timeout:    nc.Timeout(),
		Events:     nc.Events,
		Logger:     logger.With("component", "notify"),
		OnDrop:     mc.RecordEventDropped,
	})

	for _, url := range nc.Webhooks {
		d.AddBackend(notify.NewWebhookBackend(url, nil))
	}
	if nc.Kafka.Enabled && len(nc.Kafka.Brokers) > 0 && nc.Kafka.Topic != "" {
		d.AddBackend(notify.NewKafkaBackend(nc.Kafka.Brokers, nc.Kafka.Topic, nc.Kafka.Compression))
	}
	if nc.NATS.Enabled && nc.NATS.URL != "" && nc.NATS.Subject != "" {
		nb, err := notify.NewNATSBackend(nc.NATS.URL, nc.NATS.Subject, nc.NATS.PerBucket)
		if err != nil {
			logger.Warn("NATS backend failed to connect", "url", nc.NATS.URL, "error", err)
		} else {
			d.AddBackend(nb)
		}
	}
	if nc.Redis.Enabled && nc.Redis.Addr != "" {
		d.AddBackend(notify.NewRedisBackend(notify.RedisOptions{
			Addr:       nc.Redis.Addr,
			Password:   nc.Redis.Password,
			DB:         nc.Redis.DB,
			Channel:    nc.Redis.Channel,
			ListKey:    nc.Redis.ListKey,
			ListMaxLen: nc.Redis.ListMaxLen,
		}))
	}
	return d
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout(),
		WriteTimeout: s.cfg.Server.WriteTimeout(),
		IdleTimeout:  s.cfg.Server.IdleTimeout(),
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	s.notifyDisp.Start(workerCtx)
	go s.reconciler.Run(workerCtx)

	tls := s.cfg.Server.TLS
	s.logger.Info("omnistore starting",
		"addr", addr,
		"tls", tls.Enabled,
		"data_dir", s.cfg.Storage.DataDir,
		"metadata_dir", s.cfg.Storage.MetadataDir,
		"fingerprint", s.store.Algorithm(),
		"compression", s.cfg.Compression.Enabled,
		"reconcile_interval", s.cfg.Storage.ReconcileInterval(),
	)

	errCh := make(chan error, 1)
	go func() {
		if tls.Enabled {
			errCh <- httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		s.notifyDisp.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")
	}

	timeout := s.cfg.Server.ShutdownTimeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	// Queued notifications are drained before the workers lose their context.
	s.notifyDisp.Stop()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("graceful shutdown timed out", "timeout", timeout, "error", err)
		return err
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// Close releases everything New acquired. Safe to call after Run.
func (s *Server) Close() {
	if s.notifyDisp != nil {
		s.notifyDisp.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.accessLog != nil {
		s.accessLog.Close()
	}
	if s.meta != nil {
		s.meta.Close()
	}
}
