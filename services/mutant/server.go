// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mutant assembles the mutant DNA classification server.
//
// This package wires the components of the service together: the record
// store selected by configuration, the classification service, the HTTP
// router and the observability stack.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	srv, err := mutant.New(mutant.Config{MutantConfig: cfg}, nil)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx) // returns after ctx is cancelled and connections drain
//
// Deployments that need an audit trail pass extension options:
//
//	opts := extensions.DefaultOptions().WithAudit(myAudit)
//	srv, err := mutant.New(cfg, &opts)
package mutant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/extensions"
	"github.com/AleutianAI/MutantDX/pkg/logging"
	"github.com/AleutianAI/MutantDX/services/mutant/config"
	"github.com/AleutianAI/MutantDX/services/mutant/middleware"
	"github.com/AleutianAI/MutantDX/services/mutant/observability"
	"github.com/AleutianAI/MutantDX/services/mutant/routes"
	"github.com/AleutianAI/MutantDX/services/mutant/service"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
	"github.com/AleutianAI/MutantDX/services/mutant/storage/badger"
	"github.com/AleutianAI/MutantDX/services/mutant/storage/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// Version is reported by the CLI and attached to trace resources.
var Version = "dev"

// =============================================================================
// Interface Definition
// =============================================================================

// Server is the mutant classification server.
//
// # Thread Safety
//
// Run must be called at most once. Router and Service are safe to call
// concurrently with Run.
type Server interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully and
	// releases every resource. A nil return means a clean shutdown.
	Run(ctx context.Context) error

	// Router returns the configured gin engine.
	Router() *gin.Engine

	// Service returns the classification service behind the router.
	Service() *service.Service

	// Close releases resources without serving. Idempotent; Run calls it.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures New. Zero-valued sections are filled from
// config.DefaultConfig.
type Config struct {
	config.MutantConfig

	// Listener replaces the listener on Server.Port (tests).
	Listener net.Listener

	// Registry receives the service metrics and backs /metrics.
	// Default: a new registry with Go and process collectors.
	Registry *prometheus.Registry

	// Logger replaces the logger built from the Logging section.
	Logger *slog.Logger

	// Clock replaces time.Now for record creation dates.
	Clock storage.Clock
}

// server implements Server.
type server struct {
	config   Config
	logger   *slog.Logger
	ownedLog *logging.Logger

	store    storage.RecordStore
	svc      *service.Service
	registry *prometheus.Registry
	router   *gin.Engine
	opts     extensions.ServiceOptions

	tracerShutdown observability.ShutdownFunc
	closeOnce      sync.Once
	closeErr       error
}

// New builds a Server from cfg.
//
// # Description
//
// Initialization order: logger, tracer, metrics registry, record store,
// classification service, router. A failure releases everything already
// initialized.
//
// # Inputs
//
//   - cfg: Server configuration.
//   - opts: Extension hooks. Nil uses extensions.DefaultOptions().
//
// # Outputs
//
//   - Server: Ready to Run.
//   - error: Invalid configuration, or a store or tracer failure.
func New(cfg Config, opts *extensions.ServiceOptions) (Server, error) {
	s := &server{config: applyConfigDefaults(cfg)}
	if err := config.Validate(s.config.MutantConfig); err != nil {
		return nil, err
	}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if err := s.initLogger(); err != nil {
		return nil, err
	}

	shutdown, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		ServiceName:    s.config.Telemetry.ServiceName,
		ServiceVersion: Version,
		Exporter:       s.config.Telemetry.TraceExporter,
		OTLPEndpoint:   s.config.Telemetry.OTLPEndpoint,
		OTLPInsecure:   s.config.Telemetry.OTLPInsecure,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerShutdown = shutdown

	s.registry = s.config.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	s.store, err = OpenStore(s.config.Storage, s.logger, s.config.Clock)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.svc, err = service.New(s.store,
		service.WithLogger(s.logger),
		service.WithMetrics(observability.NewMetrics(s.registry)),
		service.WithExtensions(s.opts),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}

	s.initRouter()
	return s, nil
}

// OpenStore opens the record store selected by cfg.Driver. clock may be nil.
func OpenStore(cfg config.StorageConfig, logger *slog.Logger, clock storage.Clock) (storage.RecordStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		var opts []sqlite.Option
		if clock != nil {
			opts = append(opts, sqlite.WithClock(clock))
		}
		store, err := sqlite.Open(sqlite.OpenConfig{Path: cfg.Path, BusyTimeout: cfg.BusyTimeout()}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverBadger:
		bcfg := badger.DefaultConfig(cfg.Path)
		if cfg.Path == "" {
			bcfg = badger.InMemoryConfig()
		}
		bcfg.Logger = logger
		var opts []badger.Option
		if clock != nil {
			opts = append(opts, badger.WithClock(clock))
		}
		store, err := badger.Open(bcfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

// =============================================================================
// Server Interface Methods
// =============================================================================

// Run implements Server.
func (s *server) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	ln := s.config.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", s.config.Server.Port, err)
		}
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting mutant server", "addr", ln.Addr().String(), "storage", s.config.Storage.Driver)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down mutant server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout())
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Router implements Server.
func (s *server) Router() *gin.Engine {
	return s.router
}

// Service implements Server.
func (s *server) Service() *service.Service {
	return s.svc
}

// Close implements Server.
func (s *server) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if s.opts.AuditLogger != nil {
			if err := s.opts.AuditLogger.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush audit log: %w", err))
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		if s.tracerShutdown != nil {
			if err := s.tracerShutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
			}
		}
		if len(errs) > 0 && s.logger != nil {
			s.logger.Warn("Cleanup finished with errors", "error", errors.Join(errs...))
		}
		if s.ownedLog != nil {
			if err := s.ownedLog.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills zero-valued sections from config.DefaultConfig.
func applyConfigDefaults(cfg Config) Config {
	def := config.DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.GinMode == "" {
		cfg.Server.GinMode = def.Server.GinMode
	}
	if cfg.Server.ShutdownTimeoutMs == 0 {
		cfg.Server.ShutdownTimeoutMs = def.Server.ShutdownTimeoutMs
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = def.Storage.Path
		}
	}
	if cfg.Storage.BusyTimeoutMs == 0 {
		cfg.Storage.BusyTimeoutMs = def.Storage.BusyTimeoutMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = def.Logging.Service
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = def.Telemetry.TraceExporter
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	return cfg
}

func (s *server) initLogger() error {
	if s.config.Logger != nil {
		s.logger = s.config.Logger
		return nil
	}
	level, err := logging.ParseLevel(s.config.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	format, err := logging.ParseFormat(s.config.Logging.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	s.ownedLog = logging.New(logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  s.config.Logging.LogDir,
		Service: s.config.Logging.Service,
	})
	s.logger = s.ownedLog.Slog()
	return nil
}

func (s *server) initRouter() {
	gin.SetMode(s.config.Server.GinMode)
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(s.config.Telemetry.ServiceName),
		middleware.RequestID(nil),
		middleware.AccessLog(s.logger),
	)

	routes.SetupRoutes(s.router, s.svc, routes.Options{
		MaxRows:      s.config.Server.MaxRows,
		MaxBodyBytes: s.config.Server.MaxBodyBytes,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: s.config.Server.RateLimit.RPS,
			Burst:             s.config.Server.RateLimit.Burst,
		},
		Gatherer: s.registry,
		Logger:   s.logger,
	})
}
