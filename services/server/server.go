// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package server assembles the FIRST service: relational store, engine
// indexes, the similarity pipeline and the REST facade.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Cisco-Talos/FIRST-server/pkg/logging"
	"github.com/Cisco-Talos/FIRST-server/services/core/engines"
	"github.com/Cisco-Talos/FIRST-server/services/core/storage/badger"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
	"github.com/Cisco-Talos/FIRST-server/services/server/handlers"
	"github.com/Cisco-Talos/FIRST-server/services/server/observability"
	"github.com/Cisco-Talos/FIRST-server/services/server/routes"
)

// StockEngines is the built-in engine catalog installed on first start.
var StockEngines = []struct {
	Name        string
	Description string
	ClassName   string
}{
	{"ExactMatch",
		"Hashes the function's opcodes and finds direct matches",
		"exact_match"},
	{"MnemonicHash",
		"Uses mnemonics from the opcodes to generate a hash " +
			"(architecture support limited to: intel16, intel32, intel64, " +
			"arm32, arm64, ppc, ppc32, ppc64). Requires at least 8 mnemonics.",
		"mnemonic_hash"},
	{"BasicMasking",
		"Masks calls/jmps offsets. Requires at least 8 instructions.",
		"basic_masking"},
	{"Catalog1",
		"catalog1 sensitive hashing algorithm by xorpd",
		"catalog1"},
}

// Server is the assembled service. Create with New, then Run.
type Server struct {
	cfg     Config
	logger  *logging.Logger
	store   *store.Store
	index   *badger.DB
	manager *engines.Manager
	router  *gin.Engine
	cleanup func(context.Context)
}

// New opens storage, seeds and loads the engine catalog and builds the
// HTTP router.
func New(cfg Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "first-server",
	})
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	indexCfg := badger.DefaultConfig()
	indexCfg.Path = cfg.IndexPath
	indexCfg.Logger = logger.Logger
	index, err := badger.Open(indexCfg)
	if err != nil {
		s.Close()
		logger.Close()
		return nil, fmt.Errorf("open engine index: %w", err)
	}

	srv := &Server{cfg: cfg, logger: logger, store: s, index: index}
	if err := srv.seedEngines(context.Background()); err != nil {
		srv.Close()
		return nil, err
	}

	deps := engines.Deps{Store: s, Index: index, Logger: logger.Logger}
	srv.manager, err = engines.LoadActiveEngines(context.Background(), deps)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("load engines: %w", err)
	}

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		srv.cleanup = cleanup
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.OTLPEndpoint != "" {
		router.Use(otelgin.Middleware("first-server"))
	}
	routes.SetupRoutes(router, &handlers.Deps{
		Store:   s,
		Manager: srv.manager,
		Metrics: observability.NewMetrics(prometheus.DefaultRegisterer),
		Logger:  logger.Logger,
	})
	srv.router = router
	return srv, nil
}

// seedEngines installs the stock catalog rows when missing, activating
// them on a fresh database so the service matches out of the box.
func (s *Server) seedEngines(ctx context.Context) error {
	existing, err := s.store.Engines(ctx, false)
	if err != nil {
		return fmt.Errorf("read engine catalog: %w", err)
	}
	fresh := len(existing) == 0

	for _, stock := range StockEngines {
		if _, err := s.store.EngineByName(ctx, stock.Name); err == nil {
			continue
		}
		if _, err := s.store.InstallEngine(ctx, stock.Name, stock.Description, stock.ClassName, 0); err != nil {
			return fmt.Errorf("install engine %s: %w", stock.Name, err)
		}
		if fresh {
			if err := s.store.SetEngineActive(ctx, stock.Name, true); err != nil {
				return fmt.Errorf("activate engine %s: %w", stock.Name, err)
			}
		}
	}
	return nil
}

// Run serves HTTP until the listener fails. Blocking.
func (s *Server) Run() error {
	s.logger.Info("starting FIRST server",
		slog.Int("port", s.cfg.Port),
		slog.String("database", s.cfg.DatabasePath),
		slog.Int("engines", len(s.manager.Engines())))
	return s.router.Run(fmt.Sprintf(":%d", s.cfg.Port))
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close releases storage and flushes tracing.
func (s *Server) Close() {
	if s.cleanup != nil {
		s.cleanup(context.Background())
	}
	if s.index != nil {
		s.index.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.logger != nil {
		s.logger.Close()
	}
}

// initTracer wires OTLP trace export over gRPC to the collector at
// endpoint. The returned cleanup flushes the exporter.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("first-server")))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
