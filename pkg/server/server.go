// Package server wires the subsystems into one runnable process: stores,
// locks, cache, sync engine, conflict detection, transactions, session
// registry, router, hub, and the gRPC and HTTP surfaces.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/api"
	"github.com/playforge/arcadia/pkg/api/handlers"
	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/config"
	"github.com/playforge/arcadia/pkg/conflict"
	"github.com/playforge/arcadia/pkg/hub"
	"github.com/playforge/arcadia/pkg/hub/grpcstream"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/metrics"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/session"
	"github.com/playforge/arcadia/pkg/store/mongo"
	"github.com/playforge/arcadia/pkg/store/redis"
	"github.com/playforge/arcadia/pkg/syncer"
	"github.com/playforge/arcadia/pkg/txn"
)

// Server owns every subsystem of the arcadia process.
type Server struct {
	cfg *config.Config

	redis *redis.Client
	mongo *mongo.Client

	locks     *lock.Service
	cache     *cache.Cache
	sync      *syncer.Engine
	conflicts *conflict.Detector
	txns      *txn.Manager

	sessions *session.Registry
	router   *router.Router
	hub      *hub.Hub

	stream     *grpcstream.Server
	apiServer  *api.Server
	metricsSrv *metrics.Server

	serveOnce sync.Once
}

// New builds the full component graph. The cache store connection is
// verified with a ping; the document store connection is established and
// pinged by its own constructor.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	rds := redis.New(cfg.Redis)
	if err := rds.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cache store unreachable: %w", err)
	}

	docs, err := mongo.Connect(ctx, cfg.Mongo)
	if err != nil {
		_ = rds.Close()
		return nil, fmt.Errorf("document store unreachable: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		redis: rds,
		mongo: docs,
	}

	s.locks = lock.New(rds, cfg.Lock)
	s.cache = cache.New(rds, cfg.Cache)

	s.sync = syncer.New(s.cache, docs, cfg.Sync)
	for _, b := range defaultBinders() {
		s.sync.Register(b)
	}

	s.conflicts = conflict.New(rds, s.cache, s.locks, cfg.Conflict)
	s.txns = txn.New(rds, txn.MongoSessions(docs), s.locks, cfg.Transaction)

	s.sessions = session.New(cfg.Session)
	s.router = router.New(cfg.Router)
	s.hub = hub.New(s.sessions, s.router, verifierFromConfig(cfg.Auth), cfg.Hub)
	s.stream = grpcstream.NewServer(cfg.Stream, s.hub)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metrics.NewExporter(metrics.Sources{
			Cache:    s.cache.Stats,
			Lock:     s.locks.Stats,
			Sync:     s.sync.Stats,
			Txn:      s.txns.Stats,
			Router:   s.router.Stats,
			Sessions: s.sessions.Count,
		})
		s.metricsSrv = metrics.NewServer(cfg.Metrics)
	}

	if cfg.API.IsEnabled() {
		apiCfg := cfg.API
		if apiCfg.AuthSecret == "" {
			apiCfg.AuthSecret = cfg.Auth.Secret
		}
		health := handlers.NewHealthHandler(rds.Ping, docs.Ping)
		stats := handlers.NewStatsHandler(handlers.Providers{
			Cache: s.cache.Stats,
			Lock:  s.locks.Stats,
			Sync:  s.sync.Stats,
			Txn:   s.txns.Stats,
			Sessions: func() handlers.SessionStats {
				return handlers.SessionStats{Count: s.sessions.Count()}
			},
			Router: s.router.Stats,
		})
		s.apiServer = api.NewServer(apiCfg, health, stats)
	}

	return s, nil
}

// verifierFromConfig builds the token verifier for the realtime surface.
func verifierFromConfig(cfg config.AuthConfig) hub.Verifier {
	var opts []hub.JWTOption
	if cfg.Issuer != "" {
		opts = append(opts, hub.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, hub.WithAudience(cfg.Audience))
	}
	return hub.NewJWTVerifier(cfg.Secret, opts...)
}

// defaultBinders ties the built-in payload kinds to their cache categories
// and sync strategies. Positions never reach the document store; game
// records always do.
func defaultBinders() []syncer.Binder {
	return []syncer.Binder{
		{Kind: mongo.KindPlayer, Category: cache.CategoryPlayerState, Strategy: syncer.WriteBehind},
		{Kind: mongo.KindRoom, Category: cache.CategoryRoomState, Strategy: syncer.WriteBehind},
		{Kind: mongo.KindGameRecord, Category: cache.CategoryRoomState, Strategy: syncer.WriteThrough},
		{Kind: mongo.KindGeneric, Category: cache.CategoryTemp, Strategy: syncer.CacheAside},
	}
}

// Hub exposes the realtime hub, mainly for embedding the server in tests.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Sync exposes the sync engine so callers can register additional binders
// before Serve.
func (s *Server) Sync() *syncer.Engine {
	return s.sync
}

// Conflicts exposes the conflict detector for registering merge functions.
func (s *Server) Conflicts() *conflict.Detector {
	return s.conflicts
}

// Txns exposes the transaction manager.
func (s *Server) Txns() *txn.Manager {
	return s.txns
}

// Serve starts every component and blocks until ctx is cancelled or a
// server fails. It can only be called once.
func (s *Server) Serve(ctx context.Context) error {
	var err error
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *Server) serve(ctx context.Context) error {
	logger.Info("starting arcadia server")

	// Background workers first: renewals, cleanup, flush, sweeps.
	s.locks.Start(ctx)
	s.cache.Start(ctx)
	s.sync.Start(ctx)
	s.txns.Start(ctx)
	s.sessions.Start(ctx)
	s.router.Start(ctx)

	if err := s.stream.Start(ctx); err != nil {
		s.stopWorkers(ctx)
		return fmt.Errorf("stream server failed to start: %w", err)
	}
	logger.Info("stream server listening", "addr", s.stream.Addr())

	if s.metricsSrv != nil {
		if err := s.metricsSrv.Start(ctx); err != nil {
			logger.Warn("metrics server failed to start", logger.KeyError, err)
		} else {
			logger.Info("metrics server listening", "port", s.cfg.Metrics.Port)
		}
	}

	apiErrChan := make(chan error, 1)
	if s.apiServer != nil {
		go func() {
			if err := s.apiServer.Start(ctx); err != nil {
				logger.Error("api server error", logger.KeyError, err)
				apiErrChan <- err
			}
		}()
		logger.Info("api server listening", "port", s.apiServer.Port())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", logger.KeyReason, ctx.Err())
	case err := <-apiErrChan:
		serveErr = fmt.Errorf("api server error: %w", err)
	}

	s.shutdown()
	logger.Info("arcadia server stopped")
	return serveErr
}

// shutdown stops components in reverse dependency order: surfaces first,
// then workers, finally the store connections.
func (s *Server) shutdown() {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("stopping stream server")
	s.stream.Stop()

	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			logger.Warn("api server shutdown error", logger.KeyError, err)
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Stop(ctx); err != nil {
			logger.Warn("metrics server shutdown error", logger.KeyError, err)
		}
	}

	s.stopWorkers(ctx)

	if err := s.mongo.Close(ctx); err != nil {
		logger.Warn("document store close error", logger.KeyError, err)
	}
	if err := s.redis.Close(); err != nil {
		logger.Warn("cache store close error", logger.KeyError, err)
	}
}

// stopWorkers stops the background workers and drains pending writes.
func (s *Server) stopWorkers(ctx context.Context) {
	s.router.Stop()
	s.sessions.Stop()
	s.txns.Stop()

	// Close flushes the write-behind queue before stopping.
	if err := s.sync.Close(ctx); err != nil {
		logger.Warn("sync engine drain error", logger.KeyError, err)
	}

	s.cache.Stop()
	s.locks.Stop()
}
