package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntrixbase/livequery/internal/cluster"
	"github.com/syntrixbase/livequery/internal/config"
	"github.com/syntrixbase/livequery/internal/core/cache"
	memorycache "github.com/syntrixbase/livequery/internal/core/cache/memory"
	mongocache "github.com/syntrixbase/livequery/internal/core/cache/mongo"
	natscache "github.com/syntrixbase/livequery/internal/core/cache/nats"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
	memorypubsub "github.com/syntrixbase/livequery/internal/core/pubsub/memory"
	natspubsub "github.com/syntrixbase/livequery/internal/core/pubsub/nats"
	"github.com/syntrixbase/livequery/internal/dsl"
	"github.com/syntrixbase/livequery/internal/ingest"
	"github.com/syntrixbase/livequery/internal/notify"
	"github.com/syntrixbase/livequery/internal/realtime"
	"github.com/syntrixbase/livequery/internal/server"
)

// app is the wired process: one engine, hub, dispatcher and notifier shared
// by the websocket front, the cluster relay and the change event consumer.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	provider pubsub.Provider
	store    cache.Store

	engine     *dsl.Engine
	hub        *realtime.Hub
	dispatcher *notify.Dispatcher
	notifier   *notify.Notifier
	relay      *cluster.Relay
	consumer   *ingest.Consumer
	server     server.Service
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.provider, err = newProvider(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if a.store, err = newStore(ctx, cfg, a.provider); err != nil {
		return nil, err
	}

	if a.engine, err = dsl.New(dsl.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to create filter engine: %w", err)
	}

	a.hub = realtime.NewHub(a.engine, cfg.Realtime.SendTimeout, logger)
	a.dispatcher = notify.NewDispatcher(a.hub, a.hub, notify.WithDispatcherLogger(logger))
	a.hub.SetUserNotifier(a.dispatcher)
	a.notifier = notify.NewNotifier(a.engine, a.dispatcher, a.store,
		notify.WithLogger(logger),
		notify.WithConcurrency(cfg.Notify.Concurrency),
	)

	if cfg.Cluster.Enabled {
		if a.relay, err = cluster.NewRelay(a.provider, a.dispatcher, cfg.Cluster, logger); err != nil {
			return nil, err
		}
		a.dispatcher.SetReplicator(a.relay)
	}
	if cfg.Ingest.Enabled {
		if a.consumer, err = ingest.NewConsumer(a.provider, a.notifier, cfg.Ingest, logger); err != nil {
			return nil, err
		}
	}

	a.server = server.New(cfg.Server, logger)
	a.server.RegisterHTTPHandler(cfg.Realtime.Path, realtime.NewHandler(ctx, a.hub, cfg.Realtime, logger))
	if cfg.Server.MetricsPath != "" {
		a.server.RegisterHTTPHandler(cfg.Server.MetricsPath, promhttp.Handler())
	}
	return a, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pubsub.Provider, error) {
	var p pubsub.Provider
	if cfg.PubSub.Backend == pubsub.BackendNATS {
		p = natspubsub.NewProvider(cfg.PubSub.NATS.URL,
			natspubsub.WithName(cfg.PubSub.NATS.Name),
			natspubsub.WithLogger(logger),
		)
	} else {
		p = memorypubsub.New()
	}
	if err := pubsub.Connect(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func newStore(ctx context.Context, cfg *config.Config, provider pubsub.Provider) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case cache.BackendNATS:
		p, ok := provider.(*natspubsub.Provider)
		if !ok {
			return nil, errors.New("nats cache requires the nats pubsub backend")
		}
		kv, err := p.KeyValue(ctx, natscache.BucketConfig(cfg.Cache.NATS, cfg.Cache.TTL))
		if err != nil {
			return nil, err
		}
		return natscache.New(kv), nil
	case cache.BackendMongo:
		store, err := mongocache.Open(ctx, cfg.Cache.Mongo, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memorycache.New(cfg.Cache.TTL, cfg.Cache.Memory.JanitorInterval), nil
	}
}

// serve runs every background component and the HTTP server until ctx is
// cancelled, then shuts them down.
func (a *app) serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var waits []<-chan struct{}
	if a.relay != nil {
		done, err := a.relay.Start(runCtx)
		if err != nil {
			return err
		}
		waits = append(waits, done)
	}
	if a.consumer != nil {
		done, err := a.consumer.Start(runCtx)
		if err != nil {
			return err
		}
		waits = append(waits, done)
	}

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(runCtx)
	}()
	waits = append(waits, hubDone)

	serveErr := a.server.Start(runCtx)
	if serveErr != nil {
		a.logger.Error("HTTP server failed", "error", serveErr)
	}
	a.logger.Info("Shutting down")

	// Stop accepting traffic before the hub closes connections.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	stopErr := a.server.Stop(shutdownCtx)

	cancel()
	for _, done := range waits {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			a.logger.Warn("Shutdown timed out waiting for background workers")
			return errors.Join(serveErr, stopErr, shutdownCtx.Err())
		}
	}
	a.logger.Info("All services stopped")
	return errors.Join(serveErr, stopErr)
}

func (a *app) close() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.logger.Warn("Failed to close cluster relay", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close cache store", "error", err)
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Warn("Failed to close pubsub provider", "error", err)
		}
	}
}
