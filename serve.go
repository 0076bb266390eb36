package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mapring/api"
	"mapring/bus"
	"mapring/config"
	"mapring/coordinator"
	"mapring/discovery"
	"mapring/engine"
	"mapring/logger"
	"mapring/metrics"
	"mapring/store"
)

func runServe(ctx context.Context, cfgPath, seed string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if seed != "" {
		cfg.Cluster.Seed = seed
	}

	cfg.Log.NodeID = cfg.Node.ID
	logger.Init(cfg.Log)
	defer logger.Sync()

	db, err := engine.NewEngine(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	server, err := CheckAndLoadMetadata(db, cfg.Node)
	if err != nil {
		return err
	}
	log := logger.Named("main")

	if err := metrics.Register(nil); err != nil {
		return err
	}

	accepted := store.New(db)
	if err := accepted.Load(); err != nil {
		return err
	}

	b := bus.New(server, bus.Options{
		HopTimeout: cfg.Cluster.HopTimeout,
		Logger:     logger.Named("bus"),
		Sequencer:  []discovery.SequencerOption{discovery.WithReuseStrategy(cfg.ReuseStrategy())},
	})
	coord := coordinator.New(coordinator.Options{
		Transport: b,
		Store:     accepted,
		Timeout:   cfg.Cluster.Timeout,
		Strategy:  cfg.ReuseStrategy(),
		Logger:    logger.Named("coordinator"),
	})
	defer coord.Close()
	b.SetState(coord)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.ListenAndServe(gctx) })
	g.Go(func() error { return ignoreCanceled(b.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(coord.Run(gctx)) })

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(coord, api.Options{
			WaitTimeout: cfg.Cluster.Timeout + time.Second,
			Logger:      logger.Named("api"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.LeaveCluster(shutdownCtx); err != nil {
			log.Warn("leave cluster", zap.Error(err))
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	log.Info("node started",
		zap.String("id", server.ServerID),
		zap.String("addr", server.Addr),
		zap.String("bus", server.BusAddr()),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("data", db.Path()),
		zap.Int("mappings", accepted.Len()),
		zap.String("host", server.HostInfo.Hostname))

	if cfg.Cluster.Seed != "" {
		if err := b.JoinCluster(gctx, cfg.Cluster.Seed); err != nil {
			log.Warn("failed to join cluster", zap.String("seed", cfg.Cluster.Seed), zap.Error(err))
		} else if err := db.SaveServerMetadata(server); err != nil {
			log.Warn("failed to save server metadata after join", zap.Error(err))
		}
	}

	err = g.Wait()
	if serr := db.SaveServerMetadata(server); serr != nil {
		log.Warn("failed to save server metadata", zap.Error(serr))
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
