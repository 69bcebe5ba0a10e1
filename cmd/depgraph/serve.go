package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/depgraph/internal/config"
	"github.com/alfredjeanlab/depgraph/internal/discovery"
	"github.com/alfredjeanlab/depgraph/internal/events"
	"github.com/alfredjeanlab/depgraph/internal/graph"
	"github.com/alfredjeanlab/depgraph/internal/server"
	"github.com/alfredjeanlab/depgraph/internal/store"
	"github.com/alfredjeanlab/depgraph/internal/store/memory"
	"github.com/alfredjeanlab/depgraph/internal/store/postgres"
	graphsync "github.com/alfredjeanlab/depgraph/internal/sync"
)

const (
	shutdownTimeout    = 10 * time.Second
	agentEvictAfter    = time.Hour
	agentSweepInterval = time.Minute
)

var serveCmd = &cobra.Command{
	Use:               "serve",
	Short:             "Start the dependency graph server (gRPC and HTTP)",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory store (DEPGRAPH_DATABASE_URL not set)")
		return memory.New(), nil
	}
	s, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("using postgres store")
	return s, nil
}

func syncDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []graphsync.Destination {
	var dests []graphsync.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := graphsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, d)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, graphsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
	}
	for _, d := range dests {
		logger.Info("sync destination enabled", "destination", d.Name())
	}
	return dests
}

// serve runs the server until ctx is cancelled, then shuts every component
// down in reverse start order.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}()

	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		logger.Info("events and discovery intake disabled (DEPGRAPH_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	gs := server.NewGraphServer(graph.New(st), publisher)
	roster := discovery.NewRoster()
	gs.SetRoster(roster)

	grpcServer := server.NewGRPCServer(gs, cfg.AuthToken)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gs.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.AuthToken == "" {
		logger.Warn("authentication disabled (DEPGRAPH_AUTH_TOKEN not set)")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(grpcLis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.NATSURL, events.LogAsyncErrors(logger))
		if err != nil {
			logger.Error("failed to create discovery subscriber", "err", err)
		} else {
			intake := discovery.NewIntake(gs, roster, logger)
			roster.StartSweeper(agentEvictAfter, agentSweepInterval)
			g.Go(func() error {
				defer sub.Close()
				if err := intake.Run(ctx, sub, cfg.DiscoverySubject); err != nil {
					logger.Error("discovery intake stopped", "err", err)
				}
				return nil
			})
		}
	}

	if cfg.SyncEnabled() {
		if dests := syncDestinations(ctx, cfg, logger); len(dests) > 0 {
			scheduler := graphsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
			g.Go(func() error { return scheduler.Run(ctx) })
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		roster.Stop()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	logger.Info("depgraph server started", "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr)
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
