package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
	"github.com/joseph-ayodele/evidence-pipeline/internal/ingest"
	"github.com/joseph-ayodele/evidence-pipeline/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := server.NewPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	health := server.NewHealth(pipeline.DB, logger)
	if !health.Check(ctx, 5*time.Second) {
		logger.Error("database is not reachable")
		closePipeline(pipeline, cfg.Server.ShutdownTimeout, logger)
		os.Exit(1)
	}

	pipeline.Start(ctx)

	scheduler, err := server.NewScheduler(ctx, pipeline, logger)
	if err != nil {
		logger.Error("failed to schedule maintenance", "error", err)
		closePipeline(pipeline, cfg.Server.ShutdownTimeout, logger)
		os.Exit(1)
	}
	scheduler.Start()

	if cfg.Watch.Dir != "" {
		if err := watch(ctx, cfg.Watch, pipeline.Files, logger); err != nil {
			logger.Error("failed to start watcher", "dir", cfg.Watch.Dir, "error", err)
			closePipeline(pipeline, cfg.Server.ShutdownTimeout, logger)
			os.Exit(1)
		}
	}

	// gRPC server
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		closePipeline(pipeline, cfg.Server.ShutdownTimeout, logger)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	// Reflection for grpcurl
	reflection.Register(grpcServer)
	go health.Watch(ctx, 15*time.Second, 3*time.Second)

	logger.Info("evidenced listening", "addr", addr)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	health.Shutdown()
	grpcServer.GracefulStop()
	<-scheduler.Stop().Done()
	closePipeline(pipeline, cfg.Server.ShutdownTimeout, logger)
	logger.Info("stopped")
}

// watch feeds files dropped into the watch directory through the upload pipeline.
func watch(ctx context.Context, cfg common.WatchConfig, files *ingest.FSIngestor, logger *slog.Logger) error {
	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{cfg.Dir},
		InitialScan: true,
		Debounce:    cfg.Debounce,
		Filter: func(path string) bool {
			return files.Allowed(path) && !ingest.IsHidden(path)
		},
	}, logger)
	if err != nil {
		return err
	}
	go func() {
		for path := range paths {
			res, err := files.IngestPath(ctx, path, ingest.UploadOptions{})
			if err != nil {
				logger.Warn("watched file not ingested", "path", path, "error", err)
				continue
			}
			logger.Info("watched file ingested", "path", path, "evidence_id", res.EvidenceID, "deduplicated", res.Deduplicated)
		}
	}()
	go func() {
		for err := range errs {
			logger.Error("watcher error", "error", err)
		}
	}()
	logger.Info("watching drop folder", "dir", cfg.Dir)
	return nil
}

func closePipeline(p *server.Pipeline, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		logger.Warn("pipeline closed with error", "error", err)
	}
}
