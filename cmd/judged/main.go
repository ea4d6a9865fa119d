package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgecore/internal/artifact"
	"judgecore/internal/judger"
	"judgecore/internal/plugin"
	"judgecore/internal/sandbox"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const defaultConfigPath = "configs/judged.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()

	registry, err := plugin.LoadDirectory(ctx, appCfg.Plugins.Dir)
	if err != nil {
		logger.Error(ctx, "load plugin registry failed", zap.Error(err))
		return
	}

	if err := os.MkdirAll(appCfg.Resources.TempRoot, 0o750); err != nil {
		logger.Error(ctx, "create scratch root failed", zap.Error(err))
		return
	}
	if err := sandbox.GCStartup(ctx, appCfg.Resources.TempRoot); err != nil {
		logger.Warn(ctx, "scratch root startup gc failed", zap.Error(err))
	}

	sem := sandbox.NewSemaphore(appCfg.Resources.MaxPendingJobs, appCfg.Resources.MaxMemoryBytes, appCfg.Resources.MaxQueueDepth)
	factory := artifact.NewFactory(registry, sem, artifact.EngineConfig{
		TempRoot: appCfg.Resources.TempRoot,
		CGroup:   appCfg.CGroup,
		Jailer:   appCfg.Jailer,
	})

	coordinator := judger.NewCoordinator(factory, registry, appCfg.Secret, appCfg.RateLimit.RequestsPerSecond, appCfg.RateLimit.Burst, judger.PlatformInfo{
		TotalMemory: appCfg.Platform.TotalMemory,
		AccuracyNs:  appCfg.Platform.AccuracyNs,
		CPUFactor:   appCfg.Platform.CPUFactor,
	})

	grpcServer := grpc.NewServer()
	judger.RegisterJudgerService(grpcServer, coordinator)

	grpcListener, err := net.Listen("tcp", appCfg.GRPC.Addr)
	if err != nil {
		logger.Error(ctx, "init grpc listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judger grpc server started", zap.String("addr", appCfg.GRPC.Addr), zap.Int("languages", len(registry.All())))
		errCh <- grpcServer.Serve(grpcListener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error(ctx, "grpc server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(defaultShutdownTimeout):
		logger.Warn(ctx, "graceful stop timed out, forcing shutdown")
		grpcServer.Stop()
	}
}
