// Command stagehand runs the project orchestration server: per-project
// event streams, permission approvals, and supervised dev server previews.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeloft/stagehand/pkg/api"
	"github.com/codeloft/stagehand/pkg/approval"
	"github.com/codeloft/stagehand/pkg/config"
	"github.com/codeloft/stagehand/pkg/hub"
	"github.com/codeloft/stagehand/pkg/logging"
	"github.com/codeloft/stagehand/pkg/observability"
	"github.com/codeloft/stagehand/pkg/ports"
	"github.com/codeloft/stagehand/pkg/preview"
	"github.com/codeloft/stagehand/pkg/storage"
	"github.com/codeloft/stagehand/pkg/taskstatus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stagehand: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml (default: ~/.stagehand and ./.stagehand)")
	bind := flag.String("bind", "", "listen address override")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir)
	if err != nil {
		return fmt.Errorf("open logger: %w", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	tracing, err := observability.NewTracerProvider("stagehand")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	portRange, err := ports.ResolveRange(cfg.Preview.PortStart, cfg.Preview.PortEnd)
	if err != nil {
		return err
	}

	tracker := taskstatus.NewStoreTracker(store)

	broker := approval.New(approval.Config{
		Timeout: cfg.ApprovalTimeout(),
		Logger:  logger,
	})
	approvalMode, err := approval.ParseMode(cfg.Approval.Mode)
	if err != nil {
		return err
	}

	eventHub := hub.New(hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Logger:            logger,
	})

	supervisor := preview.NewSupervisor(preview.Config{
		Command:       cfg.Preview.Command,
		WorkspaceRoot: config.ResolveWorkspaceRoot(cfg),
		PortRange:     portRange,
		ReadyTimeout:  cfg.ReadyTimeout(),
		ReadyPath:     cfg.Preview.ReadyPath,
		Logger:        logger,
	}, eventHub)

	// New stream subscribers see current preview and request state before
	// any live event.
	eventHub.SetSnapshotters([]hub.Snapshotter{supervisor, tracker})

	server := api.NewServer(api.ServerConfig{
		Address:    cfg.Server.Bind,
		Logger:     logger,
		Hub:        eventHub,
		Broker:     broker,
		Supervisor: supervisor,
		Tracker:    tracker,
		Store:      store,

		ApprovalMode: approvalMode,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Log(logging.LevelInfo, logging.CategoryServer, "listening", "", cfg.Server.Bind, nil)
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	// Graceful shutdown: stop child processes, close streams, then the
	// listener, then flush traces.
	supervisor.StopAll()
	eventHub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(logging.CategoryServer, "shutdown_failed", "", err, nil)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error(logging.CategoryServer, "tracing_shutdown_failed", "", err, nil)
	}

	logger.Log(logging.LevelInfo, logging.CategoryServer, "stopped", "", "", nil)
	return nil
}
