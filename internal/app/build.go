package app

import (
	"context"
	"fmt"

	"github.com/tbendali/taskdeck/internal/config"
	"github.com/tbendali/taskdeck/internal/engine"
	"github.com/tbendali/taskdeck/internal/events"
	"github.com/tbendali/taskdeck/internal/httpapi"
	"github.com/tbendali/taskdeck/internal/observability"
	"github.com/tbendali/taskdeck/internal/queue"
	"github.com/tbendali/taskdeck/internal/resync"
	"github.com/tbendali/taskdeck/internal/tasks"
	"github.com/tbendali/taskdeck/internal/undo"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Store   tasks.Store
	Bridge  *engine.Bridge
	Tasks   *tasks.Service
	Queue   *queue.Manager
	Undo    *undo.Manager
	Resync  *resync.Resynchronizer
	Bus     *events.Bus
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (engine process, DB pool).
	Cleanup func() error
}

// Build wires the whole service. The engine process is started here;
// callers are expected to run the resynchronizer before serving traffic
// so the engine's queues match the durable store.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := tasks.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	bridge := engine.NewBridge(engine.Config{
		BinPath:        cfg.EngineBin,
		Args:           cfg.EngineArgs,
		CallTimeout:    cfg.EngineCallTimeout,
		RespawnBackoff: cfg.EngineRespawnBackoff,
	}, metrics)
	if err := bridge.Start(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine start failed: %w", err)
	}

	bus := events.NewBus()
	undoManager := undo.NewManager(store, bridge, bus, metrics, cfg.UndoHistoryLimit)
	taskService := tasks.NewService(store, bridge, undoManager, bus)
	queueManager := queue.NewManager(store, bridge, bus, metrics)
	resyncer := resync.New(store, bridge, metrics)

	api := httpapi.New(cfg, taskService, queueManager, undoManager, bus, metrics)

	cleanup := func() error {
		bridge.Shutdown()
		return store.Close()
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Store:   store,
		Bridge:  bridge,
		Tasks:   taskService,
		Queue:   queueManager,
		Undo:    undoManager,
		Resync:  resyncer,
		Bus:     bus,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}
