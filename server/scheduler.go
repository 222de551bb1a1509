package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gammadia/gpumux/internal"
	"github.com/gammadia/gpumux/inventory"
	"github.com/gammadia/gpumux/jobstore"
	schedulerpkg "github.com/gammadia/gpumux/scheduler"
	"github.com/gammadia/gpumux/server/flags"
	"github.com/gammadia/gpumux/server/log"
	"github.com/gammadia/gpumux/supervisor"
	"github.com/spf13/viper"
)

var scheduler *schedulerpkg.Scheduler
var store *jobstore.Store
var pool *inventory.Pool
var shell *internal.LockedShell

func createScheduler(ctx context.Context) (err error) {
	if shell, err = internal.NewLocalShell(ctx, nil); err != nil {
		return err
	}

	if pool, err = createPool(ctx); err != nil {
		return err
	}
	log.Info("Resources available", "resources", pool.Resources())

	if store, err = jobstore.New(ctx, dataRoot, log.Component("store")); err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}

	supervisor, err := createSupervisor()
	if err != nil {
		return err
	}

	config := schedulerpkg.Config{
		Logger:       log.Component("scheduler"),
		TickInterval: viper.GetDuration(flags.TickInterval),
	}
	if scheduler, err = schedulerpkg.New(pool.IDs(), store, supervisor, config); err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	return nil
}

func createPool(ctx context.Context) (*inventory.Pool, error) {
	r, err := inventory.ParseRange(viper.GetString(flags.Gpus))
	if err != nil {
		return nil, err
	}

	var detector inventory.Detector
	switch p := viper.GetString(flags.Inventory); p {
	case "nvidia":
		detector = &inventory.NvidiaDetector{Shell: shell}
	case "static":
		detector = &inventory.StaticDetector{Count: viper.GetInt(flags.StaticCount)}
	default:
		return nil, fmt.Errorf("unknown inventory '%s'", p)
	}

	return inventory.NewPool(ctx, detector, r)
}

func createSupervisor() (*supervisor.Screen, error) {
	workDir, err := filepath.Abs(viper.GetString(flags.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve job working directory: %w", err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("job working directory '%s' does not exist", workDir)
	}

	return supervisor.NewScreen(shell, supervisor.Config{
		RunningDir:    store.Dir(schedulerpkg.PhaseRunning),
		WorkDir:       workDir,
		Interpreter:   viper.GetString(flags.Py),
		Env:           viper.GetStringMapString(flags.Env),
		VisibilityVar: viper.GetString(flags.VisibilityVar),
		Logger:        log.Component("supervisor"),
	}), nil
}
