package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gammadia/gpumux/internal"
	"github.com/gammadia/gpumux/inventory"
	"github.com/gammadia/gpumux/jobstore"
	"github.com/gammadia/gpumux/scheduler"
	"github.com/gammadia/gpumux/supervisor"
)

// Runs a few short jobs on two fake GPUs in a temporary directory. Requires bash and screen.
func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	dir, err := os.MkdirTemp("", "gpumux-playground-*")
	if err != nil {
		return err
	}
	fmt.Println("Playground directory:", dir)

	shell, err := internal.NewLocalShell(ctx, nil)
	if err != nil {
		return err
	}
	defer shell.Close()

	pool, err := inventory.NewPool(ctx, &inventory.StaticDetector{Count: 2}, inventory.DefaultRange)
	if err != nil {
		return err
	}

	store, err := jobstore.New(ctx, dir, logger.With("component", "store"))
	if err != nil {
		return err
	}

	screen := supervisor.NewScreen(shell, supervisor.Config{
		RunningDir: store.Dir(scheduler.PhaseRunning),
		WorkDir:    dir,
		Logger:     logger.With("component", "supervisor"),
	})

	sched, err := scheduler.New(pool.IDs(), store, screen, scheduler.Config{
		Logger:       logger.With("component", "scheduler"),
		TickInterval: 500 * time.Millisecond,
	})
	if err != nil {
		return err
	}

	commands := []string{
		`echo "hello from $CUDA_VISIBLE_DEVICES"; sleep 2`,
		`bash -c "sleep 1; exit 3"`,
		`echo done`,
	}
	sched.Propose(scheduler.FormatQueue(commands))

	events, unsubscribe := sched.Subscribe()
	defer unsubscribe()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		completed := 0
		for event := range events {
			fmt.Printf("%T %+v\n", event, event)
			if _, ok := event.(scheduler.EventJobCompleted); ok {
				if completed++; completed == len(commands) {
					stop()
				}
			}
		}
	}()

	return sched.Run(ctx)
}
