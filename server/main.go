package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gammadia/gpumux/namegen"
	"github.com/gammadia/gpumux/server/flags"
	"github.com/gammadia/gpumux/server/log"
	"github.com/gammadia/gpumux/tracing"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var dataRoot string

// Global context for shutdown cascading, cancelled by the signal handler or a scheduler failure.
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the two main goroutines: scheduler and HTTP server.
var wg sync.WaitGroup

func main() {
	if err := flags.Init(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(2)
	}

	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("gpumux server starting up...", "version", version, "commit", commit)
	startedAt := time.Now()

	// Create data directory
	dataRoot = resolveDataRoot(viper.GetString(flags.Path), viper.GetString(flags.LogDir))
	if err := os.MkdirAll(dataRoot, 0755); err != nil {
		log.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	if traceFile := viper.GetString(flags.TraceFile); traceFile != "" {
		shutdown, err := tracing.Init("gpumux", version, traceFile)
		if err != nil {
			log.Error("Failed to setup tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("Failed to flush traces", "error", err)
			}
		}()
	}

	// Setup network listener
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", viper.GetInt(flags.Port)))
	if err != nil {
		log.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	setupInterrupts()

	if err = createScheduler(ctx); err != nil {
		log.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shell.Close(); err != nil {
			log.Warn("Failed to close shell", "error", err)
		}
	}()

	channel, unsubscribe := scheduler.Subscribe()
	defer unsubscribe()
	go listenEvents(channel)

	// A fatal scheduler error leaves the job files untouched for inspection and stops the server.
	failed := false
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil {
			log.Error("Scheduler stopped on a fatal error, job files left untouched", "error", err)
			failed = true
			cancel()
		}
	}()

	hs := &httpServer{
		name:      namegen.Instance(),
		startedAt: startedAt,
		dataRoot:  dataRoot,
		scheduler: scheduler,
		pool:      pool,
		store:     store,
		logger:    log.Component("http"),
	}
	srv := &http.Server{
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP server did not shut down cleanly", "error", err)
			}
		}()

		log.Info("Server listening", "address", lis.Addr(), "instance", hs.name)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve", "error", err)
			cancel()
		}
	}()

	wg.Wait()
	if failed {
		os.Exit(1)
	}
	log.Info("Shutdown completed. Running jobs keep going in their screen sessions. Bye!")
}

// resolveDataRoot places a relative data directory under the job working directory.
func resolveDataRoot(workDir, logDir string) string {
	if filepath.IsAbs(logDir) {
		return logDir
	}
	return filepath.Join(workDir, logDir)
}

// setupInterrupts handles Ctrl+C with a double-tap pattern: the first signal starts a graceful shutdown,
// the second one forces the exit.
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
