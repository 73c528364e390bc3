package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwygoda/fetchd/internal/adapter/downloader"
	httpAdapter "github.com/cwygoda/fetchd/internal/adapter/http"
	"github.com/cwygoda/fetchd/internal/adapter/sqlite"
	"github.com/cwygoda/fetchd/internal/config"
	"github.com/cwygoda/fetchd/internal/daemon"
	"github.com/cwygoda/fetchd/internal/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Printf("starting fetchd on port %d", cfg.Port)
	log.Printf("database: %s", cfg.DBPath)
	log.Printf("output dir: %s", cfg.OutputDir)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := domain.NewScheduler(domain.SchedulerParams{
		Store:           store,
		Downloader:      downloader.New(cfg.YtdlpPath, cfg.OutputDir),
		MaxConcurrent:   cfg.MaxConcurrent,
		MaxRetry:        cfg.MaxRetry,
		DefaultPriority: cfg.DefaultPriority,
		RunContext:      ctx,
	})

	// Resume unfinished jobs from the previous run.
	if err := sched.Rehydrate(context.Background()); err != nil {
		log.Fatalf("failed to rehydrate jobs: %v", err)
	}
	if n := len(sched.Pending()); n > 0 {
		log.Printf("rehydrated %d unfinished jobs", n)
	}

	loop := daemon.New(sched, time.Duration(cfg.Tick))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(loop, addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go loop.Run(ctx)

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	// Drain in-flight handlers before stopping the control loop they
	// dispatch to.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	log.Println("shutdown complete")
}
