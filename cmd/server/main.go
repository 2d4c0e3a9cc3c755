package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/xmlfilter/internal/api"
	"github.com/dgallion1/xmlfilter/internal/config"
	"github.com/dgallion1/xmlfilter/internal/pipeline"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	opts, err := config.LoadStageOptions(cfg.StageConfigPath)
	if err != nil {
		log.Error("invalid stage options", "path", cfg.StageConfigPath, "error", err)
		os.Exit(1)
	}
	st, err := stage.New(opts, log)
	if err != nil {
		log.Error("stage initialization failed", "path", cfg.StageConfigPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize pipeline.
	stats := pipeline.NewLatencyStats(time.Hour)
	orch := pipeline.NewOrchestrator(cfg, st, stats, log)
	orch.Start(context.Background())

	// Initialize HTTP server.
	srv := api.NewServer(orch, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		log.Error("listen failed", "addr", httpServer.Addr, "error", err)
		orch.Stop()
		os.Exit(1)
	}

	log.Info("starting xmlfilter",
		"port", cfg.Port,
		"source", opts.Source,
		"parse_mode", st.Mode().String(),
		"queries", st.Queries(),
	)
	if err := serve(ctx, httpServer, ln, orch, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serve runs srv on ln until ctx is done, then shuts down the HTTP server
// and stops the pipeline. It returns only after the workers have exited.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, orch *pipeline.Orchestrator, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		orch.Stop()
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}

	orch.Stop()
	log.Info("pipeline stopped")

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
