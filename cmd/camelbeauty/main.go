// camelbeauty: HTTP API for camel beauty scoring
// Loads the detection and scoring models once and serves single and batch
// inference plus a live event feed.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-camelbeauty/internal/config"
	"github.com/teslashibe/go-camelbeauty/internal/log"
	"github.com/teslashibe/go-camelbeauty/pkg/pipeline"
	"github.com/teslashibe/go-camelbeauty/pkg/web"
)

var (
	port  = flag.String("port", "", "HTTP server port (overrides PORT)")
	debug = flag.Bool("debug", false, "Enable debug logging and access logs")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	pc, err := pipeline.Load(cfg, log.L())
	if err != nil {
		log.Error("failed to load models", "error", err)
		os.Exit(1)
	}
	defer pc.Close()

	srv := web.NewServer(pc, web.Config{
		Port:        cfg.Port,
		MaxUploadMB: cfg.MaxUploadMB,
		Models:      cfg.ModelPaths(),
		AccessLog:   *debug,
		Logger:      log.L(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
			pc.Close()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	log.Info("stopped")
}
