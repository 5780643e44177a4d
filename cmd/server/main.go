package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/kvengine/internal/config"
	"github.com/adred-codev/kvengine/internal/logging"
	"github.com/adred-codev/kvengine/internal/server"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides KV_LOG_LEVEL)")
	)
	flag.Parse()

	bootLogger := log.New(os.Stdout, "[kvengine] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	bootLogger.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load(nil)
	if err != nil {
		bootLogger.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
		bootLogger.Printf("debug mode enabled via flag")
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info().
		Str("addr", cfg.Addr).
		Int("shards", cfg.NumShards).
		Str("role", cfg.ReplicationRole).
		Msg("starting kvengine")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}
