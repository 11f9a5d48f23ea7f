// Package main provides the room server binary: the realtime WebSocket
// gateway, the REST room directory and the optional gRPC directory.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting room server",
		zap.String("ws_addr", cfg.Server.Addr()),
		zap.String("directory_addr", cfg.Directory.Addr()),
		zap.Bool("grpc", cfg.GRPC.Enabled),
		zap.Bool("archive", cfg.Database.Enabled),
		zap.Bool("events", cfg.Events.Enabled),
	)

	ctx := context.Background()
	app, cleanup, err := initializeApp(ctx, &cfg, logger)
	if err != nil {
		logger.Fatal("initializing room server", zap.Error(err))
	}
	defer cleanup()

	logger.Info("room server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := app.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}
}
