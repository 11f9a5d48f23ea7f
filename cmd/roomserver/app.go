package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/directory"
	"github.com/cory-johannsen/citybuilder/internal/events"
	"github.com/cory-johannsen/citybuilder/internal/frontend/gateway"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/gameserver"
	"github.com/cory-johannsen/citybuilder/internal/server"
	"github.com/cory-johannsen/citybuilder/internal/storage/postgres"
)

// App holds the wired components of the room server.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	game      *gameserver.Server
	acceptor  *gateway.Acceptor
	directory *directory.Handler
	grpc      *grpc.Server
	archiver  *postgres.Archiver
}

func newApp(
	cfg *config.Config,
	logger *zap.Logger,
	game *gameserver.Server,
	acceptor *gateway.Acceptor,
	dir *directory.Handler,
	grpcServer *grpc.Server,
	archiver *postgres.Archiver,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		game:      game,
		acceptor:  acceptor,
		directory: dir,
		grpc:      grpcServer,
		archiver:  archiver,
	}
}

// Run starts every service and blocks until shutdown.
//
// Postcondition: All services have stopped when Run returns.
func (a *App) Run(ctx context.Context) error {
	lifecycle := server.NewLifecycle(a.logger)

	if a.archiver != nil {
		lifecycle.Add("archive", &server.ContextService{RunFn: a.archiver.Run})
	}
	lifecycle.Add("game", &server.ContextService{RunFn: a.game.Run})
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: a.acceptor.ListenAndServe,
		StopFn:  a.acceptor.Stop,
	})

	httpServer := &http.Server{
		Addr:              a.cfg.Directory.Addr(),
		Handler:           a.directory.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lifecycle.Add("directory", &server.FuncService{
		StartFn: func() error {
			a.logger.Info("room directory listening", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving directory: %w", err)
			}
			return nil
		},
		StopFn: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
		},
	})

	if a.grpc != nil {
		lifecycle.Add("grpc", &server.FuncService{
			StartFn: func() error {
				lis, err := net.Listen("tcp", a.cfg.GRPC.Addr())
				if err != nil {
					return fmt.Errorf("listening on %s: %w", a.cfg.GRPC.Addr(), err)
				}
				a.logger.Info("gRPC directory listening",
					zap.String("addr", lis.Addr().String()),
				)
				return a.grpc.Serve(lis)
			},
			StopFn: func() {
				a.grpc.GracefulStop()
			},
		})
	}

	return lifecycle.Run(ctx)
}

func provideRoomsConfig(cfg *config.Config) config.RoomsConfig {
	return cfg.Rooms
}

func provideServerConfig(cfg *config.Config) config.ServerConfig {
	return cfg.Server
}

func provideLimits(cfg config.RoomsConfig) room.Limits {
	return room.Limits{
		MaxPlayers:  cfg.MaxPlayers,
		MinCitySize: cfg.MinCitySize,
		MaxCitySize: cfg.MaxCitySize,
	}
}

// providePublisher connects to NATS when lifecycle events are enabled.
func providePublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, func(), error) {
	if !cfg.Events.Enabled {
		return events.Nop{}, func() {}, nil
	}
	start := time.Now()
	pub, err := events.Connect(cfg.Events, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("event broker connected",
		zap.String("url", cfg.Events.URL),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pub, pub.Close, nil
}

// provideArchiver connects to PostgreSQL when room archiving is enabled.
// Returns a nil Archiver otherwise.
func provideArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*postgres.Archiver, func(), error) {
	if !cfg.Database.Enabled {
		return nil, func() {}, nil
	}
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	if err := pool.VerifySchema(ctx, 5*time.Second); err != nil {
		pool.Close()
		return nil, nil, err
	}
	archived, err := pool.ArchivedRooms(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("room archive ready", zap.Int64("archived_rooms", archived))

	repo := postgres.NewArchiveRepository(pool.DB())
	return postgres.NewArchiver(repo, postgres.DefaultArchiveQueue, logger), pool.Close, nil
}

// provideGameArchiver keeps a disabled archive a nil interface so the game
// server falls back to discarding records.
func provideGameArchiver(a *postgres.Archiver) gameserver.Archiver {
	if a == nil {
		return nil
	}
	return a
}

func provideGRPCServer(cfg *config.Config, svc *directory.Service) *grpc.Server {
	if !cfg.GRPC.Enabled {
		return nil
	}
	srv, _ := directory.NewGRPCServer(svc)
	return srv
}
