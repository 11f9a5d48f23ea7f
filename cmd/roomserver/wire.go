//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/directory"
	"github.com/cory-johannsen/citybuilder/internal/frontend/gateway"
	"github.com/cory-johannsen/citybuilder/internal/gameserver"
)

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		provideRoomsConfig,
		provideServerConfig,
		provideLimits,
		providePublisher,
		provideArchiver,
		provideGameArchiver,
		gameserver.NewServer,
		wire.Bind(new(gateway.Backend), new(*gameserver.Server)),
		wire.Bind(new(directory.Source), new(*gameserver.Server)),
		gateway.NewAcceptor,
		directory.NewHandler,
		directory.NewService,
		provideGRPCServer,
		newApp,
	)
	return nil, nil, nil
}
