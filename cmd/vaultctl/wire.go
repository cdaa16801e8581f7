//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"go.opentelemetry.io/otel/metric"

	"github.com/onkernel/hypeman/cmd/vaultctl/config"
	"github.com/onkernel/hypeman/lib/providers"
	"github.com/onkernel/hypeman/lib/vault"
)

// application holds vaultctl's fully constructed dependency graph.
type application struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config *config.Config
	Meter  metric.Meter
	Vault  *vault.Vault
}

// initializeApp is the wire injector. It is never compiled into the real
// binary (build tag wireinject); main.go builds the same graph by hand and
// does not call it.
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideLogger,
		providers.ProvideMeterProvider,
		providers.ProvideMeter,
		providers.ProvidePaths,
		providers.ProvideImageHosts,
		providers.ProvideVault,
		wire.Struct(new(application), "*"),
	))
}
