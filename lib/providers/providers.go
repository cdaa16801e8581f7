package providers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	contribruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/onkernel/hypeman/cmd/vaultctl/config"
	"github.com/onkernel/hypeman/lib/vault"
	"github.com/onkernel/hypeman/lib/vault/hosts/ocihost"
)

// ProvideContext provides a base context.
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides vaultctl's configuration.
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideLogger provides a structured logger at the level named by
// cfg.LogLevel, logging as JSON the way every teacher package does. When
// OTEL_EXPORTER_OTLP_ENDPOINT is set, log records are instead sent through
// the OTel log SDK via the otelslog bridge, and cfg.LogLevel is not applied. The returned shutdown func
// flushes and closes the log exporter and must be called before the
// process exits.
func ProvideLogger(ctx context.Context, cfg *config.Config) (*slog.Logger, func(context.Context) error, error) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		return logger, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))

	handler := otelslog.NewHandler("vaultctl", otelslog.WithLoggerProvider(lp))
	return slog.New(handler), lp.Shutdown, nil
}

// ProvideMeterProvider builds an OTel metric.MeterProvider. When
// OTEL_EXPORTER_OTLP_ENDPOINT is set it exports via OTLP/gRPC on a short
// periodic interval and registers Go runtime metrics alongside the
// Vault's own instruments; otherwise it falls back to the no-op global
// provider so vaultctl runs without a collector present. The returned
// shutdown func flushes and closes the exporter and must be called before
// the process exits.
func ProvideMeterProvider(ctx context.Context) (metric.MeterProvider, func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return otel.GetMeterProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)

	if err := contribruntime.Start(contribruntime.WithMeterProvider(mp)); err != nil {
		return nil, nil, err
	}

	return mp, mp.Shutdown, nil
}

// ProvideMeter provides the metric.Meter the Vault records its fetch and
// download instruments against.
func ProvideMeter(mp metric.MeterProvider) metric.Meter {
	return mp.Meter("vmvault")
}

// ProvidePaths creates (if missing) and returns the Vault's on-disk layout
// rooted at cfg.CacheDir / cfg.DataDir.
func ProvidePaths(cfg *config.Config) (*vault.Paths, error) {
	return vault.NewPaths(cfg.CacheDir, cfg.DataDir)
}

// ProvideImageHosts provides the set of ImageHosts registered with the
// Vault. vaultctl ships a single demonstration host that resolves aliases
// against an OCI registry repository named by OCI_REPOSITORY.
func ProvideImageHosts() ([]vault.ImageHost, error) {
	repository := os.Getenv("OCI_REPOSITORY")
	if repository == "" {
		repository = "docker.io/library/alpine"
	}
	host, err := ocihost.New("release", repository)
	if err != nil {
		return nil, err
	}
	return []vault.ImageHost{host}, nil
}

// ProvideVault constructs the Vault with its default collaborators:
// the host registry, an HTTP downloader, an xz decoder, an allow-all
// policy, and the configured expiry.
func ProvideVault(cfg *config.Config, paths *vault.Paths, hosts []vault.ImageHost, logger *slog.Logger, meter metric.Meter) (*vault.Vault, error) {
	return vault.NewVault(
		paths,
		hosts,
		vault.NewHTTPDownloader(30*time.Minute),
		vault.NewXzDecoder(),
		vault.AllowAllPolicy{},
		cfg.Expiry(),
		logger,
		meter,
	)
}
