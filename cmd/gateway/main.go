// Command gateway launches the mangogate HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/mangogate/internal/app/account"
	"github.com/coachpo/mangogate/internal/app/fills"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/app/orders"
	"github.com/coachpo/mangogate/internal/infra/archive"
	"github.com/coachpo/mangogate/internal/infra/config"
	"github.com/coachpo/mangogate/internal/infra/persistence/migrations"
	"github.com/coachpo/mangogate/internal/infra/persistence/postgres"
	"github.com/coachpo/mangogate/internal/infra/rpc"
	httpserver "github.com/coachpo/mangogate/internal/infra/server/http"
	"github.com/coachpo/mangogate/internal/infra/signer"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
	"github.com/coachpo/mangogate/internal/observability"
)

const (
	defaultConfigPath        = "config/app.yaml"
	gatewayLoggerPrefix      = "gateway "
	fillStorePoolName        = "fills"
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	databaseShutdownTimeout  = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	apiReadHeaderTimeout     = 5 * time.Second
	startupDiscoveryTimeout  = 30 * time.Second
	logSinkShutdownTimeout   = time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newGatewayLogger(nil)

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, err := config.Load(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	sink, sinkCloser, err := observability.NewWriter(observability.FileOptions{
		Path:       appCfg.Logging.File,
		MaxSizeMB:  appCfg.Logging.MaxSizeMB,
		MaxBackups: appCfg.Logging.MaxBackups,
		MaxAgeDays: appCfg.Logging.MaxAgeDays,
		Compress:   appCfg.Logging.Compress,
	})
	if err != nil {
		logger.Fatalf("open log sink: %v", err)
	}
	logger = newGatewayLogger(sink)
	observability.SetLogger(observability.NewStdLogger(observability.NewLogger(sink, "mangogate"), appCfg.Environment == config.EnvDev))
	logger.Printf("configuration initialised: env=%s, group=%s", appCfg.Environment, appCfg.Group)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	var lifecycle conc.WaitGroup

	endpoints, err := buildEndpointPool(appCfg.Cluster, observability.NewLogger(sink, "rpc"))
	if err != nil {
		logger.Fatalf("initialise rpc endpoints: %v", err)
	}
	lifecycle.Go(func() { endpoints.Run(ctx, appCfg.Cluster.RotationInterval) })
	fetcher := rpc.NewFetcher(endpoints)
	logger.Printf("rpc endpoint pool ready: endpoint=%s, pinned=%t", endpoints.Current().Endpoint(), endpoints.Pinned())

	registry, err := markets.LoadRegistry(appCfg.Groups, appCfg.Group)
	if err != nil {
		logger.Fatalf("load market registry: %v", err)
	}
	logger.Printf("market registry loaded: group=%s, markets=%d", registry.Group().Name, len(registry.Markets()))

	key, keyErr := signer.LoadKeypair(appCfg.Wallet.Keypair, appCfg.Wallet.KeypairPath)
	address, err := resolveAccount(ctx, fetcher, registry.Group(), key, keyErr, appCfg.Wallet.MangoAccount)
	if err != nil {
		logger.Fatalf("resolve margin account: %v", err)
	}
	logger.Printf("margin account selected: %s", address)

	accountLogger := observability.NewLogger(sink, "account")
	marketLogger := observability.NewLogger(sink, "markets")
	service := markets.NewService(registry, fetcher, account.NewLoader(fetcher, address, accountLogger), markets.NewNormalizer(marketLogger, time.Now), marketLogger)

	archiveClient, err := archive.NewClient(archive.Options{
		FillsURL:      appCfg.Archive.FillsURL,
		MarketDataURL: appCfg.Archive.MarketDataURL,
		Timeout:       appCfg.Archive.Timeout,
		MaxRetries:    appCfg.Archive.MaxRetries,
		Logger:        observability.NewLogger(sink, "archive"),
	})
	if err != nil {
		logger.Fatalf("initialise archive client: %v", err)
	}

	history, recorder, store, err := initFillHistory(ctx, logger, appCfg, archiveClient)
	if err != nil {
		logger.Fatalf("initialise fill history: %v", err)
	}
	reconciler := fills.NewReconciler(service, fetcher, history, fills.Options{
		RecentLimit: appCfg.Fills.RecentLimit,
		Recorder:    recorder,
		Logger:      observability.NewLogger(sink, "fills"),
	})

	manager, err := buildOrderManager(appCfg.Signer, registry.Group(), key, keyErr, address, fetcher, service, observability.NewLogger(sink, "orders"))
	if err != nil {
		logger.Fatalf("initialise order manager: %v", err)
	}

	apiServer := buildAPIServer(appCfg.APIServer, httpserver.Options{
		Markets:    service,
		Orders:     manager,
		Fills:      reconciler,
		Positions:  service,
		MarketData: archiveClient,
		Health:     endpointHealth(endpoints),
		Logger:     observability.NewLogger(sink, "http"),
	})
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("API listening on %s", apiServer.Addr)

	logger.Print("gateway started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		store:      store,
		telemetry:  telemetryProvider,
		logSink:    sinkCloser,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGatewayLogger(w io.Writer) *log.Logger {
	return observability.NewLogger(w, gatewayLoggerPrefix)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func buildEndpointPool(cfg config.ClusterConfig, logger *log.Logger) (*rpc.EndpointPool, error) {
	return rpc.NewEndpointPool(rpc.PoolOptions{
		Initial:        cfg.URL,
		Candidates:     cfg.Candidates,
		PinnedPatterns: cfg.PinnedPatterns,
		NewClient: func(endpoint string) (*rpc.Client, error) {
			return rpc.NewClient(rpc.Options{
				Endpoint:              endpoint,
				Commitment:            cfg.Commitment,
				Timeout:               cfg.Timeout,
				RequestsPerSecond:     cfg.RequestsPerSecond,
				Burst:                 cfg.Burst,
				MaxRetries:            cfg.MaxRetries,
				MaxAccountsPerRequest: cfg.MaxAccountsPerRequest,
				Logger:                logger,
			})
		},
		Logger: logger,
	})
}

// resolveAccount picks the margin account to serve. Without a keypair the
// configured account is used as is and the gateway runs read-only.
func resolveAccount(ctx context.Context, fetcher account.Fetcher, group markets.GroupInfo, key solana.PrivateKey, keyErr error, preferred string) (solana.PublicKey, error) {
	if keyErr != nil {
		preferred = strings.TrimSpace(preferred)
		if preferred == "" {
			return solana.PublicKey{}, fmt.Errorf("load keypair: %w", keyErr)
		}
		address, err := solana.PublicKeyFromBase58(preferred)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("parse margin account %q: %w", preferred, err)
		}
		return address, nil
	}
	discoverCtx, cancel := context.WithTimeout(ctx, startupDiscoveryTimeout)
	defer cancel()
	return account.Discover(discoverCtx, fetcher, group.MangoProgram, group.Address, key.PublicKey(), preferred)
}

// initFillHistory returns the archive the reconciler reads history from and,
// with the postgres driver, the store recent fills are written through to.
func initFillHistory(ctx context.Context, logger *log.Logger, cfg config.AppConfig, remote *archive.Client) (fills.Archive, fills.Recorder, *postgres.Store, error) {
	if cfg.Archive.Driver != config.ArchivePostgres {
		logger.Printf("fill history: http archive")
		return remote, nil, nil, nil
	}
	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, migrations.Embedded, logger); err != nil {
			return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	store, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	postgres.ObservePoolMetrics(store.Pool(), fillStorePoolName)
	fillStore := postgres.NewFillStore(store.Pool())
	logger.Printf("fill history: postgres")
	return fillStore, fillStore, store, nil
}

// buildOrderManager wires the relay when one is configured and a keypair is
// available. Otherwise the manager is read-only.
func buildOrderManager(cfg config.SignerConfig, group markets.GroupInfo, key solana.PrivateKey, keyErr error, address solana.PublicKey, fetcher *rpc.Fetcher, service *markets.Service, logger *log.Logger) (*orders.Manager, error) {
	if !cfg.Enabled() {
		logger.Print("signer relay not configured; order placement disabled")
		return orders.NewManager(service, nil, logger), nil
	}
	if keyErr != nil {
		return nil, fmt.Errorf("signer relay requires a keypair: %w", keyErr)
	}
	opts := signer.Options{
		RelayURL: cfg.URL,
		Key:      key,
		Group:    group.Address,
		Account:  address,
		Timeout:  cfg.Timeout,
		Logger:   logger,
	}
	if cfg.Confirm {
		opts.Confirmer = signer.NewConfirmer(fetcher, cfg.ConfirmTimeout, 0, logger)
	}
	client, err := signer.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return orders.NewManager(service, client, logger), nil
}

func endpointHealth(pool *rpc.EndpointPool) func(context.Context) error {
	return func(context.Context) error {
		if pool.Current() == nil {
			return errors.New("no rpc endpoint")
		}
		return nil
	}
}

func buildAPIServer(cfg config.APIServerConfig, opts httpserver.Options) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(opts),
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("api server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	store      *postgres.Store
	telemetry  *telemetry.Provider
	logSink    io.Closer
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.store != nil {
		shutdownStep("closing database pool", databaseShutdownTimeout, func(context.Context) error {
			cfg.store.Close()
			return nil
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	if cfg.logSink != nil {
		shutdownStep("closing log sink", logSinkShutdownTimeout, func(context.Context) error {
			return cfg.logSink.Close()
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return filepath.Clean(defaultConfigPath)
}
