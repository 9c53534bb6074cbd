package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tonfaucet/chain"
	"tonfaucet/config"
	"tonfaucet/faucet"
	"tonfaucet/observability/logging"
	telemetry "tonfaucet/observability/otel"
	"tonfaucet/server"
	"tonfaucet/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to faucetd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FAUCET_ENV"))
	logger := logging.Setup("faucetd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "faucetd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("faucetd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("faucetd: load config: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(rootCtx, cfg)
	if err != nil {
		log.Fatalf("faucetd: open storage: %v", err)
	}
	defer kv.Close()

	client, err := chain.NewHTTPClient(chain.HTTPConfig{
		Endpoint: cfg.Chain.Endpoint,
		APIKey:   cfg.ChainAPIKey(),
		Timeout:  cfg.Chain.Timeout.Duration,
	})
	if err != nil {
		log.Fatalf("faucetd: chain client: %v", err)
	}

	mnemonic, err := cfg.Mnemonic()
	if err != nil {
		log.Fatalf("faucetd: resolve wallet mnemonic: %v", err)
	}
	var walletOpts []faucet.WalletOption
	if cfg.Wallet.ReserveRetries > 0 {
		walletOpts = append(walletOpts, faucet.WithReserveRetries(cfg.Wallet.ReserveRetries))
	}
	if cfg.Wallet.DraftValidity.Duration > 0 {
		walletOpts = append(walletOpts, faucet.WithDraftValidity(cfg.Wallet.DraftValidity.Duration))
	}
	wallet, err := faucet.NewWallet(mnemonic, kv, client, walletOpts...)
	if err != nil {
		log.Fatalf("faucetd: wallet: %v", err)
	}
	logger.Info("wallet ready", "address", wallet.Address())

	defaultAmount, err := cfg.ParsedDefaultAmount()
	if err != nil {
		log.Fatalf("faucetd: %v", err)
	}
	maxAmount, err := cfg.ParsedMaxAmount()
	if err != nil {
		log.Fatalf("faucetd: %v", err)
	}

	ledger := faucet.NewLedger(kv, faucet.WithLedgerLogger(logging.Component(logger, "ledger")))
	limiter := faucet.NewRateLimiter(kv, cfg.Faucet.MaxClaimsPerWindow, cfg.Faucet.Window.Duration)
	executor := faucet.NewExecutor(client, faucet.ExecutorConfig{
		PollInitial:    cfg.Faucet.PollInitial.Duration,
		PollMax:        cfg.Faucet.PollMax.Duration,
		ConfirmTimeout: cfg.Faucet.ConfirmTimeout.Duration,
	})

	orchOpts := []faucet.OrchestratorOption{
		faucet.WithLogger(logging.Component(logger, "orchestrator")),
		faucet.WithAmounts(defaultAmount, maxAmount),
	}
	if cfg.Faucet.PauseOnStart {
		orchOpts = append(orchOpts, faucet.WithPaused())
	}
	orch := faucet.NewOrchestrator(ledger, limiter, wallet, executor, orchOpts...)

	reconciler := faucet.NewReconciler(ledger, orch, faucet.ReconcilerConfig{
		Interval:   cfg.Reconciler.Interval.Duration,
		StaleAfter: cfg.Reconciler.StaleAfter.Duration,
	}, logging.Component(logger, "reconciler"))

	var auth *server.Authenticator
	token, err := cfg.AdminBearerToken()
	if err != nil {
		log.Fatalf("faucetd: resolve admin bearer token: %v", err)
	}
	if token != "" {
		auth, err = server.NewAuthenticator(token)
		if err != nil {
			log.Fatalf("faucetd: configure admin auth: %v", err)
		}
	} else {
		logger.Warn("admin endpoints disabled: no bearer token configured")
	}

	handler, err := server.New(server.Config{
		Orchestrator: orch,
		Reconciler:   reconciler,
		Auth:         auth,
		Logger:       logging.Component(logger, "http"),
	})
	if err != nil {
		log.Fatalf("faucetd: server: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(rootCtx)
	group.Go(func() error {
		return reconciler.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("faucetd: %v", err)
	}
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.KV, error) {
	switch strings.TrimSpace(cfg.Storage.Backend) {
	case "redis":
		return storage.NewRedisKV(ctx, storage.RedisConfig{
			Addr:        cfg.Storage.Redis.Addr,
			Password:    cfg.RedisPassword(),
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.DialTimeout.Duration,
			OpTimeout:   cfg.Storage.Redis.OpTimeout.Duration,
		})
	case "leveldb":
		return storage.NewLevelKV(cfg.Storage.LevelDB.Path)
	case "memory":
		return storage.NewMemKV(), nil
	default:
		return nil, errors.New("unknown storage backend")
	}
}
