package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainsettle/internal/application"
	"chainsettle/internal/config"
	"chainsettle/internal/infrastructure/claims"
	"chainsettle/internal/infrastructure/ethrpc"
	"chainsettle/internal/infrastructure/kafka"
	"chainsettle/internal/infrastructure/logging"
	"chainsettle/internal/infrastructure/pricefeed"
	"chainsettle/internal/infrastructure/storage"
	"chainsettle/internal/infrastructure/telemetry"
	"chainsettle/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "chainsettle"})

	if err := run(cfg); err != nil {
		slog.Error("settlement service stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "chainsettle",
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
		SampleRatio:    1,
	})
	if err != nil {
		slog.Warn("tracing disabled", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	metrics := httpapi.NewMetrics()

	registry, err := application.NewRegistry(cfg.Networks, config.FromEnviron(), dialRPC)
	if err != nil {
		return err
	}
	gas, err := application.NewGasOracle(application.GasBidConfig{
		MinGwei:             cfg.Gas.MinGwei,
		MaxGwei:             cfg.Gas.MaxGwei,
		BaseIncreasePercent: cfg.Gas.BaseIncreasePercent,
	})
	if err != nil {
		return err
	}
	sender := application.NewTxSender(gas, application.SenderConfig{
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ReceiptPoll,
	}, metrics)

	dispatcherOpts := []application.DispatcherOption{
		application.WithWelcomeBonus(application.WelcomeBonusConfig{Amount: cfg.WelcomeBonus, Timeout: cfg.WelcomeTimeout}),
		application.WithBonusSink(func(failure application.BonusFailure) {
			metrics.OnWelcomeBonusFailure(failure.Request.Network)
			application.LogBonusFailure(failure)
		}),
	}
	verifierOpts := []application.VerifierOption{application.WithVerifierObserver(metrics)}
	var serverOpts []httpapi.Option

	if cfg.DBDriver != "" {
		repo, err := storage.Open(storage.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN, RedisAddr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		dispatcherOpts = append(dispatcherOpts, application.WithRewardStore(repo))
		verifierOpts = append(verifierOpts, application.WithPurchaseStore(repo))
		serverOpts = append(serverOpts, httpapi.WithRecordStore(repo))
	}

	if cfg.RedisAddr != "" {
		guard, err := claims.NewRedisGuard(claims.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		defer func() { _ = guard.Close() }()
		dispatcherOpts = append(dispatcherOpts, application.WithClaimGuard(guard))
		serverOpts = append(serverOpts, httpapi.WithReadinessCheck("claims", guard.Ping))
	} else {
		slog.Warn("REDIS_ADDR not set; welcome bonus claims are process-local")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		dispatcherOpts = append(dispatcherOpts, application.WithEventPublisher(producer))
		verifierOpts = append(verifierOpts, application.WithVerifierEvents(producer))
	}

	dispatcher, err := application.NewDispatcher(registry, application.DefaultStrategies(sender), dispatcherOpts...)
	if err != nil {
		return err
	}
	defer dispatcher.Shutdown()

	prices, err := pricefeed.NewClient(pricefeed.Config{
		BaseURL:           cfg.PriceAPIURL,
		APIKey:            cfg.PriceAPIKey,
		RequestsPerSecond: cfg.PriceRPS,
	})
	if err != nil {
		return err
	}
	verifier, err := application.NewVerifier(registry, prices, verifierOpts...)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(dispatcher, verifier, registry, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}, serverOpts...)
	if err != nil {
		return err
	}

	slog.Info("settlement service listening", "addr", cfg.HTTPAddr, "networks", dispatcher.Networks())
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr, cfg.ShutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("settlement service draining welcome bonuses")
	return nil
}

func dialRPC(ctx context.Context, url string) (application.ChainClient, error) {
	client, err := ethrpc.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}
