package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/auction/internal/api"
	"github.com/Checker-Finance/auction/internal/auction"
	"github.com/Checker-Finance/auction/internal/config"
	"github.com/Checker-Finance/auction/internal/httpclient"
	"github.com/Checker-Finance/auction/internal/jobs"
	"github.com/Checker-Finance/auction/internal/ledger"
	"github.com/Checker-Finance/auction/internal/publisher"
	"github.com/Checker-Finance/auction/internal/rabbitmq"
	"github.com/Checker-Finance/auction/internal/rate"
	internalsecrets "github.com/Checker-Finance/auction/internal/secrets"
	"github.com/Checker-Finance/auction/internal/seed"
	"github.com/Checker-Finance/auction/internal/store"
	"github.com/Checker-Finance/auction/internal/stream"
	"github.com/Checker-Finance/auction/internal/webhook"
	"github.com/Checker-Finance/auction/pkg/eventbus"
	"github.com/Checker-Finance/auction/pkg/logger"
	"github.com/Checker-Finance/auction/pkg/model"
	"github.com/Checker-Finance/auction/pkg/secrets"
	"github.com/Checker-Finance/auction/pkg/utils"
)

// balanceLedger is what the engine, the balance endpoint and the seed loader
// need from a ledger.
type balanceLedger interface {
	auction.Ledger
	api.Balances
	seed.Depositor
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, cfg.ServiceName, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		logg.Fatalw("failed to ensure schema", "error", err)
	}

	// --- Ledger ---
	initial, err := model.ToMinor(cfg.LedgerInitialBalance, cfg.AmountDecimals)
	if err != nil {
		logg.Fatalw("invalid LEDGER_INITIAL_BALANCE", "error", err)
	}
	var led balanceLedger
	switch cfg.LedgerBackend {
	case "memory":
		led = ledger.NewMemory(initial)
	case "redis":
		led = ledger.NewRedis(st.Redis(), "", initial)
	default:
		logg.Fatalw("unknown LEDGER_BACKEND", "backend", cfg.LedgerBackend)
	}

	// --- Listing creation policy ---
	stopCleaner := make(chan struct{})
	policy, err := buildPolicy(ctx, cfg, stopCleaner)
	if err != nil {
		logg.Fatalw("failed to init create policy", "policy", cfg.CreatePolicy, "error", err)
	}

	// --- Engine + event bus ---
	bus := eventbus.New(logger.Named("eventbus"))
	engine := auction.New(
		auction.WithLedger(led),
		auction.WithNotifier(bus),
		auction.WithCreatePolicy(policy),
		auction.WithLogger(logger.Named("auction")),
	)

	snapshots, err := st.LoadListings(ctx)
	if err != nil {
		logg.Fatalw("failed to load listings", "error", err)
	}
	if err := engine.Restore(ctx, snapshots); err != nil {
		logg.Fatalw("failed to restore listings", "error", err)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.EventSubjectPrefix, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}
	if err := pub.EnsureStream(cfg.NATSStream); err != nil {
		logg.Fatalw("failed to ensure stream", "stream", cfg.NATSStream, "error", err)
	}

	// --- Event subscribers (synchronous, in subscription order) ---
	archiver := store.NewArchiver(st, engine, logger.Named("archiver"))
	bus.SubscribeAll(archiver.Handle)
	bus.SubscribeAll(pub.Handle)

	hub := stream.NewHub(logger.Named("stream"))
	bus.SubscribeAll(hub.Handle)

	sweeper := jobs.NewCloseSweeper(logger.Named("close_sweeper"), engine, bus, cfg.SweepInterval)
	bus.Subscribe(model.ListingCreated{}, sweeper.Handle)

	var rmqPub *rabbitmq.Publisher
	var rmqConsumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" {
		logg.Info("connection to RabbitMQ: ", utils.MaskDSN(cfg.RabbitMQURL))
		rmqPub, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.ServiceName, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init rabbitmq publisher", "error", err)
		}
		bus.SubscribeAll(rmqPub.Handle)

		rmqConsumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, cfg.RabbitMQCommandQueue, engine, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init rabbitmq consumer", "error", err)
		}
	}

	var hook *webhook.Notifier
	if cfg.WebhookURL != "" {
		exec := httpclient.New(logger.Named("webhook"), rate.NewManager(rate.Config{
			RequestsPerSecond: 20,
			Burst:             40,
		}), nil, cfg.WebhookRetryMax, "webhook", nil)
		hook, err = webhook.New(cfg.WebhookURL, cfg.ServiceName, exec, logger.Named("webhook"))
		if err != nil {
			logg.Fatalw("failed to init webhook notifier", "url", utils.MaskURL(cfg.WebhookURL), "error", err)
		}
		bus.SubscribeAll(hook.Handle)
	}

	// --- Seed balances and listings (only into an empty registry) ---
	if cfg.ListingsSeedPath != "" {
		if len(snapshots) > 0 {
			logg.Infow("skipping seed, listings restored", "restored", len(snapshots))
		} else {
			f, err := seed.DecodeFile(cfg.ListingsSeedPath)
			if err != nil {
				logg.Fatalw("failed to read seed file", "error", err)
			}
			if err := seed.ApplyBalances(ctx, led, f, cfg.AmountDecimals, logger.Named("seed")); err != nil {
				logg.Fatalw("failed to seed balances", "error", err)
			}
			if _, err := seed.Apply(ctx, engine, f, model.Identity(cfg.SeedCreator), cfg.AmountDecimals, logger.Named("seed")); err != nil {
				logg.Fatalw("failed to seed listings", "error", err)
			}
		}
	}
	bootstrapped := sweeper.Bootstrap(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	bidLimiter := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.BidRatePerSecond,
		Burst:             cfg.BidRateBurst,
	})
	handler := api.NewHandler(logger.Named("api"), engine, led, st, cfg.AmountDecimals)
	api.RegisterRoutes(app, nc, st, handler, bidLimiter)

	// --- Websocket stream server ---
	streamSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.StreamPort),
		Handler:           stream.NewHandler(hub, engine, logger.Named("stream")).Router(),
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		return app.Listen(fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		logg.Infof("bid stream listening on :%d", cfg.StreamPort)
		if err := streamSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	var refresher *jobs.SummaryRefresher
	if st.PG != nil {
		refresher = jobs.NewSummaryRefresher(logger.Named("summary_refresher"), nc, st.PG, cfg.SummaryInterval)
		g.Go(func() error {
			refresher.Start(gctx)
			return nil
		})
	}
	if hook != nil {
		g.Go(func() error { return hook.Run(gctx) })
	}
	if rmqConsumer != nil {
		g.Go(func() error { return rmqConsumer.Start(gctx) })
	}

	logg.Infow(fmt.Sprintf("[%s] running", cfg.ServiceName),
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"listings", len(engine.Listings(ctx)),
		"pending_closes", bootstrapped,
		"ledger", cfg.LedgerBackend,
		"create_policy", cfg.CreatePolicy)

	// Any server failing cancels gctx and starts the shutdown.
	<-gctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	close(stopCleaner)
	sweeper.Stop()
	if refresher != nil {
		refresher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := streamSrv.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("stream.shutdown_failed", "error", err)
	}
	hub.Close()
	if err := g.Wait(); err != nil {
		logg.Errorw("server exited with error", "error", err)
	}

	if rmqConsumer != nil {
		if err := rmqConsumer.Close(); err != nil {
			logg.Warnw("rabbitmq.consumer_close_failed", "error", err)
		}
	}
	if rmqPub != nil {
		if err := rmqPub.Close(); err != nil {
			logg.Warnw("rabbitmq.publisher_close_failed", "error", err)
		}
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

// buildPolicy selects who may create listings.
func buildPolicy(ctx context.Context, cfg *config.Config, stopCleaner <-chan struct{}) (auction.CreatePolicy, error) {
	switch cfg.CreatePolicy {
	case "open":
		return auction.AllowAll{}, nil
	case "allowlist":
		list := make(auction.Allowlist, 0, len(cfg.CreatorAllowlist))
		for _, id := range cfg.CreatorAllowlist {
			list = append(list, model.Identity(id))
		}
		if len(list) == 0 {
			return nil, errors.New("CREATOR_ALLOWLIST is empty")
		}
		return list, nil
	case "secrets":
		provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		cache := secrets.NewCache[internalsecrets.CreatorProfile](cfg.CacheTTL)
		go cache.StartCleaner(cfg.CleanupFreq, stopCleaner)

		resolver := internalsecrets.NewResolver(logger.Named("secrets"), cfg.Env, internalsecrets.Scope, provider, cache)
		policy := internalsecrets.NewCreatorPolicy(resolver, logger.Named("secrets"))
		if n, err := policy.Warm(ctx); err != nil {
			logger.L().Warn("secrets.warm_failed", zap.Error(err))
		} else {
			logger.L().Info("secrets.creators_warmed", zap.Int("count", n))
		}
		return policy, nil
	default:
		return nil, fmt.Errorf("unknown CREATE_POLICY %q", cfg.CreatePolicy)
	}
}
