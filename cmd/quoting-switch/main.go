package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/quoting-switch/internal/api"
	"github.com/Checker-Finance/quoting-switch/internal/config"
	"github.com/Checker-Finance/quoting-switch/internal/dedupe"
	"github.com/Checker-Finance/quoting-switch/internal/flows"
	"github.com/Checker-Finance/quoting-switch/internal/forwarder"
	"github.com/Checker-Finance/quoting-switch/internal/httpclient"
	"github.com/Checker-Finance/quoting-switch/internal/jobs"
	"github.com/Checker-Finance/quoting-switch/internal/jws"
	"github.com/Checker-Finance/quoting-switch/internal/notifier"
	"github.com/Checker-Finance/quoting-switch/internal/participants"
	"github.com/Checker-Finance/quoting-switch/internal/proxy"
	"github.com/Checker-Finance/quoting-switch/internal/rate"
	"github.com/Checker-Finance/quoting-switch/internal/router"
	"github.com/Checker-Finance/quoting-switch/internal/rules"
	"github.com/Checker-Finance/quoting-switch/internal/store"
	"github.com/Checker-Finance/quoting-switch/internal/tracing"
	"github.com/Checker-Finance/quoting-switch/internal/transport"
	"github.com/Checker-Finance/quoting-switch/internal/workers"
	"github.com/Checker-Finance/quoting-switch/pkg/logger"
	"github.com/Checker-Finance/quoting-switch/pkg/model"
	"github.com/Checker-Finance/quoting-switch/pkg/secrets"
	"github.com/Checker-Finance/quoting-switch/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infow("starting [quoting-switch]...",
		"hub", cfg.HubName,
		"transport", cfg.Transport,
		"simple_routing", cfg.SimpleRoutingMode)

	shutdownTracing := tracing.Setup(cfg.ServiceName, cfg.TraceSampleRatio)

	// --- Store ---
	var (
		st      store.Store
		sweeper *jobs.ExpirySweeper
	)
	if cfg.DatabaseURL == "" {
		logg.Warn("DATABASE_URL is empty, using the in-memory store")
		st = store.NewMemory()
	} else {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		pg, err := store.NewPG(ctx, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logger.L())
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logg.Fatalw("failed to apply schema", "error", err)
		}
		st = pg

		if cfg.ExpirySweepInterval > 0 {
			sweeper = jobs.NewExpirySweeper(logger.L(), pg.PG, cfg.ExpirySweepInterval)
			go sweeper.Start(ctx)
		}
	}
	checks := map[string]api.HealthChecker{"store": st}

	// --- Outbound HTTP ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.OutboundRPS,
		Burst:             cfg.OutboundBurst,
	})
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	callbackExec := httpclient.New(logger.L().Named("callbacks"), rateMgr, httpClient, 0, "participant", nil)

	// --- Participant directory ---
	var dir participants.Directory = st
	if cfg.SimpleRoutingMode {
		ledgerExec := httpclient.New(logger.L().Named("ledger"), nil, httpClient, 2, "ledger", participants.NotFoundHandler)
		dir = participants.NewLedgerClient(cfg.CentralLedgerURL, ledgerExec)
	}

	resolverOpts := participants.Options{
		SelfHeal: cfg.ProxySelfHeal,
		CacheTTL: cfg.ParticipantCacheTTL,
		CacheMax: cfg.ParticipantCacheMax,
		Logger:   logger.L(),
	}
	var proxyCache *proxy.RedisClient
	if cfg.ProxyCacheEnabled {
		proxyCache = proxy.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, logger.L())
		if err := proxyCache.Connect(ctx); err != nil {
			logg.Warnw("proxy cache unavailable, continuing without it until reconnect", "error", err)
		}
		resolverOpts.Proxy = proxyCache
		checks["proxy_cache"] = proxyCache
	}
	resolver := participants.NewResolver(dir, resolverOpts)
	stopCleaner := make(chan struct{})
	resolver.StartCleaner(cfg.CleanupFreq, stopCleaner)

	// --- Signing ---
	var signer jws.Signer
	if cfg.JWSSign {
		key, err := loadSigningKey(ctx, cfg)
		if err != nil {
			logg.Fatalw("failed to load JWS signing key", "error", err)
		}
		signer = jws.NewRSASigner(key)
	}

	fwd := forwarder.New(forwarder.Options{
		Executor: callbackExec,
		Signer:   signer,
		HubName:  cfg.HubName,
		Protocol: cfg.Protocol,
		Logger:   logger.L(),
	})
	notif := notifier.New(resolver, fwd, cfg.HubName, logger.L())

	// --- Rules ---
	var ruleSet []rules.Rule
	if cfg.RulesPath != "" {
		var err error
		if ruleSet, err = rules.Load(cfg.RulesPath); err != nil {
			logg.Fatalw("failed to load rules", "path", cfg.RulesPath, "error", err)
		}
		logg.Infow("rules loaded", "path", cfg.RulesPath, "count", len(ruleSet))
	}

	// --- Flows & router ---
	deps := flows.Deps{
		Store:         st,
		Dedupe:        dedupe.New(st),
		Resolver:      resolver,
		Rules:         rules.NewEngine(ruleSet, logger.L()),
		Sender:        fwd,
		Notifier:      notif,
		HubName:       cfg.HubName,
		SimpleRouting: cfg.SimpleRoutingMode,
		Logger:        logger.L(),
	}
	pool := workers.New(cfg.WorkerPoolSize, logger.L())
	rt := router.New(pool, tracing.Tracer(), logger.L())
	rt.Register(model.TypeQuote, flows.NewQuotes(deps))
	rt.Register(model.TypeBulkQuote, flows.NewBulkQuotes(deps))
	rt.Register(model.TypeFxQuote, flows.NewFxQuotes(deps))

	// --- Transport ---
	var (
		pub     api.EventPublisher
		closers []func()
	)
	switch cfg.Transport {
	case "amqp":
		logg.Info("connection to RabbitMQ: ", utils.MaskDSN(cfg.RabbitMQURL))
		consumer, err := transport.NewAMQPConsumer(cfg.RabbitMQURL, cfg.NATSSubjectPrefix, cfg.NATSBatchSize, rt, logger.L())
		if err != nil {
			logg.Fatalw("failed to init AMQP consumer", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logg.Fatalw("failed to start AMQP consumer", "error", err)
		}
		amqpPub, err := transport.NewAMQPPublisher(cfg.RabbitMQURL, cfg.NATSSubjectPrefix, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init AMQP publisher", "error", err)
		}
		pub = amqpPub
		closers = append(closers,
			func() { _ = consumer.Close() },
			func() { _ = amqpPub.Close() })

	default:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		natsPub, err := transport.NewPublisher(nc, cfg.NATSSubjectPrefix, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		consumer, err := transport.NewNATSConsumer(nc, transport.NATSConfig{
			Stream:    cfg.NATSStream,
			Durable:   cfg.ServiceName,
			Prefix:    cfg.NATSSubjectPrefix,
			BatchSize: cfg.NATSBatchSize,
			FetchWait: cfg.NATSFetchWait,
		}, rt, logger.L())
		if err != nil {
			logg.Fatalw("failed to init NATS consumer", "error", err)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logg.Errorw("nats_consumer.stopped", "error", err)
			}
		}()
		pub = natsPub
		checks["nats"] = api.NATSHealth(nc)
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				logg.Warnw("nats.drain_failed", "error", err)
			}
		})
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	api.RegisterRoutes(app, api.NewHandler(logger.L(), pub, tracing.Tracer()), checks)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[quoting-switch] running",
		"env", cfg.Env,
		"port", cfg.Port,
		"rules", len(ruleSet),
		"workers", cfg.WorkerPoolSize)

	<-ctx.Done()
	logg.Info("shutting down [quoting-switch]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	for _, c := range closers {
		c()
	}
	pool.Wait()
	close(stopCleaner)
	if sweeper != nil {
		sweeper.Stop()
	}
	if proxyCache != nil {
		if err := proxyCache.Close(); err != nil {
			logg.Warnw("proxy.close_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Warnw("tracing.shutdown_failed", "error", err)
	}
}

// loadSigningKey prefers a key file and falls back to AWS Secrets Manager.
func loadSigningKey(ctx context.Context, cfg *config.Config) (*rsa.PrivateKey, error) {
	if cfg.JWSSigningKeyPath != "" {
		return jws.LoadKeyFile(cfg.JWSSigningKeyPath)
	}
	if cfg.JWSSigningKeySecret == "" {
		return nil, fmt.Errorf("JWS_SIGN is set but neither JWS_SIGNING_KEY_PATH nor JWS_SIGNING_KEY_SECRET is configured")
	}
	provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return jws.LoadKeySecret(ctx, provider, cfg.JWSSigningKeySecret)
}
