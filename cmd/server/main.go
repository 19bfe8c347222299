package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veriledger/internal/audit"
	"veriledger/internal/identity/cache"
	identitymetrics "veriledger/internal/identity/metrics"
	"veriledger/internal/identity/service"
	identitystore "veriledger/internal/identity/store"
	"veriledger/internal/ledger"
	ledgermetrics "veriledger/internal/ledger/metrics"
	"veriledger/internal/platform/config"
	"veriledger/internal/platform/httpserver"
	"veriledger/internal/platform/logger"
	"veriledger/internal/platform/otel"
	"veriledger/internal/platform/postgres"
	platformredis "veriledger/internal/platform/redis"
	"veriledger/internal/qr"
	httptransport "veriledger/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	shutdownTracing, err := otel.Setup(ctx, "veriledger", cfg.OTelEndpoint)
	if err != nil {
		log.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	// Storage backend is chosen once at startup. An unreachable Postgres
	// degrades to the in-memory store with reduced durability; the registry
	// never probes the connection per call.
	var identities identitystore.Store
	var chainOpts []ledger.Option
	db, err := postgres.Open(cfg.PostgresURL)
	switch {
	case err != nil:
		log.Warn("postgres unavailable, continuing with in-memory storage", "error", err)
		identities = identitystore.NewInMemory()
	case db == nil:
		log.Info("postgres not configured, using in-memory storage")
		identities = identitystore.NewInMemory()
	default:
		defer db.Close()
		pg := identitystore.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("identity schema migration failed", "error", err)
			os.Exit(1)
		}
		identities = pg

		archive := ledger.NewPostgresArchive(db)
		if err := archive.EnsureSchema(ctx); err != nil {
			log.Error("ledger schema migration failed", "error", err)
			os.Exit(1)
		}
		chainOpts = append(chainOpts, ledger.WithArchive(archive))
	}

	var policy ledger.Policy
	switch cfg.PolicyKind {
	case "counter":
		policy = ledger.NewCounterSeal([]byte(cfg.QRSigningKey))
	default:
		policy = ledger.NewProofOfWork(cfg.PoWDifficulty)
	}

	chainOpts = append(chainOpts,
		ledger.WithLogger(log),
		ledger.WithMetrics(ledgermetrics.New()),
	)
	chain, err := ledger.New(policy, chainOpts...)
	if err != nil {
		log.Error("chain construction failed", "error", err)
		os.Exit(1)
	}
	if err := chain.Load(ctx); err != nil {
		log.Error("chain restore failed", "error", err)
		os.Exit(1)
	}

	registryOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(identitymetrics.New()),
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, identity cache disabled", "error", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		registryOpts = append(registryOpts,
			service.WithCache(cache.New(redisClient.Client, cfg.CacheTTL, log)))
	}

	var publisher audit.Publisher = audit.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Warn("kafka unavailable, auditing to log only", "error", err)
		} else {
			defer kafka.Close()
			publisher = kafka
		}
	}
	registryOpts = append(registryOpts, service.WithAuditPublisher(publisher))

	registry := service.New(identities, chain, registryOpts...)
	codec := qr.NewCodec(cfg.QRSigningKey, registry)

	handler := httptransport.NewHandler(registry, codec, chain, log)
	router := httptransport.NewRouter(handler, log)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting veriledger", "addr", cfg.Addr, "policy", cfg.PolicyKind)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", "error", err)
	}
}
