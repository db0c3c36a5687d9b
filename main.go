package main

import (
	"context"
	"log"
	"net/http"

	"gateway-service/internal/audit"
	"gateway-service/internal/config"
	"gateway-service/internal/credential"
	"gateway-service/internal/db"
	"gateway-service/internal/engine"
	"gateway-service/internal/kafka"
	"gateway-service/internal/logging"
	"gateway-service/internal/metrics"
	"gateway-service/internal/outbox"
	"gateway-service/internal/provider"
	"gateway-service/internal/provider/epx"
	"gateway-service/internal/reconciler"
	"gateway-service/internal/recovery"
	"gateway-service/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.GetConnStr(cfg.Database)
	if err := db.RunMigrations(connStr, "migrations"); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	repo := db.NewRepository(dbpool)

	adapters := make([]provider.Adapter, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Code {
		case "epx":
			adapters = append(adapters, epx.New(p.BaseURL, p.TimeoutMs))
		default:
			log.Fatalf("unknown provider code %q", p.Code)
		}
	}
	registry := provider.NewRegistry(adapters...)
	resolver := credential.NewEnvResolver()

	recoveryProtocol := recovery.NewProtocol(cfg.Recovery, logger)
	auditLogger := audit.NewSlogLogger(logger)

	paymentEngine := engine.New(repo, registry, resolver, recoveryProtocol, auditLogger, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventWriter := kafka.NewWriter(cfg.Kafka)
	defer eventWriter.Close()

	dispatcher := outbox.NewDispatcher(repo, eventWriter, cfg.Outbox, logger)
	dispatcher.Start(ctx)

	achReconciler := reconciler.New(repo, registry, resolver, cfg.Reconciler, logger)
	achReconciler.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server.New(paymentEngine, logger).Register(mux)

	log.Fatal(http.ListenAndServe(":"+cfg.Server.Port, mux))
}
