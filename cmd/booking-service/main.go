package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"booking-service/internal/booking/api"
	"booking-service/internal/booking/app"
	"booking-service/internal/booking/authz"
	"booking-service/internal/booking/consumer"
	"booking-service/internal/booking/domain"
	"booking-service/internal/booking/projection"
	"booking-service/internal/booking/publisher"
	"booking-service/internal/booking/repo"
	"booking-service/internal/shared/config"
	"booking-service/internal/shared/db"
	"booking-service/internal/shared/health"
	"booking-service/internal/shared/jwt"
	"booking-service/internal/shared/models"
	"booking-service/internal/shared/mq"
	"booking-service/internal/shared/util"
)

const shutdownTimeout = 10 * time.Second

// store is everything the service persists, whichever backend holds it.
type store interface {
	domain.LedgerRepository
	domain.ProjectionRepository
	domain.Deduplicator
	domain.OutboxRepository
	domain.DeadLetterRepository
	health.Pinger
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	log := util.New()
	log.Info("BookingService", "Starting service initialization...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Config", err)
	}
	log.SetLevel(util.ParseLevel(cfg.Log.Level))
	log.OK("Config", "Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Storage", err)
	}
	defer closeStore()

	rmq, err := mq.ConnectToRMQ(ctx, &cfg.RabbitMQ, domain.InboundTopics, log)
	if err != nil {
		log.Fatal("RabbitMQ", err)
	}
	defer rmq.Close()

	broker := mq.NewPublisher(rmq)
	effects := publisher.New(broker, st, st, publisher.Config{
		Exchange: cfg.RabbitMQ.Exchange,
		Backoff: util.Backoff{
			Attempts: cfg.Publish.MaxAttempts,
			Initial:  cfg.Publish.InitialBackoff,
			Max:      cfg.Publish.MaxBackoff,
		},
		Timeout: cfg.Publish.Timeout,
	}, log)
	relay := publisher.NewRelay(broker, st, cfg.RabbitMQ.Exchange, cfg.Publish.RelayInterval, cfg.Publish.RelayBatch, cfg.Publish.Timeout, log)

	projections := projection.NewStore(st, log)
	service := app.NewBookingService(st, projections, authz.NewGate(), effects, log)

	events := consumer.NewEventConsumer(rmq, service.EventHandlers(), st, util.Backoff{
		Attempts: cfg.Ingest.MaxAttempts,
		Initial:  cfg.Ingest.InitialBackoff,
		Max:      cfg.Ingest.MaxBackoff,
	}, log)

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		events.Start(ctx)
	}()
	go func() {
		defer workers.Done()
		relay.Start(ctx)
	}()

	tokens := jwt.NewManager(cfg.Auth.JWTSecret, jwt.DefaultTTL)
	checks := map[string]health.Check{
		"storage":  health.PingCheck(st),
		"rabbitmq": health.ConnectionCheck(rmq),
	}
	handler := api.NewHandler(service, log)
	mux := handler.RegisterRoutes(
		authz.NewTokenAuthenticator(tokens),
		health.Handler(cfg.Service.Name, checks),
		cfg.Service.RequestTimeout,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Service.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.OK("HTTP", fmt.Sprintf("%s running on :%s", cfg.Service.Name, cfg.Service.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Warn("BookingService", "Shutting down booking-service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Errorf("shutdown: %w", err))
	} else {
		log.OK("HTTP", "Server stopped gracefully")
	}

	workers.Wait()
	log.Info("BookingService", "Shutdown complete")
}

func openStore(ctx context.Context, cfg *models.Config, log *util.Logger) (store, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		log.Warn("Storage", "using in-memory storage; state is lost on restart")
		return repo.NewMemory(), func() {}, nil
	case config.StoragePostgres:
		pool, err := db.ConnectToDB(ctx, &cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.OK("Database", "Schema is up to date")
		return pg, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
