package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookwise/booking-core/internal/api"
	"github.com/bookwise/booking-core/internal/booking"
	"github.com/bookwise/booking-core/internal/config"
	"github.com/bookwise/booking-core/internal/db"
	"github.com/bookwise/booking-core/internal/kafka"
	redisclient "github.com/bookwise/booking-core/internal/redis"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	// Event publishing is optional; without brokers the core logs events
	// to Postgres only.
	var publisher booking.Publisher
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(cfg.KafkaBrokers, 256)
		producer.Start(rootCtx)
		publisher = producer
		log.Printf("kafka producer started, brokers=%v", cfg.KafkaBrokers)
	} else {
		log.Println("no kafka brokers configured, event publishing disabled")
	}

	repo := booking.NewPgRepository(pgPool)
	ledger := booking.NewLedger(repo, publisher, cfg.KafkaTopicPrefix)
	locker := redisclient.NewRedisLocker(rdb, cfg.BookingLockTTL)
	manager := booking.NewManager(repo, ledger, locker, publisher, cfg)

	router := api.NewRouter(api.RouterConfig{
		Manager:             manager,
		Ledger:              ledger,
		PgPool:              pgPool,
		Redis:               rdb,
		Env:                 cfg.Env,
		Version:             version,
		StripeWebhookSecret: cfg.StripeWebhookKey,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-rootCtx.Done():
		log.Println("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if producer != nil {
		producer.Close()
		producer.WaitClosed()
	}

	log.Println("api-server stopped")
}
