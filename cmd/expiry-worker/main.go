package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookwise/booking-core/internal/booking"
	"github.com/bookwise/booking-core/internal/config"
	"github.com/bookwise/booking-core/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

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

	repo := booking.NewPgRepository(pgPool)

	// Run once at startup
	runOnce(rootCtx, repo, cfg.PurchaseTTL)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, cfg.PurchaseTTL)
		}
	}
}

func runOnce(ctx context.Context, repo booking.Repository, purchaseTTL time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := repo.ExpireActivePurchases(runCtx, start)
	if err != nil {
		log.Printf("expiry run error: %v", err)
		return
	}

	stale, err := repo.CancelStalePendingPurchases(runCtx, start.Add(-purchaseTTL))
	if err != nil {
		log.Printf("stale purchase run error: %v", err)
		return
	}

	if expired > 0 || stale > 0 {
		log.Printf("expiry run done in %s: expired=%d stale_cancelled=%d",
			time.Since(start).Round(time.Millisecond), expired, stale)
	}
}
