package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatecheck/internal/attendance"
	"gatecheck/internal/config"
	"gatecheck/internal/notify"
	"gatecheck/internal/station"
	"gatecheck/internal/store"
)

// Headless station: keeps a warm local roster for a wall dashboard by
// subscribing to change notifications and logging turnout as it moves.
func main() {
	cfg := config.Load()
	if cfg.TenantID == "" {
		log.Fatal("TENANT_ID is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var notifier notify.Notifier
	if cfg.NotifyBackend == "memory" {
		notifier = notify.NewMemoryBroker()
	} else {
		notifier = notify.NewRedisNotifier(redisClient.Client, "gatecheck")
	}

	roster := attendance.NewRepository(db.Client)
	sess := station.NewSession(roster, notifier, cfg.TenantID, cfg.SubEventID)
	sess.ResyncEvery = cfg.ResyncEvery

	scope := "reception"
	if cfg.SubEventID != "" {
		scope = "sub-event " + cfg.SubEventID
	}
	log.Printf("station started for tenant %s (%s)", cfg.TenantID, scope)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				done, total := sess.Counts()
				log.Printf("turnout: %d/%d", done, total)
			}
		}
	}()

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("station session failed: %v", err)
	}
	log.Println("station stopped")
}
