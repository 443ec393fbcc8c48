package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/gateway"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/repository/postgres"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// Headless dispatcher: the same poller and janitor the server embeds, for
// deployments that scale sending separately from the API.
func main() {
	log.Println("Starting campaign-dispatch worker...")

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	loc, err := cfg.Dispatcher.Location()
	if err != nil {
		log.Fatalf("Invalid campaign timezone: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	repo := postgres.NewCampaignRepo(db)
	sender := gateway.NewClient(cfg.Gateway, nil)

	dispatcher := worker.NewDispatcher(repo, sender, loc, cfg.Dispatcher.Budget())
	dispatcher.SetLockFactory(func(campaignID string) distlock.DistLock {
		return distlock.NewLock(redisClient, db, "dispatch:campaign:"+campaignID, cfg.Dispatcher.LockTTL())
	})

	poller := worker.NewPoller(dispatcher, cfg.Dispatcher.PollInterval())
	if err := poller.Start(); err != nil {
		log.Fatalf("Failed to start poller: %v", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := worker.NewJanitor(repo, cfg.Dispatcher.JanitorInterval(), cfg.Dispatcher.StaleAge())
	go janitor.Start(janitorCtx)

	log.Println("Worker running...")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	poller.Stop()
	stopJanitor()
	log.Println("Goodbye")
}
