package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/api"
	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/gateway"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/repository/postgres"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

func main() {
	log.Println("Starting campaign-dispatch server...")

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
	log.Printf("Campaign timezone: %s", loc)

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
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unreachable, campaign locks fall back to PG advisory: %v", err)
		} else {
			log.Println("Connected to Redis")
		}
		defer redisClient.Close()
	} else {
		log.Println("No REDIS_URL set, campaign locks use PG advisory locks")
	}

	repo := postgres.NewCampaignRepo(db)
	svc := campaign.NewService(repo, loc)
	sender := gateway.NewClient(cfg.Gateway, nil)

	dispatcher := worker.NewDispatcher(repo, sender, loc, cfg.Dispatcher.Budget())
	dispatcher.SetLockFactory(func(campaignID string) distlock.DistLock {
		return distlock.NewLock(redisClient, db, "dispatch:campaign:"+campaignID, cfg.Dispatcher.LockTTL())
	})

	poller := worker.NewPoller(dispatcher, cfg.Dispatcher.PollInterval())
	if err := poller.Start(); err != nil {
		log.Fatalf("Failed to start poller: %v", err)
	}
	svc.SetDispatchHook(poller.Kick)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := worker.NewJanitor(repo, cfg.Dispatcher.JanitorInterval(), cfg.Dispatcher.StaleAge())
	go janitor.Start(janitorCtx)

	health := api.NewHealthChecker(db, redisClient)
	server := api.NewServer(api.NewHandlers(svc, dispatcher, poller, janitor, health))

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		log.Printf("API listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	poller.Stop()
	stopJanitor()
	log.Println("Goodbye")
}
