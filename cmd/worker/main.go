package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/dispatch"
	"github.com/ignite/campaign-dispatch/internal/notify"
	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/pkg/cache"
	"github.com/ignite/campaign-dispatch/internal/queue"
	"github.com/ignite/campaign-dispatch/internal/repository/postgres"
	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting campaign dispatch worker...")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("Failed to ping redis: %v", err)
	}
	cancel()
	log.Println("Connected to redis")

	campaigns := postgres.NewCampaignRepository(db)
	contacts := postgres.NewContactRepository(db)
	deliveries := postgres.NewDeliveryRepository(db)
	settings := postgres.NewSettingsRepository(db)

	c := cache.New(rdb)
	q := queue.New(rdb)
	publisher := notify.NewPublisher(rdb)

	dbBreaker := breaker.New("database", breaker.Settings{
		FailureThreshold: cfg.Breakers.Database.FailureThreshold,
		ResetTimeout:     cfg.Breakers.Database.ResetTimeout,
		SuccessThreshold: cfg.Breakers.Database.SuccessThreshold,
	})
	redisBreaker := breaker.New("redis", breaker.Settings{
		FailureThreshold: cfg.Breakers.Redis.FailureThreshold,
		ResetTimeout:     cfg.Breakers.Redis.ResetTimeout,
		SuccessThreshold: cfg.Breakers.Redis.SuccessThreshold,
	})
	channelBreaker := breaker.New("channel", breaker.Settings{
		FailureThreshold: cfg.Breakers.Channel.FailureThreshold,
		ResetTimeout:     cfg.Breakers.Channel.ResetTimeout,
		SuccessThreshold: cfg.Breakers.Channel.SuccessThreshold,
	})

	// TODO: swap for a real channel connector once one is configured.
	var sender dispatch.ChannelClient = dispatch.LogChannelClient{}

	completion := dispatch.NewCompletionChecker(campaigns, contacts, deliveries, c, publisher)
	orchestrator := dispatch.NewOrchestrator(campaigns, settings, c, q, publisher, dbBreaker, rdb, db, cfg.Dispatch)
	dispatcher := dispatch.NewDispatcher(campaigns, settings, deliveries, c, q, sender,
		dbBreaker, channelBreaker, completion, cfg.Dispatch)
	scheduler := dispatch.NewScheduler(campaigns, q, rdb, redisBreaker, cfg.Dispatch)

	sendLimiter := queue.NewLimiter(rdb, "send", cfg.Dispatch.SendLimiterMax, cfg.Dispatch.SendLimiterWindow)

	pools := []*queue.Pool{
		queue.NewPool(q, queue.PoolConfig{
			Topic:       queue.TopicProcessCampaign,
			Concurrency: cfg.Dispatch.StartConcurrency,
		}, orchestrator.HandleProcessCampaign),
		queue.NewPool(q, queue.PoolConfig{
			Topic:       queue.TopicContactBatch,
			Concurrency: cfg.Dispatch.BatchConcurrency,
		}, dispatcher.HandleContactBatch),
		queue.NewPool(q, queue.PoolConfig{
			Topic:       queue.TopicSendMessage,
			Concurrency: cfg.Dispatch.SendConcurrency,
			Limiter:     sendLimiter,
		}, dispatcher.HandleSendMessage),
	}

	for _, pool := range pools {
		if err := pool.Start(); err != nil {
			log.Fatalf("Failed to start pool: %v", err)
		}
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Worker running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	scheduler.Stop()
	for _, pool := range pools {
		pool.Stop()
	}
	log.Println("Worker stopped")
}
