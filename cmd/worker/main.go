package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/pandora/common/id"
	"basegraph.app/pandora/common/logger"
	"basegraph.app/pandora/core/config"
	"basegraph.app/pandora/core/db"
	"basegraph.app/pandora/internal/confidence"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/memory"
	"basegraph.app/pandora/internal/queue"
	"basegraph.app/pandora/internal/reflector"
	"basegraph.app/pandora/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()
	logger.Setup(cfg)

	slog.InfoContext(ctx, "batch reflector worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Signal.Group,
		"consumer_name", cfg.Signal.Consumer)

	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Signal.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Signal.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Signal.Stream,
		Group:        cfg.Signal.Group,
		Consumer:     cfg.Signal.Consumer,
		DLQStream:    cfg.Signal.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create turn-saved consumer", "error", err)
		os.Exit(1)
	}

	docs, err := store.NewLocalDocumentStore(cfg.DocStoreRoot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open document store", "root", cfg.DocStoreRoot, "error", err)
		os.Exit(1)
	}
	turnIndex := store.New(database.Queries())

	registry, err := llmstage.LoadRegistry(cfg.RolesFile, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.DefaultModel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load role registry", "error", err)
		os.Exit(1)
	}
	runner := llmstage.NewRunner(registry)

	decayTable, decayFallback, err := confidence.LoadTable(cfg.DecayTableFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load confidence decay table", "error", err)
		os.Exit(1)
	}
	confModel := confidence.NewModelWithDefault(decayTable, decayFallback)

	searchIndex := memory.NewSearchIndex(cfg.Typesense.APIKey, cfg.Typesense.Host)
	graphStore, err := memory.NewGraphStore(ctx, memory.Config{
		URL:      cfg.Arango.URL,
		Username: cfg.Arango.Username,
		Password: cfg.Arango.Password,
		Database: cfg.Arango.Database,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to arangodb", "error", err)
		os.Exit(1)
	}

	accumulator := reflector.NewAccumulator(redisClient)
	reflect := reflector.NewReflector(runner, docs, turnIndex, searchIndex, graphStore, confModel)
	batchWorker := reflector.New(consumer, accumulator, reflect, reflector.Config{MaxAttempts: 3})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- batchWorker.Run(runCtx) }()

	slog.InfoContext(ctx, "batch reflector worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.InfoContext(ctx, "shutdown signal received, stopping batch reflector worker")
		batchWorker.Stop()
		cancel()
	case err := <-done:
		if err != nil {
			slog.ErrorContext(ctx, "batch reflector worker exited with error", "error", err)
		}
	}

	if err := redisClient.Close(); err != nil {
		slog.ErrorContext(ctx, "redis close error", "error", err)
	}

	slog.InfoContext(ctx, "shutdown complete")
}

const banner = `
 ███████████   ██████████ █████       ███████████    ██████████ ███████████ █████         ██████████   █████████  ███████████    ███████████
░░███░░░░░███ ░░███░░░░░█░░███       ░░███░░░░░███  ░░███░░░░░█░░███░░░░░░█░░███         ░░███░░░░░█ ███░░░░░███░░███░░░░░███  ░░███░░░░░███
 ░███    ░███  ░███  █ ░  ░███        ░███    ░███   ░███  █ ░  ░███   █ ░  ░███          ░███  █ ░ ███     ░░░  ░███    ░███   ░███    ░███
 ░██████████   ░██████    ░███        ░██████████    ░██████    ░███████    ░███          ░██████   ░███          ░██████████    ░██████████
 ░███░░░░░███  ░███░░█    ░███        ░███░░░░░███   ░███░░█    ░███░░░█    ░███          ░███░░█   ░███          ░███░░░░░█     ░███░░░░░███
 ░███    ░███  ░███ ░   █ ░███      █ ░███    ░███   ░███ ░   █ ░███  ░     ░███      █   ░███ ░   █░░███     ███ ░███          ░███    ░███
 █████   █████ ██████████ ███████████ █████   █████  ██████████ █████      ███████████   ██████████ ░░█████████  █████         █████   █████
░░░░░   ░░░░░ ░░░░░░░░░░ ░░░░░░░░░░░ ░░░░░   ░░░░░  ░░░░░░░░░░ ░░░░░      ░░░░░░░░░░░   ░░░░░░░░░░   ░░░░░░░░░   ░░░░░         ░░░░░   ░░░░░
`
