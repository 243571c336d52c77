package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/pandora/common/id"
	"basegraph.app/pandora/common/logger"
	"basegraph.app/pandora/common/otel"
	"basegraph.app/pandora/core/config"
	"basegraph.app/pandora/core/db"
	"basegraph.app/pandora/internal/confidence"
	"basegraph.app/pandora/internal/http/handler"
	"basegraph.app/pandora/internal/http/middleware"
	httprouter "basegraph.app/pandora/internal/http/router"
	"basegraph.app/pandora/internal/intervention"
	"basegraph.app/pandora/internal/llmstage"
	"basegraph.app/pandora/internal/memory"
	"basegraph.app/pandora/internal/orchestrator"
	"basegraph.app/pandora/internal/queue"
	"basegraph.app/pandora/internal/store"
	"basegraph.app/pandora/internal/toolexec"
	"basegraph.app/pandora/internal/workflow"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
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

	turnSignal := queue.NewRedisProducer(redisClient, cfg.Signal.Stream)

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

	workflows, err := workflow.LoadRegistry(cfg.WorkflowsDir, runner)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load workflow registry", "error", err)
		os.Exit(1)
	}

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
	embedder := memory.NewEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, "")
	retriever := memory.NewRetriever(searchIndex, graphStore, graphStore, embedder, confModel, runner)

	interventions := intervention.NewQueue(redisClient)

	approvals := toolexec.NewApprovalBroker(redisClient)
	gate := toolexec.NewGate(cfg.Permissions, approvals)
	tools := toolexec.NewExecutor(cfg.ToolURL, gate)

	orch := orchestrator.NewOrchestrator(runner, workflows, retriever, docs, turnIndex, interventions, tools, redisClient, nil, turnSignal)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, orch, approvals)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	if err := turnSignal.Close(); err != nil {
		slog.WarnContext(shutdownCtx, "turn signal producer close error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, orch *orchestrator.Orchestrator, approvals *toolexec.ApprovalBroker) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	turnHandler := handler.NewTurnHandler(orch)
	permissionHandler := handler.NewPermissionHandler(approvals)

	httprouter.SetupRoutes(router, turnHandler, permissionHandler, httprouter.RouterConfig{
		IsProduction: cfg.IsProduction(),
		AdminAPIKey:  cfg.AdminAPIKey,
		WorkOS:       cfg.WorkOS,
	})

	return router
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗    ███████╗███████╗██████╗ ██╗   ██╗███████╗██████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝    ██╔════╝██╔════╝██╔══██╗██║   ██║██╔════╝██╔══██╗
██████╔╝█████╗  ██║     ███████║ ╚████╔╝     ███████╗█████╗  ██████╔╝██║   ██║█████╗  ██████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝      ╚════██║██╔══╝  ██╔══██╗╚██╗ ██╔╝██╔══╝  ██╔══██╗
██║  ██║███████╗███████╗██║  ██║   ██║       ███████║███████╗██║  ██║ ╚████╔╝ ███████╗██║  ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝       ╚══════╝╚══════╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝
`
