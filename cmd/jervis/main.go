// Command jervis is the single-process entrypoint: it bootstraps every
// backing store, builds the C6 poller, the C8 indexer consumers, and the
// C9 task engine, runs them under one Supervisor, and serves a thin
// admin/health surface alongside them. Grounded on the teacher's
// cmd/worker/main.go bootstrap order and signal-based graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jervisai/jervis/internal/adapter/embedclient"
	"github.com/jervisai/jervis/internal/adapter/eventbus"
	"github.com/jervisai/jervis/internal/adapter/hybridstore"
	"github.com/jervisai/jervis/internal/adapter/mongostore"
	"github.com/jervisai/jervis/internal/adapter/observability"
	"github.com/jervisai/jervis/internal/adapter/ratelimiter"
	"github.com/jervisai/jervis/internal/adapter/repo/postgres"
	"github.com/jervisai/jervis/internal/app"
	"github.com/jervisai/jervis/internal/config"
	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/connprobe"
	"github.com/jervisai/jervis/internal/service/indexer"
	"github.com/jervisai/jervis/internal/service/orchestrator"
	"github.com/jervisai/jervis/internal/service/poller"
	"github.com/jervisai/jervis/internal/service/taskengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting jervis")

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	db, err := mongostore.Connect(bootCtx, cfg)
	if err != nil {
		slog.Error("mongo connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := mongostore.EnsureIndexes(bootCtx, db); err != nil {
		slog.Error("mongo index setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	pgPool, err := postgres.NewMirrorPool(bootCtx, cfg.RateLimitMirrorDSN)
	if err != nil {
		slog.Error("rate-limit mirror postgres connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgPool.Close()

	limiter := ratelimiter.NewDomainLimiter(rdb, pgPool, 30*time.Minute)
	if err := limiter.WarmFromPostgres(bootCtx); err != nil {
		slog.Warn("rate limiter warm-up from postgres failed", slog.Any("error", err))
	}

	schemaManager := hybridstore.NewManager(cfg)
	if err := schemaManager.EnsureSchemas(bootCtx); err != nil {
		slog.Error("hybrid search schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	workdir := os.Getenv("JERVIS_GIT_WORKDIR")
	if workdir == "" {
		workdir = "/var/lib/jervis/git"
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		slog.Error("git workdir setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	var events *eventbus.Producer
	if len(cfg.KafkaBrokers) > 0 {
		events, err = eventbus.New(cfg.KafkaBrokers)
		if err != nil {
			slog.Error("eventbus producer init failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = events.Close() }()
	} else {
		slog.Info("no kafka brokers configured, queue-status and notification events are disabled")
	}

	tasks := mongostore.NewTaskRepo(db)
	connections := mongostore.NewConnectionRepo(db)

	sup := app.NewSupervisor(cfg.ServerShutdownTimeout)
	wireCentralPoller(cfg, db, connections, tasks, limiter, workdir, sup)
	wireIndexer(cfg, db, limiter, sup)
	wireTaskEngine(cfg, tasks, limiter, events, sup)

	prober := connprobe.New(connections, limiter)
	checks := app.BuildReadinessChecks(cfg, db.Client(), rdb)
	router := app.BuildRouter(cfg, checks, connections, prober)
	httpSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	go func() {
		slog.Info("admin/health surface listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin http server error", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sup.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin http server shutdown error", slog.Any("error", err))
	}
	slog.Info("jervis stopped")
}

// wireCentralPoller constructs one StagingWriter per artifact kind and
// the C7 handler that writes to it, then registers the C6 Poller loop.
func wireCentralPoller(cfg config.Config, db *mongo.Database, connections *mongostore.ConnectionRepo, tasks *mongostore.TaskRepo, limiter *ratelimiter.DomainLimiter, workdir string, sup *app.Supervisor) {
	cursors := mongostore.NewCursorRepo(db)
	gitStaging := mongostore.NewStagingRepo(db, domain.ArtifactGitCommit)
	issueStaging := mongostore.NewStagingRepo(db, domain.ArtifactIssueTrackerItem)
	wikiStaging := mongostore.NewStagingRepo(db, domain.ArtifactWikiPage)
	mailStaging := mongostore.NewStagingRepo(db, domain.ArtifactEmailMessage)

	handlers := []poller.Handler{
		poller.NewGitHandler(gitStaging, cursors, workdir),
		poller.NewIssueTrackerHandler(issueStaging, cursors, 30*time.Second, limiter),
		poller.NewWikiHandler(wikiStaging, cursors, 30*time.Second, limiter),
		poller.NewMailHandler(mailStaging, cursors, domain.ConnectionIMAP),
		poller.NewMailHandler(mailStaging, cursors, domain.ConnectionPOP3),
	}

	clients := mongostore.NewClientRepo(db)
	p := poller.New(connections, clients, connections, tasks, handlers, cfg.PollingStartupDelay, cfg.PollerMaxConcurrency)
	sup.Add("central-poller", p.Run)
}

// wireIndexer constructs one C8 Consumer per artifact kind against the
// same per-kind staging collections the poller writes to, and registers
// each as its own loop.
func wireIndexer(cfg config.Config, db *mongo.Database, limiter *ratelimiter.DomainLimiter, sup *app.Supervisor) {
	embedder := embedclient.New(cfg.EmbeddingsBaseURL, cfg.EmbeddingsAPIKey, cfg.EmbeddingsTextModel, cfg.EmbeddingsCodeModel, limiter)
	writer := hybridstore.NewWriter(cfg.WeaviateURL, cfg.WeaviateAPIKey)

	kinds := []struct {
		kind   domain.ArtifactKind
		tokens int
	}{
		{domain.ArtifactGitCommit, cfg.IndexerCodeContextTokens},
		{domain.ArtifactIssueTrackerItem, cfg.IndexerTextContextTokens},
		{domain.ArtifactWikiPage, cfg.IndexerTextContextTokens},
		{domain.ArtifactEmailMessage, cfg.IndexerTextContextTokens},
	}
	for _, k := range kinds {
		staging := mongostore.NewStagingRepo(db, k.kind)
		consumer := indexer.NewConsumer(k.kind, staging, embedder, writer, k.tokens, cfg.PollerMaxConcurrency)
		sup.Add("indexer:"+string(k.kind), consumer.Run)
	}
}

// wireTaskEngine constructs the C9 Engine and registers its Run as one
// loop (it internally fans out the qualification/execution/orchestrator-
// poll loops and blocks until ctx is canceled).
func wireTaskEngine(cfg config.Config, tasks *mongostore.TaskRepo, limiter *ratelimiter.DomainLimiter, events *eventbus.Producer, sup *app.Supervisor) {
	planner := orchestrator.New(cfg.OrchestratorBaseURL, limiter)

	engineCfg := taskengine.Config{
		WaitOnStartup:            cfg.BackgroundWaitOnStartup,
		WaitInterval:             cfg.BackgroundWaitInterval,
		WaitOnError:              cfg.BackgroundWaitOnError,
		QualifierConcurrency:     cfg.QualifierMaxConcurrency,
		QualifierInitialBackoff:  time.Duration(cfg.QualifierInitialBackoffMs) * time.Millisecond,
		QualifierMaxBackoff:      time.Duration(cfg.QualifierMaxBackoffMs) * time.Millisecond,
		OrchestratorPollInterval: cfg.OrchestratorPollInterval,
		StaleTaskThreshold:       cfg.StaleTaskThreshold,
	}

	var eventPublisher taskengine.EventPublisher
	if events != nil {
		eventPublisher = events
	}

	engine := taskengine.New(tasks, alwaysGPUQualifier{}, planner, eventPublisher, engineCfg)
	sup.Add("task-engine", engine.Run)
}
