// Package serverctx composes the control plane's collaborators into one
// App: database pool, id generator, storage packages, the keychain cipher
// and resolver, the execution pipeline (Initializer/Advancer/Completer),
// the background sweeper, and the HTTP server. Grounded on
// internal/api/app.go's NewApp — db connect + pool tuning, metrics +
// Prometheus registry registration, a DB stats collector goroutine, a Redis
// client, graceful-degradation error tracking init, then
// repository/service/handler construction in dependency order — adapted
// from that file's many SaaS services down to this engine's own pipeline.
package serverctx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/noetl/noetl-sub007/internal/background"
	"github.com/noetl/noetl-sub007/internal/catalogstore"
	"github.com/noetl/noetl-sub007/internal/config"
	"github.com/noetl/noetl-sub007/internal/errortracking"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/execution"
	"github.com/noetl/noetl-sub007/internal/httpapi"
	"github.com/noetl/noetl-sub007/internal/idgen"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
	"github.com/noetl/noetl-sub007/internal/keychain"
	"github.com/noetl/noetl-sub007/internal/metrics"
	"github.com/noetl/noetl-sub007/internal/notify"
	"github.com/noetl/noetl-sub007/internal/render"
)

const dbStatsCollectInterval = 15 * time.Second

// renderCacheSize is the compiled-expression LRU size internal/render's
// Evaluator keeps; fixed rather than configurable since it bounds memory
// use, not behavior.
const renderCacheSize = 256

// App bundles every collaborator cmd/server constructs this engine's
// pipeline from, plus the lifecycle hooks (Close) that release
// them cleanly.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	IDs *idgen.Generator

	Catalog       *catalogstore.Store
	Events        *eventlog.Log
	Queue         *jobqueue.Queue
	KeychainStore *keychain.Store
	KeychainCache *keychain.Cache
	Cipher        *keychain.Cipher
	Resolver      *keychain.Resolver

	Initializer *execution.Initializer
	Advancer    *execution.Advancer
	Completer   *execution.Completer

	Notifier *notify.Publisher

	Metrics         *metrics.Metrics
	MetricsRegistry *prometheus.Registry
	ErrorTracker    *errortracking.Tracker

	Sweeper *background.Sweeper
	HTTP    *httpapi.Server

	dbStats     *metrics.DBStatsCollector
	stopStats   context.CancelFunc
	tracingDone func()
}

// New wires a full App from cfg. It connects the database and Redis,
// initializes metrics/tracing/error-tracking (degrading gracefully rather
// than failing the process when a reporting backend can't be reached), and
// constructs every storage/service/handler layer in dependency order.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, tracingCleanup func()) (*App, error) {
	app := &App{Config: cfg, Logger: logger, tracingDone: tracingCleanup}

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("serverctx: connect database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	app.DB = db

	app.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	app.Metrics = metrics.NewMetrics()
	app.MetricsRegistry = prometheus.NewRegistry()
	if err := app.Metrics.Register(app.MetricsRegistry); err != nil {
		return nil, fmt.Errorf("serverctx: register metrics: %w", err)
	}

	var statsCtx context.Context
	statsCtx, app.stopStats = context.WithCancel(context.Background())
	app.dbStats = metrics.NewDBStatsCollector(app.Metrics, db.DB, "main", logger)
	go app.dbStats.Start(statsCtx, dbStatsCollectInterval)

	errorTracker, err := errortracking.Initialize(cfg.Observability)
	if err != nil {
		logger.Warn("error tracking init failed, continuing without it", "error", err)
		errorTracker = &errortracking.Tracker{}
	}
	app.ErrorTracker = errorTracker

	ids, err := idgen.NewGenerator(cfg.Server.NodeID)
	if err != nil {
		return nil, fmt.Errorf("serverctx: build id generator: %w", err)
	}
	app.IDs = ids

	app.Catalog = catalogstore.NewStore(db, ids)
	app.Events = eventlog.NewLog(db, ids)

	deadLetter, err := newDeadLetterPublisher(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("serverctx: build dead-letter publisher: %w", err)
	}
	app.Queue = jobqueue.NewQueue(db, ids, deadLetter)

	app.KeychainStore = keychain.NewStore(db, ids)
	app.KeychainCache = keychain.NewCache(app.Redis)

	keyGen, err := newDataKeyGenerator(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("serverctx: build keychain key generator: %w", err)
	}
	app.Cipher = keychain.NewCipher(keyGen, cfg.Keychain.KMSKeyID)

	credentials := keychain.NewStoreCredentialSource(app.KeychainStore, app.Cipher)
	eval := render.NewEvaluator(renderCacheSize)
	app.Resolver = keychain.NewResolver(app.KeychainStore, app.KeychainCache, app.Cipher, eval, credentials)

	driver := execution.NewDriver(app.Events, app.Queue)
	app.Initializer = execution.NewInitializer(app.Catalog, app.Resolver, app.Events, driver, ids, eval)
	app.Advancer = execution.NewAdvancer(app.Catalog, app.Events, driver, eval)
	app.Completer = execution.NewCompleter(app.Queue, app.Events, app.Advancer)

	if cfg.Notify.Enabled {
		publisher, err := notify.NewPublisher(ctx, cfg.Notify)
		if err != nil {
			logger.Warn("notify publisher init failed, continuing without outcome publishing", "error", err)
		} else {
			app.Notifier = publisher
			app.Advancer.SetNotifier(publisher)
		}
	}

	app.Sweeper = background.NewSweeper(app.Queue, app.KeychainStore, app.Resolver, logger,
		background.WithReapInterval(time.Duration(cfg.Queue.ReapInterval)*time.Second),
		background.WithRenewLookahead(time.Duration(cfg.Keychain.AutoRenewMargin)*time.Second),
	)

	app.HTTP = httpapi.NewServer(httpapi.Deps{
		Logger:          logger,
		Catalog:         app.Catalog,
		Events:          app.Events,
		Queue:           app.Queue,
		KeychainStore:   app.KeychainStore,
		Cipher:          app.Cipher,
		Initializer:     app.Initializer,
		Advancer:        app.Advancer,
		Completer:       app.Completer,
		Metrics:         app.Metrics,
		MetricsRegistry: app.MetricsRegistry,
		ErrorTracker:    app.ErrorTracker,
		CORS:            cfg.CORS,
		Observability:   cfg.Observability,
		Env:             cfg.Server.Env,
	})

	return app, nil
}

// newDataKeyGenerator builds the keychain cipher's envelope-encryption
// backend: AWS KMS when KeychainConfig.UseKMS is set, otherwise a static
// master-key wrapper suited to local development.
func newDataKeyGenerator(ctx context.Context, cfg *config.Config) (keychain.DataKeyGenerator, error) {
	if !cfg.Keychain.UseKMS {
		return keychain.NewLocalKeyGenerator(cfg.Keychain.MasterKey)
	}
	if cfg.Keychain.KMSKeyID == "" {
		return nil, fmt.Errorf("keychain KMS key id is required when use_kms is true")
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Keychain.KMSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for KMS: %w", err)
	}
	return keychain.NewKMSKeyGenerator(kms.NewFromConfig(awsCfg), cfg.Keychain.KMSKeyID), nil
}

// newDeadLetterPublisher builds the job queue's dead-letter sink when
// QueueConfig.DeadLetterEnabled is set, otherwise returns nil — jobqueue.Queue
// treats a nil DeadLetterPublisher as "drop the job with no side channel",
// which is the whole of what NoopDeadLetterPublisher would do anyway.
func newDeadLetterPublisher(ctx context.Context, cfg *config.Config) (jobqueue.DeadLetterPublisher, error) {
	if !cfg.Queue.DeadLetterEnabled {
		return nil, nil
	}
	if cfg.AWS.SQSDeadLetterURL == "" {
		return nil, fmt.Errorf("queue dead-letter is enabled but AWS_SQS_DLQ_URL is unset")
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SQS dead-letter: %w", err)
	}
	return jobqueue.NewSQSDeadLetterPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.SQSDeadLetterURL), nil
}

// Start begins the background sweeper. The HTTP server itself is started by
// the caller (cmd/server), which owns the http.Server/graceful-shutdown
// lifecycle; App only starts the pieces that have no natural caller of
// their own.
func (a *App) Start() error {
	return a.Sweeper.Start()
}

// Close stops the background sweeper and DB stats collector, flushes error
// tracking, closes the notify publisher (if any), and closes the database
// and Redis connections. Safe to call once during graceful shutdown.
func (a *App) Close() {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.stopStats != nil {
		a.stopStats()
	}
	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			a.Logger.Error("notify publisher close failed", "error", err)
		}
	}
	if a.ErrorTracker != nil {
		a.ErrorTracker.Flush(5 * time.Second)
		a.ErrorTracker.Close()
	}
	if a.tracingDone != nil {
		a.tracingDone()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("redis close failed", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("database close failed", "error", err)
		}
	}
}
