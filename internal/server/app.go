// Package server initializes and runs the facegate server. It opens the
// database and optional Redis, RabbitMQ and S3 backends, wires the
// services and runs the HTTP server and retention sweeper until a
// termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/api"
	"github.com/dmitrijs2005/facegate/internal/server/config"
	"github.com/dmitrijs2005/facegate/internal/server/events"
	"github.com/dmitrijs2005/facegate/internal/server/oracle"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/facegate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/facegate/internal/server/services"
)

// redisKeyGrace keeps a challenge hash around a little past the ledger
// TTL so a late consume still reports EXPIRED.
const redisKeyGrace = time.Minute

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	amqp    *events.AMQPPublisher
	http    *api.HTTPServer
	sweeper *services.RetentionSweeper
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	app.db = db

	if err := db.PingContext(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.Close()
		return nil, err
	}

	ledger, err := app.challengeLedger(ctx, rm)
	if err != nil {
		app.Close()
		return nil, err
	}

	var publisher services.AuditPublisher
	if c.AMQPURL != "" {
		app.amqp = events.NewAMQPPublisher(c.AMQPURL, c.AuditQueue, logger)
		publisher = app.amqp
	}

	var archiver services.AuditArchiver
	if c.S3Bucket != "" {
		a, err := services.NewS3Archiver(ctx, c)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		archiver = a
	}

	oc := oracle.NewClient(c.OracleURL, c.OracleToken,
		oracle.WithTimeouts(c.OracleExtractTimeout, c.OracleCompareTimeout))

	cs := services.NewChallengeService(ledger, logger)
	ts := services.NewTemplateStore(db, rm, c)
	al := services.NewAuditLogger(db, rm, publisher, logger)
	bs := services.NewBiometricService(db, rm, cs, ts, al, oc, c, logger)
	us := services.NewUserService(db, rm, c)

	app.sweeper = services.NewRetentionSweeper(db, rm, ledger, archiver, c, logger)
	app.http = api.NewHTTPServer(c.HTTPAddr, logger, us, bs, c.RateLimitPerMinute)

	logger.Info(ctx, "app initialized",
		"challenge_store", c.ChallengeStore,
		"audit_fanout", publisher != nil,
		"audit_archive", archiver != nil)

	return app, nil
}

func (app *App) challengeLedger(ctx context.Context, rm repomanager.RepositoryManager) (challenges.Repository, error) {
	if app.config.ChallengeStore != config.ChallengeStoreRedis {
		return rm.Challenges(app.db), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	app.redis = rdb

	return challenges.NewRedisRepository(rdb, services.ChallengeTTL+redisKeyGrace), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or the HTTP server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	app.sweeper.Start(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.sweeper.Stop()
	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

// Close releases backend connections. It is safe to call on a partially
// initialized App.
func (app *App) Close() {
	if app.amqp != nil {
		_ = app.amqp.Close()
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
