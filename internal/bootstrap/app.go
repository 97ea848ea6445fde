package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medscan/internal/cache"
	"medscan/internal/config"
	"medscan/internal/logger"
	"medscan/internal/metrics"
	"medscan/internal/model"
	mysqlClient "medscan/internal/platform/mysql"
	rabbitmqClient "medscan/internal/platform/rabbitmq"
	redisClient "medscan/internal/platform/redis"
	"medscan/internal/repository"
	"medscan/internal/storage"
	"medscan/internal/worker"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	MySQL    *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Registry *prometheus.Registry
	Metrics  *metrics.Collector
	Blobs    *storage.LocalStore

	Denylist        *cache.TokenDenylist
	OAuthStates     *cache.OAuthStateStore
	PredictionCache *cache.PredictionCache

	PredictionWorker *worker.PredictionPersistWorker

	StartedAt time.Time
}

// New builds every long-lived dependency. On error the resources opened so
// far are released.
func New(ctx context.Context) (_ *App, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := logger.New(cfg.Log, cfg.IsDev())
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	app := &App{Config: cfg, Logger: log, StartedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN(), log)
	if err != nil {
		return nil, err
	}
	if err := app.MySQL.AutoMigrate(&model.User{}, &model.Prediction{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	app.Redis, err = redisClient.New(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	app.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, log, cfg.RabbitMQ.PredictionPersistQueue)
	if err != nil {
		return nil, err
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.NewCollector(app.Registry)

	blobBase := strings.TrimRight(cfg.App.PublicURL, "/") + "/blobs"
	app.Blobs, err = storage.NewLocalStore(cfg.Storage.Dir, blobBase)
	if err != nil {
		return nil, fmt.Errorf("open blob store failed: %w", err)
	}

	app.Denylist = cache.NewTokenDenylist(10 * time.Minute)
	app.OAuthStates = cache.NewOAuthStateStore(10 * time.Minute)

	app.PredictionCache = cache.NewPredictionCache(
		app.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	app.PredictionWorker = worker.NewPredictionPersistWorker(
		app.MQConn,
		repository.NewPredictionRepository(app.MySQL),
		app.PredictionCache,
		app.Metrics,
		cfg.RabbitMQ.PredictionPersistQueue,
		log.Named("worker"),
	)
	if err := app.PredictionWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start prediction worker failed: %w", err)
	}

	return app, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.PredictionWorker != nil {
		a.PredictionWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
