package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/ignite/mail-tracker/internal/api"
	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/metrics"
	"github.com/ignite/mail-tracker/internal/notify"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
	"github.com/ignite/mail-tracker/internal/repository/postgres"
	"github.com/ignite/mail-tracker/internal/repository/redisstore"
	service "github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/ignite/mail-tracker/internal/tracking"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []service.Option{service.WithObserver(m)}
	var notifier *notify.SQSNotifier
	if cfg.Notify.Enabled() {
		client, err := newSQSClient(ctx, cfg.Notify)
		if err != nil {
			logger.Error("aws config", "error", err)
			os.Exit(1)
		}
		notifier = notify.NewSQSNotifier(client, cfg.Notify.SQSQueueURL, m.IncrementNotifyFailures)
		opts = append(opts, service.WithNotifier(notifier))
		logger.Info("open notifications enabled", "queue", cfg.Notify.SQSQueueURL)
	}

	svc := service.NewService(repo, cfg.Tracking.Policy(), opts...)

	root := chi.NewRouter()
	root.Mount("/api", api.SetupRoutes(api.NewHandlers(svc), api.Options{
		Key:            cfg.API.Key,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}))
	root.Mount("/", tracking.NewHandler(svc, m, reg).Routes())

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down tracking service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if notifier != nil {
		if err := notifier.Wait(shutdownCtx); err != nil {
			logger.Warn("open notifications still in flight", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (service.Repository, func(), error) {
	switch cfg.Driver {
	case config.DriverRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		return redisstore.NewTrackingRepo(client, cfg.RedisPrefix), func() { client.Close() }, nil
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewTrackingRepo(db), func() { db.Close() }, nil
	}
}

func newSQSClient(ctx context.Context, cfg config.NotifyConfig) (*sqs.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
