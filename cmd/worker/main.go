package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-messaging/internal/config"
	"github.com/ariefcatur/go-order-messaging/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-messaging/internal/kafka"
	"github.com/ariefcatur/go-order-messaging/internal/logger"
	"github.com/ariefcatur/go-order-messaging/internal/metrics"
	"github.com/ariefcatur/go-order-messaging/internal/orders"
	"github.com/ariefcatur/go-order-messaging/internal/postgres"
	"github.com/ariefcatur/go-order-messaging/internal/processing"
	"github.com/ariefcatur/go-order-messaging/internal/rabbitmq"
	"github.com/ariefcatur/go-order-messaging/internal/redisx"
	"github.com/ariefcatur/go-order-messaging/internal/retry"
	"github.com/ariefcatur/go-order-messaging/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}
	log := logger.Must(cfg.Env).With(zap.String("service", cfg.WorkerName))
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("worker exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()

	cache := redisx.NewCache(rdb)
	if err := cache.Ping(ctx); err != nil {
		log.Warn("redis ping failed", zap.Error(err))
	}

	// Kafka producer untuk notifikasi order.processed
	prodCtx, cancelProd := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic, 1024, log)
	prod.Start(prodCtx)
	defer func() {
		cancelProd()
		prod.WaitClosed()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	proc := processing.NewProcessor(
		&orders.Repo{DB: db},
		cache,
		processing.SimulatedFulfiller{Delay: cfg.FulfillmentDelay},
		processing.NewKafkaNotifier(prod, cfg.WorkerName),
		log,
	)

	// Tanpa koneksi awal ke broker worker tidak berguna: gagal di sini = exit.
	consumer, err := rabbitmq.NewConsumer(cfg.AMQPURL, cfg.OrderQueue, log)
	if err != nil {
		return err
	}
	deliveries, err := consumer.Start()
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	router := httpx.NewRouter(log, consumer, reg)
	srv := &http.Server{Addr: cfg.WorkerAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("worker HTTP listening", zap.String("addr", cfg.WorkerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", zap.Error(err))
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	w := worker.New(proc, retry.NewTracker(cfg.MaxDeliveryAttempts), m, log, cfg.OrderQueue,
		worker.WithGracePeriod(cfg.ShutdownGrace))
	runErr := w.Run(ctx, deliveries)

	if err := consumer.Stop(); err != nil {
		log.Warn("cancel consumer", zap.Error(err))
	}
	log.Info("worker stopped", zap.Int64("processed", m.Processed()))
	return runErr
}
