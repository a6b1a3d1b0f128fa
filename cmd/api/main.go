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
	"github.com/ariefcatur/go-order-messaging/internal/logger"
	"github.com/ariefcatur/go-order-messaging/internal/metrics"
	"github.com/ariefcatur/go-order-messaging/internal/orders"
	"github.com/ariefcatur/go-order-messaging/internal/postgres"
	"github.com/ariefcatur/go-order-messaging/internal/rabbitmq"
	"github.com/ariefcatur/go-order-messaging/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}
	log := logger.Must(cfg.Env).With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()

	cache := redisx.NewCache(rdb)
	if err := cache.Ping(ctx); err != nil {
		log.Warn("redis ping failed", zap.Error(err))
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// RabbitMQ publisher, connects on first publish
	pub, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Production(), log, m,
		rabbitmq.WithConfirmTimeout(cfg.ConfirmTimeout))
	if err != nil {
		log.Fatal("publisher", zap.Error(err))
	}
	defer func() { _ = pub.Close() }()

	// Service & handler
	repo := &orders.Repo{DB: db}
	svc := orders.NewService(repo, cache, pub, log).WithQueue(cfg.OrderQueue)
	router := httpx.NewRouter(log, pub, reg)
	oh := &httpx.OrdersHandler{Service: svc, Log: log}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
