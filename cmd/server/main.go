package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/pos-checkout/internal/adapter/handler"
	"github.com/rl1809/pos-checkout/internal/adapter/messaging"
	"github.com/rl1809/pos-checkout/internal/adapter/storage"
	"github.com/rl1809/pos-checkout/internal/config"
	"github.com/rl1809/pos-checkout/internal/core/service"
	"github.com/rl1809/pos-checkout/internal/logger"
	"github.com/rl1809/pos-checkout/internal/metrics"
	"github.com/rl1809/pos-checkout/internal/port"
)

const serviceName = "pos-checkout"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize SQL store
	store, err := storage.Open(ctx, storage.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxOpenConns / 2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	defer store.Close()
	log.Info("connected to database", "driver", cfg.DBDriver)

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("schema migrated")

	// Initialize Redis, optional
	var (
		cache port.ProductCache
		idem  port.IdempotencyStore
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb, cfg.ProductCacheTTL, cfg.IdempotencyTTL)
		cache, idem = redisAdapter, redisAdapter
		log.Info("connected to redis", "addr", cfg.RedisAddr)
	} else {
		log.Warn("redis disabled, product cache and idempotency keys are off")
	}

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize services
	catalog := service.NewCatalogService(store, cache, log)
	carts := service.NewCartService(store, store, log)
	checkout := service.NewCheckoutService(store, idem, m, log, service.CheckoutOptions{
		CartID:  cfg.DefaultCartID,
		Source:  cfg.CheckoutSource,
		Timeout: cfg.CheckoutTimeout,
		Retries: cfg.CheckoutRetries,
	})
	orders := service.NewOrderService(store, log)
	relay := service.NewRelay(store, publisher, m, log, service.RelayOptions{
		PollInterval:     cfg.OutboxPollInterval,
		BatchSize:        cfg.OutboxBatchSize,
		Workers:          cfg.RelayWorkers,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	})

	// Start outbox relay
	relayCtx, stopRelay := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(relayCtx)
	}()
	log.Info("outbox relay started", "workers", cfg.RelayWorkers, "broker", cfg.Broker)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.RegisterOrderDeskServer(grpcServer, handler.NewGRPCHandler(checkout, orders, log))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopRelay()
		wg.Wait()
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(catalog, carts, checkout, orders, m, log)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      otelhttp.NewHandler(httpHandler.Router(metrics.Handler(registry), cfg.CORSAllowedOrigins), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.CheckoutTimeout*time.Duration(cfg.CheckoutRetries+1) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case runErr = <-errCh:
		log.Error("server failed, shutting down", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", "error", err)
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Stop the relay and wait for in-flight publishes
	stopRelay()
	wg.Wait()
	log.Info("outbox relay stopped")

	return runErr
}

func newPublisher(cfg config.Config, log *slog.Logger) (port.EventPublisher, error) {
	switch cfg.Broker {
	case config.BrokerRabbitMQ:
		pub, err := messaging.DialRabbit(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		log.Info("publishing events to rabbitmq", "exchange", cfg.AMQPExchange)
		return pub, nil
	case config.BrokerKafka:
		log.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return messaging.NewLogPublisher(log), nil
	}
}
