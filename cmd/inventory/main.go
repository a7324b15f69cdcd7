package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/app"
	"github.com/ariefcatur/go-storefront-stock/internal/config"
	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-stock/internal/kafka"
	"github.com/ariefcatur/go-storefront-stock/internal/logger"
	"github.com/ariefcatur/go-storefront-stock/internal/metrics"
	"github.com/ariefcatur/go-storefront-stock/internal/redisx"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"github.com/ariefcatur/go-storefront-stock/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-inventory"
	log := logger.New(name, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, name, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("store", zap.Error(err))
	}
	defer stores.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := app.StartProducers(ctx, cfg.KafkaBrokers, log)

	ledger := stock.NewLedger(stores.Stock, log)
	svc := inventory.NewService(ledger, prod.Publishers, cfg.LowStockThreshold, name, log)
	handler := inventory.NewConsumer(svc, &redisx.Dedup{RDB: rdb, Service: name}, log)

	topics := []string{inventory.TopicOrderPlaced, inventory.TopicOrderCancelled, inventory.TopicRefundStatus}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, topics, cfg.InventoryWorkers, log)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("inventory consumer started",
			zap.String("group", cfg.InventoryGroup), zap.Strings("topics", topics), zap.Int("workers", cfg.InventoryWorkers))
		if err := cons.Start(ctx, handler.HandleMessage); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	// workers may still publish until the consumer returns
	<-consumerDone
	prod.Close()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
