package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/app"
	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/config"
	"github.com/ariefcatur/go-storefront-stock/internal/httpx"
	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
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
	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("tracing init", zap.Error(err))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("store", zap.Error(err))
	}
	defer stores.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	idem := &redisx.Claims{RDB: rdb, Scope: cfg.ServiceName}

	// Kafka producers
	prod := app.StartProducers(ctx, cfg.KafkaBrokers, log)

	ledger := stock.NewLedger(stores.Stock, log)
	inv := inventory.NewService(ledger, prod.Publishers, cfg.LowStockThreshold, cfg.ServiceName, log)
	carts := cart.NewService(stores.Carts, stores.Stock, cart.Options{
		TTL:                  cfg.CartTTL,
		MaxQuantity:          cfg.CartMaxQuantity,
		LowStockThreshold:    cfg.LowStockThreshold,
		ShippingFlatCents:    cfg.ShippingFlatCents,
		FreeShippingMinCents: cfg.FreeShippingMinCents,
		TaxRateBPS:           cfg.TaxRateBPS,
	}, log)

	router := httpx.NewRouter()
	(&httpx.CartHandler{Cart: carts, Log: log}).Register(router)
	(&httpx.StockHandler{Ledger: ledger, Inventory: inv, Idem: idem, LowStockThreshold: cfg.LowStockThreshold, Log: log}).Register(router)
	(&httpx.OrdersHandler{Inventory: inv, Idem: idem, Log: log}).Register(router)

	sweeper := &cart.Sweeper{Store: stores.Carts, Interval: cfg.CartSweepInterval, Log: log}
	go sweeper.Run(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
