// Package app wires the shared pieces both binaries need.
package app

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-stock/internal/cart"
	"github.com/ariefcatur/go-storefront-stock/internal/config"
	"github.com/ariefcatur/go-storefront-stock/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-stock/internal/kafka"
	"github.com/ariefcatur/go-storefront-stock/internal/memstore"
	"github.com/ariefcatur/go-storefront-stock/internal/postgres"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	"go.uber.org/zap"
)

type Stores struct {
	Stock stock.Store
	Carts cart.Store
	Close func()
}

// OpenStores connects the driver selected by cfg.StoreDriver. The postgres
// driver also applies the schema.
func OpenStores(ctx context.Context, cfg config.Config, log *zap.Logger) (Stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		m := memstore.New()
		return Stores{Stock: m.Stock(), Carts: m.Carts(), Close: func() {}}, nil
	case "postgres", "":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return Stores{}, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return Stores{}, fmt.Errorf("db migrate: %w", err)
		}
		return Stores{Stock: &stock.PGStore{DB: db}, Carts: &cart.PGStore{DB: db}, Close: db.Close}, nil
	default:
		return Stores{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Producers owns one kafka writer per produced topic.
type Producers struct {
	all []*kafkax.Producer
	inventory.Publishers
}

// StartProducers starts the writers detached from ctx's cancellation: they
// keep accepting events until Close, so in-flight handlers can still publish
// while the service shuts down.
func StartProducers(ctx context.Context, brokers []string, log *zap.Logger) *Producers {
	ctx = context.WithoutCancel(ctx)
	mk := func(topic string) *kafkax.Producer {
		p := kafkax.NewProducer(brokers, topic, 1024, log)
		p.Start(ctx)
		return p
	}
	changed, low, rejected := mk(inventory.TopicStockChanged), mk(inventory.TopicStockLow), mk(inventory.TopicStockRejected)
	return &Producers{
		all:        []*kafkax.Producer{changed, low, rejected},
		Publishers: inventory.Publishers{Changed: changed, Low: low, Rejected: rejected},
	}
}

// Close flushes every producer and waits for the writers to finish.
func (p *Producers) Close() {
	for _, pr := range p.all {
		pr.Close()
	}
	for _, pr := range p.all {
		pr.WaitClosed()
	}
}
