package inventory

import (
	"context"
	"encoding/json"
	"errors"

	kafkax "github.com/ariefcatur/go-storefront-stock/internal/kafka"
	"github.com/ariefcatur/go-storefront-stock/internal/stock"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deduper is satisfied by *redisx.Dedup.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

const systemActor = "system:order-events"

type traceKey struct{}

func withTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Consumer turns order-management events into hook calls.
type Consumer struct {
	Service *Service
	Dedup   Deduper
	Log     *zap.Logger
}

// HandleMessage is the kafka handler. Business rejections (shortage, missing
// sale, bad transition) are final and return nil; infrastructure errors are
// returned so the message is retried.
func (c *Consumer) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		c.Log.Error("undecodable envelope", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}
	ctx = withTraceID(ctx, env.TraceID)

	if c.Dedup != nil && env.EventID != "" {
		fresh, err := c.Dedup.Claim(ctx, env.EventID)
		if err != nil {
			c.Log.Warn("dedup unavailable, processing anyway", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !fresh {
			c.Log.Debug("duplicate event skipped", zap.String("event_id", env.EventID))
			return nil
		}
	}

	err := c.dispatch(ctx, env)
	if err != nil && c.Dedup != nil && env.EventID != "" {
		if rerr := c.Dedup.Release(ctx, env.EventID); rerr != nil {
			c.Log.Warn("dedup release failed", zap.String("event_id", env.EventID), zap.Error(rerr))
		}
	}
	return err
}

func (c *Consumer) dispatch(ctx context.Context, env Envelope) error {
	switch env.EventType {
	case EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[OrderPlacedPayload](env.Payload)
		if err != nil {
			c.Log.Error("bad payload", zap.String("event_type", env.EventType), zap.Error(err))
			return nil
		}
		return c.orderPlaced(ctx, p)
	case EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[OrderCancelledPayload](env.Payload)
		if err != nil {
			c.Log.Error("bad payload", zap.String("event_type", env.EventType), zap.Error(err))
			return nil
		}
		_, err = c.Service.CancelOrder(ctx, p.OrderID, actorOr(p.Actor), p.Reason)
		return c.final(err, "order cancellation", p.OrderID)
	case EventRefundStatusChanged:
		p, err := kafkax.UnwrapPayload[RefundStatusPayload](env.Payload)
		if err != nil {
			c.Log.Error("bad payload", zap.String("event_type", env.EventType), zap.Error(err))
			return nil
		}
		r := Refund{ID: p.RefundID, OrderID: p.OrderID, Status: p.From, Lines: p.Lines}
		_, err = c.Service.TransitionRefund(ctx, r, p.To, actorOr(p.Actor))
		return c.final(err, "refund transition", p.OrderID)
	default:
		return nil
	}
}

func (c *Consumer) orderPlaced(ctx context.Context, p OrderPlacedPayload) error {
	_, err := c.Service.ReserveForOrder(ctx, p.OrderID, actorOr(p.Actor), p.Lines)
	var short *stock.InsufficientStockError
	if errors.As(err, &short) {
		c.Service.publishRejected(ctx, p.OrderID, short.Shortages)
		return nil
	}
	return c.final(err, "order fulfillment", p.OrderID)
}

// final swallows domain errors after logging them.
func (c *Consumer) final(err error, what, orderID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stock.ErrNotFound),
		errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrInvalidReason),
		errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition):
		c.Log.Warn(what+" rejected", zap.String("order_id", orderID), zap.Error(err))
		return nil
	default:
		return err
	}
}

func actorOr(a string) string {
	if a == "" {
		return systemActor
	}
	return a
}

func NewConsumer(svc *Service, dedup Deduper, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{Service: svc, Dedup: dedup, Log: log}
}
