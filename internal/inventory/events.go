package inventory

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/stock"
)

const (
	EventOrderPlaced         = "OrderPlaced"
	EventOrderCancelled      = "OrderCancelled"
	EventRefundStatusChanged = "RefundStatusChanged"
	EventStockChanged        = "StockChanged"
	EventStockLow            = "StockLow"
	EventStockRejected       = "StockRejected"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderLine is the committed line of an order, read-only here.
type OrderLine struct {
	Unit       stock.UnitRef `json:"unit"`
	Quantity   int           `json:"quantity"`
	PriceCents int           `json:"price_cents"`
}

// ---- consumed ----

type OrderPlacedPayload struct {
	OrderID string      `json:"order_id"`
	UserID  string      `json:"user_id"`
	Actor   string      `json:"actor,omitempty"`
	Lines   []OrderLine `json:"lines"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Actor   string `json:"actor,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type RefundStatusPayload struct {
	RefundID string       `json:"refund_id"`
	OrderID  string       `json:"order_id"`
	From     RefundStatus `json:"from"`
	To       RefundStatus `json:"to"`
	Actor    string       `json:"actor,omitempty"`
	Lines    []OrderLine  `json:"lines"`
}

// ---- produced ----

type StockChangedPayload struct {
	Unit         stock.UnitRef `json:"unit"`
	EntryID      string        `json:"entry_id"`
	ChangeAmount int           `json:"change_amount"`
	NewStock     int           `json:"new_stock"`
	Reason       stock.Reason  `json:"reason"`
	ReferenceID  string        `json:"reference_id,omitempty"`
	Actor        string        `json:"actor"`
}

type StockLowPayload struct {
	Unit      stock.UnitRef `json:"unit"`
	Stock     int           `json:"stock"`
	Threshold int           `json:"threshold"`
}

type StockRejectedPayload struct {
	OrderID   string           `json:"order_id"`
	Reason    string           `json:"reason"`
	Shortages []stock.Shortage `json:"shortages,omitempty"`
}
