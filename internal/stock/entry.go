package stock

import "time"

type Reason string

const (
	ReasonSale             Reason = "SALE"
	ReasonReturn           Reason = "RETURN"
	ReasonAdjustmentManual Reason = "ADJUSTMENT_MANUAL"
	ReasonReceiving        Reason = "RECEIVING"
	ReasonCancellation     Reason = "CANCELLATION"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonSale, ReasonReturn, ReasonAdjustmentManual, ReasonReceiving, ReasonCancellation:
		return true
	}
	return false
}

// Entry is one immutable ledger row.
type Entry struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	Unit         UnitRef   `json:"unit"`
	ProductID    string    `json:"product_id"`
	VariantID    string    `json:"variant_id,omitempty"`
	ChangeAmount int       `json:"change_amount"`
	NewStock     int       `json:"new_stock"`
	Reason       Reason    `json:"reason"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	SourceID     string    `json:"source_id,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"created_at"`
}

// Adjustment is a request to move a unit's stock by Delta.
type Adjustment struct {
	Unit        UnitRef
	Delta       int
	Reason      Reason
	Actor       string
	Notes       string
	ReferenceID string
	// SourceID names the event under ReferenceID that caused the change,
	// e.g. the refund id of a RETURN.
	SourceID string
}
