package stock

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnavailable       = errors.New("unavailable")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidReason     = errors.New("invalid reason")
	ErrMissingActor      = errors.New("actor is required")
)

type Shortage struct {
	Unit      UnitRef `json:"unit"`
	Requested int     `json:"requested"`
	Available int     `json:"available"`
}

// InsufficientStockError lists every unit that would have gone negative.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", s.Unit, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
