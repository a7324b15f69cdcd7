package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-stock/internal/stock"
)

var (
	ErrItemNotFound      = fmt.Errorf("cart item %w", stock.ErrNotFound)
	ErrOutOfStock        = fmt.Errorf("out of stock: %w", stock.ErrUnavailable)
	ErrValidationBlocked = errors.New("checkout blocked by cart validation")
	ErrMissingUser       = errors.New("user id is required")
)

// BlockedError carries the validation result that stopped checkout.
type BlockedError struct {
	Result Result
}

func (e *BlockedError) Error() string {
	parts := make([]string, 0, len(e.Result.Errors))
	for _, is := range e.Result.Errors {
		parts = append(parts, fmt.Sprintf("%s (%s)", is.Name, is.Code))
	}
	return ErrValidationBlocked.Error() + ": " + strings.Join(parts, ", ")
}

func (e *BlockedError) Is(target error) bool { return target == ErrValidationBlocked }
