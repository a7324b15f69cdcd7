package inventory

// RefundStatus is owned by order management; only the move into
// PROCESSED touches stock.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundApproved  RefundStatus = "APPROVED"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundRejected  RefundStatus = "REJECTED"
)

var validNext = map[RefundStatus]map[RefundStatus]bool{
	RefundPending:   {RefundApproved: true, RefundRejected: true},
	RefundApproved:  {RefundProcessed: true, RefundRejected: true},
	RefundProcessed: {},
	RefundRejected:  {},
}

func CanTransition(from, to RefundStatus) bool {
	return validNext[from][to]
}
