package inventory

const (
	TopicOrderPlaced    = "order.placed"
	TopicOrderCancelled = "order.cancelled"
	TopicRefundStatus   = "refund.status"

	TopicStockChanged  = "stock.changed"
	TopicStockLow      = "stock.low"
	TopicStockRejected = "stock.rejected"
)

// Partition key = order_id for order events, unit ref for stock events.
func PartitionKey(id string) []byte { return []byte(id) }
