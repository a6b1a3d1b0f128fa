package orders

const (
	// QueueOrderPlaced is shared by the publisher (api) and the consumer (worker).
	QueueOrderPlaced = "orders.placed"

	TopicOrderNotifications = "order.notifications"
)

// PartitionKey = order_id, supaya notifikasi 1 order tetap berurutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
