package canteen

const (
	TopicOrderCreated  = "canteen.order.created"
	TopicOrderPaid     = "canteen.order.paid"
	TopicOrderReady    = "canteen.order.ready"
	TopicOrderPickedUp = "canteen.order.picked_up"
	TopicOrderExpired  = "canteen.order.expired"
)

var topicByEvent = map[string]string{
	EventOrderCreated:  TopicOrderCreated,
	EventOrderPaid:     TopicOrderPaid,
	EventOrderReady:    TopicOrderReady,
	EventOrderPickedUp: TopicOrderPickedUp,
	EventOrderExpired:  TopicOrderExpired,
}

// TopicFor maps an event type to its topic. Empty string for unknown types.
func TopicFor(eventType string) string { return topicByEvent[eventType] }

// Partition key = order_id, so all events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
