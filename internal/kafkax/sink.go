package kafkax

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

// Sink publishes lifecycle envelopes to their per-event topic, keyed by order
// id so one order's events stay on one partition.
type Sink struct {
	P *Producer
}

func (s *Sink) Emit(ctx context.Context, env canteen.Envelope) {
	topic := canteen.TopicFor(env.EventType)
	if topic == "" {
		return
	}
	s.P.Publish(topic, canteen.PartitionKey(env.CorrelationID), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
