// Package notifier consumes order lifecycle events and keeps the redis
// status cache warm, so polling clients get their answer without a database
// round trip. Delivery to end users (push, display boards) hangs off the same
// handler.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/smartcanteen/locker-service/internal/canteen"
	"github.com/smartcanteen/locker-service/internal/kafkax"
	"github.com/smartcanteen/locker-service/internal/redisx"
)

type Service struct {
	Redis       *redis.Client
	ServiceName string
}

var statusByEvent = map[string]canteen.Status{
	canteen.EventOrderCreated:  canteen.StatusCreated,
	canteen.EventOrderPaid:     canteen.StatusPaid,
	canteen.EventOrderReady:    canteen.StatusReady,
	canteen.EventOrderPickedUp: canteen.StatusPickedUp,
	canteen.EventOrderExpired:  canteen.StatusExpired,
}

// Handle is installed as the consumer handler for every lifecycle topic.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env canteen.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	st, ok := statusByEvent[env.EventType]
	if !ok {
		return nil // ignore
	}

	// dedup via Redis (by event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", env.EventID)
	exists, _ := redisx.Exists(ctx, s.Redis, dkey)
	if exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	key := fmt.Sprintf(redisx.KeyOrderStatus, env.CorrelationID)
	if err := s.Redis.Set(ctx, key, string(st), redisx.TTLStatusCache).Err(); err != nil {
		return err
	}

	s.notify(env)
	return nil
}

// notify is the delivery stub: one log line per event, with the details a
// push channel would carry.
func (s *Service) notify(env canteen.Envelope) {
	switch env.EventType {
	case canteen.EventOrderReady:
		if p, err := kafkax.UnwrapPayload[canteen.OrderReadyPayload](env.Payload); err == nil {
			log.Printf("notify: order %s ready in cell %s, pick up before %s",
				p.OrderID, p.CellCode, p.PickupDeadlineAt.Format("15:04"))
		}
	case canteen.EventOrderPickedUp:
		if p, err := kafkax.UnwrapPayload[canteen.OrderPickedUpPayload](env.Payload); err == nil {
			log.Printf("notify: order %s picked up from cell %s", p.OrderID, p.CellCode)
		}
	case canteen.EventOrderExpired:
		if p, err := kafkax.UnwrapPayload[canteen.OrderExpiredPayload](env.Payload); err == nil {
			log.Printf("notify: order %s expired, cell %s released", p.OrderID, p.CellCode)
		}
	default:
		log.Printf("notify: order %s -> %s", env.CorrelationID, env.EventType)
	}
}
