// Package events publishes committed outbox rows to the configured bus.
package events

import (
	"context"
	"fmt"
	"os"

	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/sirupsen/logrus"
)

// Publisher delivers one fee event and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, event models.FeeEvent) (string, error)
	Close() error
}

// NewPublisher builds the publisher named by bus (see config.EventBus*).
func NewPublisher(ctx context.Context, bus string, logger *logrus.Logger) (Publisher, error) {
	switch bus {
	case config.EventBusPubSub:
		return NewPubSubPublisher(ctx)
	case config.EventBusRabbitMQ:
		exchange := os.Getenv("AMQP_EXCHANGE")
		if exchange == "" {
			exchange = DefaultExchange
		}
		return NewRabbitPublisher(os.Getenv("AMQP_URL"), exchange)
	case config.EventBusLog:
		return NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", bus)
	}
}

func attributes(event models.FeeEvent) map[string]string {
	return map[string]string{
		"event_type":     event.EventType,
		"school_id":      event.SchoolId,
		"aggregate_id":   event.AggregateId,
		"correlation_id": event.CorrelationId,
	}
}
