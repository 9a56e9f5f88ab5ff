package events

import (
	"context"
	"strconv"

	"github.com/mmdatafocus/fees_backend/models"
	"github.com/sirupsen/logrus"
)

// LogPublisher writes events to the log. It is the default for local runs.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event models.FeeEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.logger.WithFields(logrus.Fields{
		"field":          "LogPublisher",
		"school_id":      event.SchoolId,
		"aggregate_id":   event.AggregateId,
		"event_type":     event.EventType,
		"correlation_id": event.CorrelationId,
	}).Info(string(event.Payload))
	return "log-" + strconv.Itoa(event.ID), nil
}

func (p *LogPublisher) Close() error { return nil }
