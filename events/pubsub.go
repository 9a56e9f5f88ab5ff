package events

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/models"
)

type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(ctx context.Context) (*PubSubPublisher, error) {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	topic, err := config.FeeEventsTopic(ctx, client)
	if err != nil {
		return nil, err
	}
	// Events of one account are delivered in the order they were written.
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, event models.FeeEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attributes(event),
		OrderingKey: event.SchoolId + "/" + event.AggregateId,
	})
	id, err := result.Get(ctx)
	if err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.topic.ResumePublish(event.SchoolId + "/" + event.AggregateId)
		return "", err
	}
	return id, nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return nil
}
