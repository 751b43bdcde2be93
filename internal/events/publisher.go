package events

import (
	"context"
	"fmt"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const EventNameContactSubscribed = "newsletter.contact.subscribed"

type SubscribedEvent struct {
	ID         uuid.UUID `json:"id"`
	EventName  string    `json:"eventName"`
	Email      string    `json:"email"`
	ListIDs    []int64   `json:"listIds"`
	Source     string    `json:"source"`
	Page       string    `json:"page,omitempty"`
	Form       string    `json:"form,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewSubscribedEvent(email string, listIDs []int64, source string) SubscribedEvent {
	return SubscribedEvent{
		ID:         uuid.New(),
		EventName:  EventNameContactSubscribed,
		Email:      email,
		ListIDs:    listIDs,
		Source:     source,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	PublishSubscribed(ctx context.Context, event SubscribedEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSubscribed(context.Context, SubscribedEvent) error {
	return nil
}

type DaprPublisher struct {
	client     dapr.Client
	pubsubName string
	topic      string
	tracer     trace.Tracer
}

func NewDaprPublisher(client dapr.Client, pubsubName, topic string) *DaprPublisher {
	return &DaprPublisher{
		client:     client,
		pubsubName: pubsubName,
		topic:      topic,
		tracer:     otel.Tracer("dapr.publisher"),
	}
}

func (p *DaprPublisher) PublishSubscribed(ctx context.Context, event SubscribedEvent) error {
	ctx, span := p.tracer.Start(ctx, "events.publish.subscribed",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.id", event.ID.String()),
			attribute.String("operation", "pubsub.publish"),
			attribute.String("dapr.pubsub", p.pubsubName),
			attribute.String("dapr.topic", p.topic),
		))
	defer span.End()

	if err := p.client.PublishEvent(ctx, p.pubsubName, p.topic, event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish %s event: %w", event.EventName, err)
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}
