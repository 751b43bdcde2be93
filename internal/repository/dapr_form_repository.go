package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/models"
)

// DaprFormRepository keeps form states in a Dapr state store so that
// several replicas share them.
type DaprFormRepository struct {
	client    dapr.Client
	tracer    trace.Tracer
	storeName string
	ttl       time.Duration
}

func NewDaprFormRepository(client dapr.Client, storeName string, ttl time.Duration) *DaprFormRepository {
	return &DaprFormRepository{
		client:    client,
		tracer:    otel.Tracer("dapr.repository"),
		storeName: storeName,
		ttl:       ttl,
	}
}

func (r *DaprFormRepository) metadata() map[string]string {
	if r.ttl <= 0 {
		return nil
	}
	return map[string]string{"ttlInSeconds": fmt.Sprintf("%d", int(r.ttl.Seconds()))}
}

func (r *DaprFormRepository) load(ctx context.Context, key models.FormKey) (*models.FormState, string, error) {
	item, err := r.client.GetState(ctx, r.storeName, key.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get form state from dapr state store: %w", err)
	}

	if item == nil || len(item.Value) == 0 {
		return models.NewFormState(key), "", nil
	}

	var state models.FormState
	if err := json.Unmarshal(item.Value, &state); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal form state: %w", err)
	}
	return &state, item.Etag, nil
}

func (r *DaprFormRepository) Get(ctx context.Context, key models.FormKey) (*models.FormState, error) {
	ctx, span := r.tracer.Start(ctx, "form.repository.get",
		trace.WithAttributes(
			attribute.String("form.key", key.String()),
			attribute.String("operation", "state.read"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	state, _, err := r.load(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("success", true))
	return state, nil
}

// Update uses first-write-wins concurrency on the item's ETag, so two
// replicas cannot both move the same form into the submitting state.
func (r *DaprFormRepository) Update(ctx context.Context, key models.FormKey, fn UpdateFunc) (*models.FormState, error) {
	ctx, span := r.tracer.Start(ctx, "form.repository.update",
		trace.WithAttributes(
			attribute.String("form.key", key.String()),
			attribute.String("operation", "state.write"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	state, etag, err := r.load(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := fn(state); err != nil {
		span.RecordError(err)
		return nil, err
	}
	state.UpdatedAt = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal form state: %w", err)
	}

	if etag == "" {
		err = r.client.SaveState(ctx, r.storeName, key.String(), data, r.metadata(),
			dapr.WithConcurrency(dapr.StateConcurrencyFirstWrite))
	} else {
		err = r.client.SaveStateWithETag(ctx, r.storeName, key.String(), data, etag, r.metadata(),
			dapr.WithConcurrency(dapr.StateConcurrencyFirstWrite))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to save form state to dapr state store: %w", err)
	}

	span.SetAttributes(attribute.Bool("success", true))
	return state, nil
}

func (r *DaprFormRepository) Delete(ctx context.Context, key models.FormKey) error {
	ctx, span := r.tracer.Start(ctx, "form.repository.delete",
		trace.WithAttributes(
			attribute.String("form.key", key.String()),
			attribute.String("operation", "state.write"),
			attribute.String("dapr.store", r.storeName),
		))
	defer span.End()

	if err := r.client.DeleteState(ctx, r.storeName, key.String(), nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete form state from dapr state store: %w", err)
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}
