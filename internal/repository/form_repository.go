package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/models"
)

// UpdateFunc mutates a form state in place. Returning an error aborts the
// update and leaves the stored state untouched.
type UpdateFunc func(state *models.FormState) error

type FormRepository interface {
	// Get returns the stored state, or a fresh idle state when none exists.
	Get(ctx context.Context, key models.FormKey) (*models.FormState, error)
	// Update applies fn atomically and returns a copy of the resulting state.
	Update(ctx context.Context, key models.FormKey, fn UpdateFunc) (*models.FormState, error)
	Delete(ctx context.Context, key models.FormKey) error
}

type InMemoryFormRepository struct {
	mu     sync.Mutex
	states *expirable.LRU[string, *models.FormState]
	tracer trace.Tracer
	now    func() time.Time
}

// NewInMemoryFormRepository keeps at most capacity form states; a state not
// touched for ttl is dropped.
func NewInMemoryFormRepository(capacity int, ttl time.Duration) *InMemoryFormRepository {
	return &InMemoryFormRepository{
		states: expirable.NewLRU[string, *models.FormState](capacity, nil, ttl),
		tracer: otel.Tracer("form-repository"),
		now:    time.Now,
	}
}

func (r *InMemoryFormRepository) Get(ctx context.Context, key models.FormKey) (*models.FormState, error) {
	_, span := r.tracer.Start(ctx, "form.repository.get",
		trace.WithAttributes(
			attribute.String("form.key", key.String()),
			attribute.String("operation", "state.read"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states.Get(key.String())
	span.SetAttributes(attribute.Bool("found", ok))
	if !ok {
		return models.NewFormState(key), nil
	}
	return state.Clone(), nil
}

func (r *InMemoryFormRepository) Update(ctx context.Context, key models.FormKey, fn UpdateFunc) (*models.FormState, error) {
	_, span := r.tracer.Start(ctx, "form.repository.update",
		trace.WithAttributes(
			attribute.String("form.key", key.String()),
			attribute.String("operation", "state.write"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states.Get(key.String())
	if ok {
		state = state.Clone()
	} else {
		state = models.NewFormState(key)
	}

	if err := fn(state); err != nil {
		span.RecordError(err)
		return nil, err
	}

	state.UpdatedAt = r.now()
	r.states.Add(key.String(), state)

	span.SetAttributes(attribute.Bool("success", true))
	return state.Clone(), nil
}

func (r *InMemoryFormRepository) Delete(ctx context.Context, key models.FormKey) error {
	_, span := r.tracer.Start(ctx, "form.repository.delete",
		trace.WithAttributes(
			attribute.String("form.key", key.String()),
			attribute.String("operation", "state.write"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	existed := r.states.Remove(key.String())
	span.SetAttributes(attribute.Bool("key.existed", existed))
	return nil
}

func (r *InMemoryFormRepository) Len() int {
	return r.states.Len()
}
