package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/events"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/models"
	"newsletter-go/internal/repository"
)

// ContactsClient performs the remote subscription call.
type ContactsClient interface {
	CreateContact(ctx context.Context, contact *models.Contact) (map[string]any, error)
}

type Options struct {
	ListID       int64
	Source       string
	Messages     models.Messages
	DismissDelay time.Duration
	FadeDuration time.Duration
}

type SubscriptionService struct {
	client    ContactsClient
	forms     repository.FormRepository
	publisher events.Publisher
	logger    *logging.ContextLogger
	tracer    trace.Tracer
	opts      Options
	now       func() time.Time
}

func NewSubscriptionService(
	client ContactsClient,
	forms repository.FormRepository,
	publisher events.Publisher,
	logger *logging.ContextLogger,
	opts Options,
) *SubscriptionService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &SubscriptionService{
		client:    client,
		forms:     forms,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("subscription-service"),
		opts:      opts,
		now:       time.Now,
	}
}

// Subscribe validates email and, when it passes, makes exactly one call to
// the contacts API. The returned message is always set; the error is the
// classified failure (ErrInvalidEmailFormat, ErrContactAlreadyExists or a
// *RemoteCallError) and is meant for logs and status codes, never for users.
func (s *SubscriptionService) Subscribe(ctx context.Context, rawEmail string) (*models.StatusMessage, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.service.subscribe")
	defer span.End()

	email := strings.TrimSpace(rawEmail)
	if !models.IsValidEmail(email) {
		span.SetAttributes(attribute.String("subscription.outcome", "invalid"))
		s.logger.InfoWithTracing(ctx, "Rejected invalid email", nil)
		return s.newMessage(s.opts.Messages.InvalidEmail, models.OutcomeInvalidEmail), models.ErrInvalidEmailFormat
	}

	msg, err := s.subscribe(ctx, email, events.NewSubscribedEvent(email, []int64{s.opts.ListID}, s.opts.Source))
	if err != nil {
		span.RecordError(err)
	}
	return msg, err
}

// subscribe runs the remote call and classifies its result.
func (s *SubscriptionService) subscribe(ctx context.Context, email string, event events.SubscribedEvent) (*models.StatusMessage, error) {
	fields := logrus.Fields{"email": logging.MaskEmail(email)}

	// A started call runs to completion even if the visitor goes away.
	callCtx := context.WithoutCancel(ctx)
	contact := models.NewContact(email, s.opts.ListID, s.opts.Source)

	if _, err := s.client.CreateContact(callCtx, contact); err != nil {
		if errors.Is(err, models.ErrContactAlreadyExists) {
			s.logger.InfoWithTracing(ctx, "Contact already subscribed", fields)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("subscription.outcome", "already_exists"))
			return s.newMessage(s.opts.Messages.AlreadySubscribed, models.OutcomeAlreadySubscribed), err
		}

		var remoteErr *models.RemoteCallError
		if errors.As(err, &remoteErr) {
			fields["status_code"] = remoteErr.StatusCode
		}
		s.logger.ErrorWithTracing(ctx, "Subscription error", err, fields)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("subscription.outcome", "failed"))
		return s.newMessage(s.opts.Messages.Failure, models.OutcomeFailed), err
	}

	s.logger.InfoWithTracing(ctx, "Successfully subscribed contact", fields)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("subscription.outcome", "subscribed"),
		attribute.Bool("success", true),
	)

	if err := s.publisher.PublishSubscribed(callCtx, event); err != nil {
		s.logger.WarnWithTracing(ctx, "Failed to publish subscribed event", logrus.Fields{
			"event_id": event.ID.String(),
			"error":    err.Error(),
		})
	}

	return s.newMessage(s.opts.Messages.Success, models.OutcomeSubscribed), nil
}

// SubmitForm handles one submission of a bound form instance and returns the
// form state after the attempt. It only fails for ErrSubmissionInFlight and
// form store errors; subscription outcomes are reported via the message.
func (s *SubscriptionService) SubmitForm(ctx context.Context, key models.FormKey, rawEmail string) (*models.FormState, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.service.submit_form",
		trace.WithAttributes(
			attribute.String("form.page", key.Page),
			attribute.String("form.id", key.Form),
		))
	defer span.End()

	email := strings.TrimSpace(rawEmail)
	if !models.IsValidEmail(email) {
		span.SetAttributes(attribute.String("subscription.outcome", "invalid"))
		s.logger.InfoWithTracing(ctx, "Rejected invalid email", logrus.Fields{"form": key.Form, "page": key.Page})
		state, err := s.showMessage(ctx, key, s.newMessage(s.opts.Messages.InvalidEmail, models.OutcomeInvalidEmail), func(st *models.FormState) error {
			if st.Submitting {
				return models.ErrSubmissionInFlight
			}
			st.Email = rawEmail
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return state, nil
	}

	_, err := s.forms.Update(ctx, key, func(st *models.FormState) error {
		if st.Submitting {
			return models.ErrSubmissionInFlight
		}
		st.Submitting = true
		st.Email = email
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrSubmissionInFlight) {
			s.logger.WarnWithTracing(ctx, "Ignored submission while another is in flight", logrus.Fields{
				"form": key.Form,
				"page": key.Page,
			})
		}
		span.RecordError(err)
		return nil, err
	}

	restored := false
	defer func() {
		if restored {
			return
		}
		if _, err := s.forms.Update(context.WithoutCancel(ctx), key, func(st *models.FormState) error {
			st.Submitting = false
			return nil
		}); err != nil {
			s.logger.ErrorWithTracing(ctx, "Failed to restore submit control", err, logrus.Fields{"form": key.Form})
		}
	}()

	event := events.NewSubscribedEvent(email, []int64{s.opts.ListID}, s.opts.Source)
	event.Page = key.Page
	event.Form = key.Form

	msg, subErr := s.subscribe(ctx, email, event)
	if subErr != nil {
		span.RecordError(subErr)
	}

	state, err := s.showMessage(context.WithoutCancel(ctx), key, msg, func(st *models.FormState) error {
		if subErr == nil {
			st.Email = ""
		}
		st.Submitting = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	restored = true
	return state, nil
}

// FormState returns the visitor's current state of a form.
func (s *SubscriptionService) FormState(ctx context.Context, key models.FormKey) (*models.FormState, error) {
	state, err := s.forms.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	state.DropExpiredMessage(s.now())
	return state, nil
}

func (s *SubscriptionService) newMessage(text string, outcome models.Outcome) *models.StatusMessage {
	return models.NewStatusMessage(text, outcome, s.now(), s.opts.DismissDelay, s.opts.FadeDuration)
}

// showMessage attaches msg to the form, replacing any previous message, and
// schedules its removal once the fade has finished.
func (s *SubscriptionService) showMessage(ctx context.Context, key models.FormKey, msg *models.StatusMessage, mutate repository.UpdateFunc) (*models.FormState, error) {
	state, err := s.forms.Update(ctx, key, func(st *models.FormState) error {
		if err := mutate(st); err != nil {
			return err
		}
		st.Message = msg
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrSubmissionInFlight) {
			s.logger.ErrorWithTracing(ctx, "Failed to store status message", err, logrus.Fields{"form": key.Form})
		}
		return nil, err
	}

	delay := msg.RemoveAt.Sub(s.now())
	time.AfterFunc(delay, func() {
		s.removeMessage(key, msg)
	})
	s.logger.DebugWithTracing(ctx, "Scheduled status message removal", logrus.Fields{
		"form":       key.Form,
		"message_id": msg.ID.String(),
		"kind":       string(msg.Kind),
		"remove_in":  delay.String(),
	})

	return state, nil
}

func (s *SubscriptionService) removeMessage(key models.FormKey, msg *models.StatusMessage) {
	_, err := s.forms.Update(context.Background(), key, func(st *models.FormState) error {
		if st.Message != nil && st.Message.ID == msg.ID {
			st.Message = nil
		}
		return nil
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"form":       key.Form,
			"message_id": msg.ID.String(),
		}).WithError(err).Warn("Failed to remove status message")
	}
}
