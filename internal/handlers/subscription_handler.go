package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/logging"
	"newsletter-go/internal/models"
	"newsletter-go/internal/service"
)

type SubscriptionHandler struct {
	service *service.SubscriptionService
	logger  *logging.ContextLogger
	tracer  trace.Tracer
}

func NewSubscriptionHandler(service *service.SubscriptionService, logger *logging.ContextLogger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		logger:  logger,
		tracer:  otel.Tracer("subscription-handler"),
	}
}

type subscriptionResponse struct {
	Kind    models.MessageKind `json:"kind"`
	Outcome models.Outcome     `json:"outcome"`
	Message string             `json:"message"`
}

func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "subscription.handler.create")
	defer span.End()

	var req models.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnWithTracing(ctx, "Invalid request payload", logrus.Fields{
			"endpoint": "POST /subscriptions",
			"error":    err.Error(),
		})
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	msg, err := h.service.Subscribe(ctx, req.Email)
	if err != nil {
		span.RecordError(err)
	}

	span.SetAttributes(attribute.String("subscription.outcome", string(msg.Outcome)))

	c.JSON(StatusForOutcome(msg.Outcome), subscriptionResponse{
		Kind:    msg.Kind,
		Outcome: msg.Outcome,
		Message: msg.Text,
	})
}
