package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/logging"
	"newsletter-go/internal/middleware"
	"newsletter-go/internal/models"
	"newsletter-go/internal/page"
	"newsletter-go/internal/service"
)

const indexPage = "index.html"

type FormHandler struct {
	service    *service.SubscriptionService
	catalog    *page.Catalog
	stylesheet string
	logger     *logging.ContextLogger
	tracer     trace.Tracer
}

func NewFormHandler(service *service.SubscriptionService, catalog *page.Catalog, stylesheet string, logger *logging.ContextLogger) *FormHandler {
	return &FormHandler{
		service:    service,
		catalog:    catalog,
		stylesheet: stylesheet,
		logger:     logger,
		tracer:     otel.Tracer("form-handler"),
	}
}

func SubmitPath(pageName, formID string) string {
	return fmt.Sprintf("/newsletter/pages/%s/forms/%s/subscribe", url.PathEscape(pageName), url.PathEscape(formID))
}

func PagePath(pageName string) string {
	if pageName == indexPage {
		return "/"
	}
	return "/pages/" + url.PathEscape(pageName)
}

type formView struct {
	Page        string                `json:"page"`
	Form        string                `json:"form"`
	Email       string                `json:"email"`
	Submitting  bool                  `json:"submitting"`
	SubmitLabel string                `json:"submit_label"`
	Message     *models.StatusMessage `json:"message,omitempty"`
}

func newFormView(spec page.FormSpec, pageName string, state *models.FormState) formView {
	label := spec.SubmitLabel
	if state.Submitting {
		label = "Subscribing..."
	}
	return formView{
		Page:        pageName,
		Form:        spec.ID,
		Email:       state.Email,
		Submitting:  state.Submitting,
		SubmitLabel: label,
		Message:     state.Message,
	}
}

func (h *FormHandler) ServeIndex(c *gin.Context) {
	h.servePage(c, indexPage)
}

func (h *FormHandler) ServePage(c *gin.Context) {
	h.servePage(c, c.Param("page"))
}

func (h *FormHandler) servePage(c *gin.Context, name string) {
	ctx, span := h.tracer.Start(c.Request.Context(), "form.handler.serve_page",
		trace.WithAttributes(attribute.String("page.name", name)))
	defer span.End()

	p, err := h.catalog.Page(name)
	if err != nil {
		c.String(http.StatusNotFound, "page not found")
		return
	}

	session := middleware.SessionID(c)
	states := make(map[string]*models.FormState, len(p.Forms))
	for _, spec := range p.Forms {
		state, err := h.service.FormState(ctx, models.FormKey{Session: session, Page: name, Form: spec.ID})
		if err != nil {
			h.logger.ErrorWithTracing(ctx, "Failed to load form state", err, logrus.Fields{
				"page": name,
				"form": spec.ID,
			})
			span.RecordError(err)
			c.String(http.StatusInternalServerError, "failed to render page")
			return
		}
		states[spec.ID] = state
	}

	var buf bytes.Buffer
	err = p.Render(&buf, states, page.RenderOptions{
		Now:           time.Now(),
		Action:        SubmitPath,
		CSRFFieldName: middleware.CSRFFieldName,
		CSRFToken:     middleware.CSRFToken(c.Request),
		Stylesheet:    h.stylesheet,
	})
	if err != nil {
		h.logger.ErrorWithTracing(ctx, "Failed to render page", err, logrus.Fields{"page": name})
		span.RecordError(err)
		c.String(http.StatusInternalServerError, "failed to render page")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *FormHandler) SubmitForm(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "form.handler.submit")
	defer span.End()

	wantsJSON := c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON

	pageName, formID := c.Param("page"), c.Param("form")
	p, spec, err := h.catalog.Form(pageName, formID)
	if err != nil {
		span.RecordError(err)
		if wantsJSON {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.String(http.StatusNotFound, "form not found")
		return
	}

	key := models.FormKey{Session: middleware.SessionID(c), Page: p.Name, Form: spec.ID}
	span.SetAttributes(
		attribute.String("form.page", key.Page),
		attribute.String("form.id", key.Form),
	)

	state, err := h.service.SubmitForm(ctx, key, c.PostForm(spec.EmailField))
	if err != nil {
		span.RecordError(err)
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrSubmissionInFlight) {
			status = http.StatusConflict
		} else {
			h.logger.ErrorWithTracing(ctx, "Failed to handle form submission", err, logrus.Fields{
				"page": key.Page,
				"form": key.Form,
			})
		}
		if wantsJSON {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		if status == http.StatusConflict {
			c.Redirect(http.StatusSeeOther, PagePath(p.Name)+"#"+spec.ID)
			return
		}
		c.String(status, "failed to handle submission")
		return
	}

	span.SetAttributes(attribute.String("message.kind", string(state.Message.Kind)))

	if wantsJSON {
		c.JSON(StatusForOutcome(state.Message.Outcome), newFormView(spec, p.Name, state))
		return
	}
	c.Redirect(http.StatusSeeOther, PagePath(p.Name)+"#"+spec.ID)
}

func (h *FormHandler) GetForm(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "form.handler.get")
	defer span.End()

	p, spec, err := h.catalog.Form(c.Param("page"), c.Param("form"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	key := models.FormKey{Session: middleware.SessionID(c), Page: p.Name, Form: spec.ID}
	state, err := h.service.FormState(ctx, key)
	if err != nil {
		h.logger.ErrorWithTracing(ctx, "Failed to load form state", err, logrus.Fields{
			"page": key.Page,
			"form": key.Form,
		})
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load form state"})
		return
	}

	c.JSON(http.StatusOK, newFormView(spec, p.Name, state))
}

// StatusForOutcome maps a submission outcome to the response status used
// for script clients; the body carries the user-facing message either way.
func StatusForOutcome(outcome models.Outcome) int {
	switch outcome {
	case models.OutcomeSubscribed:
		return http.StatusCreated
	case models.OutcomeAlreadySubscribed:
		return http.StatusOK
	case models.OutcomeInvalidEmail:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
