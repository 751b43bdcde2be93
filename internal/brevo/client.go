package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/models"
)

const apiKeyHeader = "api-key"

// alreadyExistsMarker matches both "Contact already exist" and "already exists".
const alreadyExistsMarker = "already exist"

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	tracer     trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each call. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func NewClient(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		tracer:     otel.Tracer("brevo-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateContact posts the contact to the contacts endpoint and returns the
// decoded response body.
func (c *Client) CreateContact(ctx context.Context, contact *models.Contact) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "brevo.contacts.create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("operation", "remote.write"),
			attribute.Int64Slice("brevo.list_ids", contact.ListIDs),
		))
	defer span.End()

	payload, err := json.Marshal(contact)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal contact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(span, &models.RemoteCallError{Err: err})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(span, &models.RemoteCallError{StatusCode: resp.StatusCode, Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorBody
		if err := json.Unmarshal(body, &apiErr); err != nil {
			return nil, c.fail(span, &models.RemoteCallError{StatusCode: resp.StatusCode})
		}
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, alreadyExistsMarker) {
			span.SetAttributes(attribute.Bool("brevo.contact_exists", true))
			return nil, models.ErrContactAlreadyExists
		}
		return nil, c.fail(span, &models.RemoteCallError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message),
		})
	}

	result := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, c.fail(span, &models.RemoteCallError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("failed to decode response: %w", err),
			})
		}
	}

	span.SetAttributes(attribute.Bool("success", true))
	return result, nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
