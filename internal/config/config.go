package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"newsletter-go/internal/models"
)

const DefaultBrevoContactsURL = "https://api.brevo.com/v3/contacts"

// Config is the process configuration. It is built from defaults, then an
// optional YAML file named by NEWSLETTER_CONFIG, then environment variables.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Port           string `yaml:"port"`
	GinMode        string `yaml:"gin_mode"`
	LogLevel       string `yaml:"log_level"`
	TraceExporter  string `yaml:"trace_exporter"`

	BrevoAPIKey   string        `yaml:"brevo_api_key"`
	BrevoAPIURL   string        `yaml:"brevo_api_url"`
	BrevoListID   int64         `yaml:"brevo_list_id"`
	BrevoTimeout  time.Duration `yaml:"brevo_timeout"`
	ContactSource string        `yaml:"contact_source"`

	PagesDir  string `yaml:"pages_dir"`
	FormClass string `yaml:"form_class"`

	MessageDismissDelay time.Duration   `yaml:"message_dismiss_delay"`
	MessageFadeDuration time.Duration   `yaml:"message_fade_duration"`
	Messages            models.Messages `yaml:"messages"`

	FormStateCapacity int           `yaml:"form_state_capacity"`
	FormStateTTL      time.Duration `yaml:"form_state_ttl"`
	SessionCookie     string        `yaml:"session_cookie"`

	CSRFKey            string   `yaml:"csrf_key"`
	CSRFTrustedOrigins []string `yaml:"csrf_trusted_origins"`

	DaprGRPCAddress string `yaml:"dapr_grpc_address"`
	DaprStateStore  string `yaml:"dapr_state_store"`
	DaprPubSub      string `yaml:"dapr_pubsub"`
	DaprTopic       string `yaml:"dapr_topic"`
}

func Default() *Config {
	return &Config{
		ServiceName:         "newsletter-api",
		ServiceVersion:      "1.0.0",
		Port:                "8080",
		LogLevel:            "info",
		TraceExporter:       "stdout",
		BrevoAPIURL:         DefaultBrevoContactsURL,
		BrevoListID:         2,
		ContactSource:       "Website Newsletter",
		FormClass:           "newsletter-form",
		MessageDismissDelay: models.DefaultDismissDelay,
		MessageFadeDuration: models.DefaultFadeDuration,
		Messages:            models.DefaultMessages(),
		FormStateCapacity:   10000,
		FormStateTTL:        30 * time.Minute,
		SessionCookie:       "newsletter_session",
		DaprStateStore:      "statestore",
		DaprPubSub:          "pubsub",
		DaprTopic:           "newsletter.contact.subscribed",
	}
}

// Load reads a .env file when present, then builds and validates the config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the config using lookup for environment access.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("NEWSLETTER_CONFIG"); ok && path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	cfg.Messages = sanitizeMessages(cfg.Messages)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SERVICE_NAME", &c.ServiceName)
	str("SERVICE_VERSION", &c.ServiceVersion)
	str("PORT", &c.Port)
	str("GIN_MODE", &c.GinMode)
	str("LOG_LEVEL", &c.LogLevel)
	str("TRACE_EXPORTER", &c.TraceExporter)
	str("BREVO_API_KEY", &c.BrevoAPIKey)
	str("BREVO_API_URL", &c.BrevoAPIURL)
	str("CONTACT_SOURCE", &c.ContactSource)
	str("NEWSLETTER_PAGES_DIR", &c.PagesDir)
	str("NEWSLETTER_FORM_CLASS", &c.FormClass)
	str("SESSION_COOKIE", &c.SessionCookie)
	str("CSRF_KEY", &c.CSRFKey)
	str("DAPR_GRPC_ADDRESS", &c.DaprGRPCAddress)
	str("DAPR_STATE_STORE", &c.DaprStateStore)
	str("DAPR_PUBSUB", &c.DaprPubSub)
	str("DAPR_TOPIC", &c.DaprTopic)

	if v, ok := lookup("CSRF_TRUSTED_ORIGINS"); ok && v != "" {
		c.CSRFTrustedOrigins = splitList(v)
	}

	if v, ok := lookup("BREVO_LIST_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BREVO_LIST_ID %q: %w", v, err)
		}
		c.BrevoListID = id
	}

	if v, ok := lookup("FORM_STATE_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FORM_STATE_CAPACITY %q: %w", v, err)
		}
		c.FormStateCapacity = n
	}

	durations := map[string]*time.Duration{
		"BREVO_TIMEOUT":         &c.BrevoTimeout,
		"MESSAGE_DISMISS_DELAY": &c.MessageDismissDelay,
		"MESSAGE_FADE_DURATION": &c.MessageFadeDuration,
		"FORM_STATE_TTL":        &c.FormStateTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}

	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.BrevoAPIKey == "" {
		errs = append(errs, errors.New("BREVO_API_KEY is required"))
	}
	if c.BrevoAPIURL == "" {
		errs = append(errs, errors.New("BREVO_API_URL must not be empty"))
	}
	if c.BrevoListID <= 0 {
		errs = append(errs, fmt.Errorf("BREVO_LIST_ID must be positive, got %d", c.BrevoListID))
	}
	if c.FormClass == "" || strings.ContainsAny(c.FormClass, " \t\n") {
		errs = append(errs, fmt.Errorf("NEWSLETTER_FORM_CLASS must be a single class name, got %q", c.FormClass))
	}
	if c.BrevoTimeout < 0 || c.MessageDismissDelay < 0 || c.MessageFadeDuration < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.FormStateCapacity <= 0 {
		errs = append(errs, fmt.Errorf("FORM_STATE_CAPACITY must be positive, got %d", c.FormStateCapacity))
	}
	if c.FormStateTTL <= 0 {
		errs = append(errs, errors.New("FORM_STATE_TTL must be positive"))
	}
	if c.SessionCookie == "" {
		errs = append(errs, errors.New("SESSION_COOKIE must not be empty"))
	}
	if c.CSRFKey != "" {
		if _, err := c.CSRFAuthKey(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CSRFAuthKey decodes CSRF_KEY. It returns nil when CSRF protection is off.
func (c *Config) CSRFAuthKey() ([]byte, error) {
	if c.CSRFKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.CSRFKey)
	if err != nil || len(key) != 32 {
		return nil, errors.New("CSRF_KEY must be 64 hex characters (32 bytes)")
	}
	return key, nil
}

func (c *Config) DaprEnabled() bool {
	return c.DaprGRPCAddress != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

// sanitizeMessages strips markup from operator supplied copy. Empty entries
// fall back to the defaults.
func sanitizeMessages(m models.Messages) models.Messages {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	defaults := models.DefaultMessages()
	clean := func(s, fallback string) string {
		s = strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
		if s == "" {
			return fallback
		}
		return s
	}
	return models.Messages{
		Success:           clean(m.Success, defaults.Success),
		AlreadySubscribed: clean(m.AlreadySubscribed, defaults.AlreadySubscribed),
		InvalidEmail:      clean(m.InvalidEmail, defaults.InvalidEmail),
		Failure:           clean(m.Failure, defaults.Failure),
	}
}
