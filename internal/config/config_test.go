package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-go/internal/models"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envLookup(map[string]string{"BREVO_API_KEY": "xkeysib-test"}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DefaultBrevoContactsURL, cfg.BrevoAPIURL)
	assert.Equal(t, int64(2), cfg.BrevoListID)
	assert.Equal(t, "Website Newsletter", cfg.ContactSource)
	assert.Equal(t, "newsletter-form", cfg.FormClass)
	assert.Equal(t, 5*time.Second, cfg.MessageDismissDelay)
	assert.Equal(t, 300*time.Millisecond, cfg.MessageFadeDuration)
	assert.Equal(t, time.Duration(0), cfg.BrevoTimeout)
	assert.Equal(t, models.DefaultMessages(), cfg.Messages)
	assert.False(t, cfg.DaprEnabled())

	key, err := cfg.CSRFAuthKey()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envLookup(map[string]string{
		"BREVO_API_KEY":         "xkeysib-test",
		"BREVO_LIST_ID":         "7",
		"BREVO_TIMEOUT":         "10s",
		"MESSAGE_DISMISS_DELAY": "2s",
		"CSRF_KEY":              strings.Repeat("ab", 32),
		"CSRF_TRUSTED_ORIGINS":  "example.com, www.example.com ,",
		"DAPR_GRPC_ADDRESS":     "localhost:50001",
	}))
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.BrevoListID)
	assert.Equal(t, 10*time.Second, cfg.BrevoTimeout)
	assert.Equal(t, 2*time.Second, cfg.MessageDismissDelay)
	assert.Equal(t, []string{"example.com", "www.example.com"}, cfg.CSRFTrustedOrigins)
	assert.True(t, cfg.DaprEnabled())

	key, err := cfg.CSRFAuthKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"missing api key": {},
		"bad list id":     {"BREVO_API_KEY": "k", "BREVO_LIST_ID": "two"},
		"zero list id":    {"BREVO_API_KEY": "k", "BREVO_LIST_ID": "0"},
		"bad duration":    {"BREVO_API_KEY": "k", "FORM_STATE_TTL": "forever"},
		"short csrf key":  {"BREVO_API_KEY": "k", "CSRF_KEY": "abcd"},
		"spaced class":    {"BREVO_API_KEY": "k", "NEWSLETTER_FORM_CLASS": "a b"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envLookup(env))
			assert.Error(t, err)
		})
	}
}

func TestFromEnvMergesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsletter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
brevo_list_id: 12
contact_source: Landing Page
message_fade_duration: 500ms
messages:
  success: "<b>Thanks</b> for joining!"
`), 0o600))

	cfg, err := FromEnv(envLookup(map[string]string{
		"NEWSLETTER_CONFIG": path,
		"BREVO_API_KEY":     "xkeysib-test",
		"CONTACT_SOURCE":    "Footer",
	}))
	require.NoError(t, err)

	assert.Equal(t, int64(12), cfg.BrevoListID)
	assert.Equal(t, "Footer", cfg.ContactSource, "environment wins over the file")
	assert.Equal(t, 500*time.Millisecond, cfg.MessageFadeDuration)
	assert.Equal(t, "Thanks for joining!", cfg.Messages.Success)
	assert.Equal(t, models.DefaultMessages().Failure, cfg.Messages.Failure)
}

func TestFromEnvMissingYAMLFile(t *testing.T) {
	_, err := FromEnv(envLookup(map[string]string{
		"NEWSLETTER_CONFIG": filepath.Join(t.TempDir(), "missing.yaml"),
		"BREVO_API_KEY":     "k",
	}))
	assert.ErrorContains(t, err, "failed to read config file")
}
