package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "require", cfg.Webhook.SignaturePolicy)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, uint(3), cfg.Gateway.MaxRetries)
	assert.Equal(t, "USD", cfg.Invoice.Currency)
	assert.Equal(t, 2*time.Minute, cfg.Invoice.IssueTimeout)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlement.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
log:
  level: debug
kafka:
  brokers: [kafka-1:9092]
stripe:
  api_key: sk_file
  webhook_secret: whsec_file
gateway:
  timeout: 2s
`), 0o600))

	t.Setenv("SETTLEMENT_STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("SETTLEMENT_MERCADOPAGO_ACCESS_TOKEN", "APP_USR-1")
	t.Setenv("SETTLEMENT_WEBHOOK_SIGNATURE_POLICY", "skip-if-unset")
	t.Setenv("SETTLEMENT_RATELIMIT_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "sk_file", cfg.Stripe.Credential())
	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "APP_USR-1", cfg.MercadoPago.Credential())
	assert.Equal(t, "skip-if-unset", cfg.Webhook.SignaturePolicy)
	assert.Equal(t, 2*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.RateLimit.TrustedProxies)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitList([]string{"a:1, b:2", ""}))
	assert.Nil(t, splitList(nil))
}
