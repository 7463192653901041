package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("ENTITLEMENT_WEBHOOK_SECRET", "whsec_0123456789abcdef")
	t.Setenv("ENTITLEMENT_AUTH_SECRET", "auth_0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "entitlement.db", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("ENTITLEMENT_WEBHOOK_SECRET", "")
	t.Setenv("ENTITLEMENT_AUTH_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ShortSecretRejected(t *testing.T) {
	t.Setenv("ENTITLEMENT_WEBHOOK_SECRET", "short")
	t.Setenv("ENTITLEMENT_AUTH_SECRET", "auth_0123456789abcdef")

	_, err := Load()
	assert.Error(t, err)
}

func TestUsesPostgres(t *testing.T) {
	assert.True(t, (&Config{DatabaseURL: "postgres://u:p@localhost/db"}).UsesPostgres())
	assert.True(t, (&Config{DatabaseURL: "postgresql://localhost/db"}).UsesPostgres())
	assert.False(t, (&Config{DatabaseURL: "entitlement.db"}).UsesPostgres())
}

func TestValidate_PortBounds(t *testing.T) {
	setRequired(t)
	t.Setenv("ENTITLEMENT_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}
