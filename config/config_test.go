package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("POWERSYNC_PROJECT_ID", "project-1")
	config, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", config.GrpcListenAddress)
	require.Equal(t, time.Hour, config.CredentialTTL.Duration)
	require.Equal(t, "https://api.powersync.com/v1/project-1", config.Endpoint())
	require.Equal(t, []string{"*"}, config.AllowedOrigins())
	require.Nil(t, config.PrivateKey)
}

func TestNewConfigOverrides(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	encoded := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	t.Setenv("POWERSYNC_PRIVATE_KEY", strings.ReplaceAll(string(encoded), "\n", `\n`))
	t.Setenv("POWERSYNC_ENDPOINT", "https://sync.example.com")
	t.Setenv("CREDENTIAL_TTL", "15m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	config, err := NewConfig()
	require.NoError(t, err)
	require.NotNil(t, config.PrivateKey)
	require.True(t, key.Equal(config.PrivateKey.Raw))
	require.Equal(t, 15*time.Minute, config.CredentialTTL.Duration)
	require.Equal(t, "https://sync.example.com", config.Endpoint())
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, config.AllowedOrigins())
}

func TestParseRSAPrivateKeyPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	parsed, err := ParseRSAPrivateKey(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	require.NoError(t, err)
	require.True(t, key.Equal(parsed))

	_, err = ParseRSAPrivateKey("not a key")
	require.Error(t, err)
}

func TestInvalidDuration(t *testing.T) {
	t.Setenv("SYNC_RETRY_MAX", "soon")
	_, err := NewClientConfig()
	require.Error(t, err)
}
