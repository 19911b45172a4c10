package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// PrivateKey is an RSA private key read from a PEM encoded variable.
// Literal "\n" sequences are accepted so the key fits on one line.
type PrivateKey struct {
	Raw *rsa.PrivateKey
}

func (k *PrivateKey) UnmarshalEnvironmentValue(data string) error {
	key, err := ParseRSAPrivateKey(data)
	if err != nil {
		return err
	}
	k.Raw = key
	return nil
}

// ParseRSAPrivateKey decodes a PKCS#1 or PKCS#8 PEM block.
func ParseRSAPrivateKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.ReplaceAll(data, `\n`, "\n")))
	if block == nil {
		return nil, fmt.Errorf("private key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an RSA key")
	}
	return key, nil
}

// Duration accepts values such as "1h" or "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalEnvironmentValue(data string) error {
	parsed, err := time.ParseDuration(data)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", data, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	HttpListenAddress  string      `env:"HTTP_LISTEN_ADDRESS,default=0.0.0.0:8081"`
	GrpcListenAddress  string      `env:"GRPC_LISTEN_ADDRESS,default=0.0.0.0:8080"`
	SQLiteDirPath      string      `env:"SQLITE_DIR_PATH,default=db"`
	PgDatabaseUrl      string      `env:"DATABASE_URL"`
	ProjectID          string      `env:"POWERSYNC_PROJECT_ID"`
	PrivateKey         *PrivateKey `env:"POWERSYNC_PRIVATE_KEY"`
	SyncEndpoint       string      `env:"POWERSYNC_ENDPOINT"`
	TokenIssuer        string      `env:"POWERSYNC_TOKEN_ISSUER,default=todo-sync"`
	CredentialTTL      Duration    `env:"CREDENTIAL_TTL,default=1h"`
	WebhookSecret      string      `env:"POWERSYNC_WEBHOOK_SECRET"`
	WebhookMaxBody     int         `env:"WEBHOOK_MAX_BODY_BYTES,default=1048576"`
	SessionSecret      string      `env:"SESSION_SECRET"`
	SessionIssuer      string      `env:"SESSION_ISSUER,default=todo-sync-auth"`
	SessionTTL         Duration    `env:"SESSION_TTL,default=24h"`
	CorsAllowedOrigins string      `env:"CORS_ALLOWED_ORIGINS,default=*"`
	LogLevel           string      `env:"LOG_LEVEL,default=info"`
	LogFormat          string      `env:"LOG_FORMAT,default=text"`
	LogFile            string      `env:"LOG_FILE"`
}

// Endpoint returns the sync service URL handed out with credentials.
func (c *Config) Endpoint() string {
	if c.SyncEndpoint != "" {
		return c.SyncEndpoint
	}
	return fmt.Sprintf("https://api.powersync.com/v1/%v", c.ProjectID)
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CorsAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func NewConfig() (*Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ClientConfig configures the todo CLI and its sync connector.
type ClientConfig struct {
	DBPath        string   `env:"TODO_DB_PATH,default=todo.db"`
	ServerURL     string   `env:"TODO_SERVER_URL,default=http://localhost:8081"`
	SessionToken  string   `env:"TODO_SESSION_TOKEN"`
	WebhookSecret string   `env:"POWERSYNC_WEBHOOK_SECRET"`
	ClientID      string   `env:"TODO_CLIENT_ID"`
	RetryInitial  Duration `env:"SYNC_RETRY_INITIAL,default=500ms"`
	RetryMax      Duration `env:"SYNC_RETRY_MAX,default=1m"`
	IdleInterval  Duration `env:"SYNC_IDLE_INTERVAL,default=30s"`
	UploadTimeout Duration `env:"SYNC_UPLOAD_TIMEOUT,default=30s"`
	LogLevel      string   `env:"LOG_LEVEL,default=info"`
	LogFormat     string   `env:"LOG_FORMAT,default=text"`
	LogFile       string   `env:"LOG_FILE"`
}

func NewClientConfig() (*ClientConfig, error) {
	var config ClientConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
