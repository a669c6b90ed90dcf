package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"

	// CallbackPath is where Apple posts the authorization result.
	CallbackPath = "/callbacks/sign_in_with_apple"

	DefaultAndroidPackage = "com.corpuslab.bok"
)

// AppleConfig holds the Sign in with Apple credentials and endpoints.
type AppleConfig struct {
	ServiceID  string `env:"SERVICE_ID"`
	BundleID   string `env:"BUNDLE_ID"`
	TeamID     string `env:"TEAM_ID"`
	KeyID      string `env:"KEY_ID"`
	PrivateKey string `env:"KEY_CONTENTS"` // PEM, '|' already replaced by '\n'

	RedirectURI string   `env:"APPLE_REDIRECT_URI"`
	AuthURL     string   `env:"APPLE_AUTH_URL" envDefault:"https://appleid.apple.com/auth/authorize"`
	TokenURL    string   `env:"APPLE_TOKEN_URL" envDefault:"https://appleid.apple.com/auth/token"`
	Scopes      []string `env:"APPLE_SCOPES" envSeparator:" " envDefault:"name email"`

	TokenTimeout    time.Duration `env:"APPLE_TOKEN_TIMEOUT" envDefault:"10s"`
	ClientSecretTTL time.Duration `env:"APPLE_CLIENT_SECRET_TTL" envDefault:"5m"`

	VerifyIDToken bool   `env:"APPLE_VERIFY_ID_TOKEN" envDefault:"false"`
	Issuer        string `env:"APPLE_ISS" envDefault:"https://appleid.apple.com"`
	JWKSURL       string `env:"APPLE_JWKS_URL" envDefault:"https://appleid.apple.com/auth/keys"`
}

// ClientID picks the identifier presented to Apple: the native bundle
// identifier when useBundleID is set, the web service identifier otherwise.
func (c AppleConfig) ClientID(useBundleID bool) string {
	if useBundleID {
		return c.BundleID
	}
	return c.ServiceID
}

// MissingFor returns the env names of values a code exchange with the
// selected client identifier cannot do without.
func (c AppleConfig) MissingFor(useBundleID bool) []string {
	missing := make([]string, 0, 4)
	if useBundleID {
		if strings.TrimSpace(c.BundleID) == "" {
			missing = append(missing, "BUNDLE_ID")
		}
	} else if strings.TrimSpace(c.ServiceID) == "" {
		missing = append(missing, "SERVICE_ID")
	}
	if strings.TrimSpace(c.TeamID) == "" {
		missing = append(missing, "TEAM_ID")
	}
	if strings.TrimSpace(c.KeyID) == "" {
		missing = append(missing, "KEY_ID")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		missing = append(missing, "KEY_CONTENTS")
	}
	return missing
}

// DiagnosticsSummary returns a one-line summary for logging (no secrets).
func (c AppleConfig) DiagnosticsSummary() string {
	return fmt.Sprintf("service_id=%s bundle_id=%s team_id=%s key_id=%s key_contents=%s redirect_uri=%s verify_id_token=%t token_timeout=%s",
		nonEmptyOrDash(c.ServiceID),
		nonEmptyOrDash(c.BundleID),
		nonEmptyOrDash(c.TeamID),
		nonEmptyOrDash(c.KeyID),
		setOrNot(c.PrivateKey),
		nonEmptyOrDash(c.RedirectURI),
		c.VerifyIDToken,
		c.TokenTimeout,
	)
}

// TracingConfig enables OTLP trace export. Tracing stays off while Endpoint
// is empty.
type TracingConfig struct {
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"siwa-relay"`
}

// Config is the process-wide, read-only configuration.
type Config struct {
	Env      string `env:"APP_ENV"`
	Port     int    `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL"`

	ExternalBaseURL string `env:"EXTERNAL_BASE_URL"`
	AndroidPackage  string `env:"ANDROID_PACKAGE_IDENTIFIER" envDefault:"com.corpuslab.bok"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	MetricsEnabled     bool     `env:"METRICS_ENABLED" envDefault:"true"`

	Apple   AppleConfig
	Tracing TracingConfig
}

// IsProduction reports whether logs should be structured JSON.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction || c.Env == EnvStaging
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.normalize(os.Getenv)
	return cfg, nil
}

// normalize applies legacy env fallbacks and derived values.
func (c *Config) normalize(getenv func(string) string) {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		// Older deployments only set NODE_ENV.
		c.Env = strings.ToLower(strings.TrimSpace(getenv("NODE_ENV")))
	}
	if c.Env == "" {
		c.Env = EnvDevelopment
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		if c.IsProduction() {
			c.LogLevel = "info"
		} else {
			c.LogLevel = "debug"
		}
	}

	c.ExternalBaseURL = strings.TrimSpace(c.ExternalBaseURL)
	if c.ExternalBaseURL == "" {
		c.ExternalBaseURL = strings.TrimSpace(getenv("RENDER_EXTERNAL_URL"))
	}
	if c.ExternalBaseURL == "" {
		c.ExternalBaseURL = "http://localhost:" + strconv.Itoa(c.Port)
	}
	c.ExternalBaseURL = strings.TrimRight(c.ExternalBaseURL, "/")

	c.AndroidPackage = strings.TrimSpace(c.AndroidPackage)

	origins := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSAllowedOrigins = origins

	a := &c.Apple
	a.ServiceID = strings.TrimSpace(a.ServiceID)
	a.BundleID = strings.TrimSpace(a.BundleID)
	a.TeamID = strings.TrimSpace(a.TeamID)
	a.KeyID = strings.TrimSpace(a.KeyID)
	a.PrivateKey = DecodeKeyContents(a.PrivateKey)
	a.RedirectURI = strings.TrimSpace(a.RedirectURI)
	if a.RedirectURI == "" {
		a.RedirectURI = c.ExternalBaseURL + CallbackPath
	}

	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
}

// DecodeKeyContents restores a PEM block that was flattened onto one line
// by replacing newlines with '|'.
func DecodeKeyContents(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.ReplaceAll(raw, "|", "\n")
}

func nonEmptyOrDash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}

func setOrNot(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return "set"
}
