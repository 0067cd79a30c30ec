// Package broker is the integration surface of the SDK. A Client owns
// one token manager and one rate limiter and hands out the REST client
// and the three streaming sockets, all sharing the same identity.
package broker

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/veiloq/broker-connector/pkg/logging"
	"github.com/veiloq/broker-connector/pkg/ratelimit"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvClientID      = "BROKER_CLIENT_ID"
	EnvSecret        = "BROKER_SECRET"
	EnvRedirectURI   = "BROKER_REDIRECT_URI"
	EnvAPIBaseURL    = "BROKER_API_BASE_URL"
	EnvAuthBaseURL   = "BROKER_AUTH_BASE_URL"
	EnvWSBaseURL     = "BROKER_WS_BASE_URL"
	EnvTokenFile     = "BROKER_TOKEN_FILE"
	EnvRateLimitFile = "BROKER_RATELIMIT_FILE"
	EnvLogLevel      = "BROKER_LOG_LEVEL"
)

// DefaultWSBaseURL is the venue's streaming endpoint. The three socket
// variants live under fixed paths beneath it.
const DefaultWSBaseURL = "wss://stream.tradevenue.example"

// Streaming paths per socket variant.
const (
	orderSocketPath  = "/orders"
	marketSocketPath = "/market"
	depthSocketPath  = "/depth"
)

// Config assembles everything a Client needs. Zero values fall back to
// venue defaults; ClientID, Secret and RedirectURI are mandatory.
type Config struct {
	ClientID    string
	Secret      string
	RedirectURI string

	APIBaseURL  string
	AuthBaseURL string
	WSBaseURL   string

	// TokenFile persists the token across restarts. Empty keeps the
	// token in memory only.
	TokenFile string

	// RateLimitFile persists the daily call counter. Empty disables
	// persistence.
	RateLimitFile string

	// RateLimit overrides the venue's default ceilings when non-nil.
	RateLimit *ratelimit.Config

	LogLevel string
	Logger   logging.Logger
}

// ConfigFromEnv reads the configuration from the environment, loading
// a .env file first when one exists.
func ConfigFromEnv() Config {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	return Config{
		ClientID:      os.Getenv(EnvClientID),
		Secret:        os.Getenv(EnvSecret),
		RedirectURI:   os.Getenv(EnvRedirectURI),
		APIBaseURL:    os.Getenv(EnvAPIBaseURL),
		AuthBaseURL:   os.Getenv(EnvAuthBaseURL),
		WSBaseURL:     os.Getenv(EnvWSBaseURL),
		TokenFile:     os.Getenv(EnvTokenFile),
		RateLimitFile: os.Getenv(EnvRateLimitFile),
		LogLevel:      os.Getenv(EnvLogLevel),
	}
}

func (c Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect uri is required")
	}
	return nil
}

func (c Config) wsBaseURL() string {
	if c.WSBaseURL != "" {
		return c.WSBaseURL
	}
	return DefaultWSBaseURL
}

func (c Config) logger() logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.NewZapLogger(
		logging.WithLogLevel(logging.ParseLevel(c.LogLevel)),
	)
}
