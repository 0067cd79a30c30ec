package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/broker-connector/pkg/auth"
	"github.com/veiloq/broker-connector/pkg/interfaces"
)

func testClientConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		ClientID:      "APP-1",
		Secret:        "sekret",
		RedirectURI:   "https://example.com/cb",
		TokenFile:     filepath.Join(dir, "token.json"),
		RateLimitFile: filepath.Join(dir, "ratelimit.json"),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Secret: "s", RedirectURI: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client id")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvClientID, "APP-9")
	t.Setenv(EnvSecret, "shh")
	t.Setenv(EnvRedirectURI, "https://example.com/cb")
	t.Setenv(EnvTokenFile, "/tmp/tok.json")
	t.Setenv(EnvLogLevel, "debug")

	config := ConfigFromEnv()
	assert.Equal(t, "APP-9", config.ClientID)
	assert.Equal(t, "shh", config.Secret)
	assert.Equal(t, "https://example.com/cb", config.RedirectURI)
	assert.Equal(t, "/tmp/tok.json", config.TokenFile)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestAuthenticateUsesStoredToken(t *testing.T) {
	config := testClientConfig(t)

	future := time.Now().Add(time.Hour)
	require.NoError(t, auth.NewFileStore(config.TokenFile).Save(&auth.Token{
		AccessToken: "stored-token",
		TokenType:   "bearer",
		CreatedAt:   time.Now(),
		ExpiresAt:   &future,
	}))

	client, err := New(config)
	require.NoError(t, err)

	token, err := client.Authenticate(context.Background(), AuthOptions{})
	require.NoError(t, err)
	assert.Equal(t, "stored-token", token.AccessToken)

	header, err := client.AuthorizationHeader()
	require.NoError(t, err)
	assert.Equal(t, "APP-1:stored-token", header)
}

func TestAuthenticateWithoutCredential(t *testing.T) {
	client, err := New(testClientConfig(t))
	require.NoError(t, err)

	_, err = client.Authenticate(context.Background(), AuthOptions{})
	var authErr *interfaces.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Message, "interactive login")
	assert.Contains(t, authErr.Message, "client_id=APP-1")
}

func TestAuthenticateRedirectURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.Equal(t, "/validate-authcode", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"s": "ok", "code": 200,
			"access_token":  "fresh-token",
			"refresh_token": "fresh-refresh",
		})
	}))
	defer server.Close()

	config := testClientConfig(t)
	config.AuthBaseURL = server.URL

	client, err := New(config)
	require.NoError(t, err)

	token, err := client.Authenticate(context.Background(), AuthOptions{
		RedirectURL: "https://example.com/cb?auth_code=ABC123&state=XYZ",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token.AccessToken)
	assert.Equal(t, "fresh-refresh", token.RefreshToken)

	// A second call is served from the cache, no exchange.
	again, err := client.Authenticate(context.Background(), AuthOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", again.AccessToken)
}

func TestAuthenticateRefreshesExpiredToken(t *testing.T) {
	var gotPIN string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.Equal(t, "/validate-refresh-token", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPIN = body["pin"]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"s": "ok", "code": 200,
			"access_token": "refreshed-token",
		})
	}))
	defer server.Close()

	config := testClientConfig(t)
	config.AuthBaseURL = server.URL

	past := time.Now().Add(-time.Hour)
	require.NoError(t, auth.NewFileStore(config.TokenFile).Save(&auth.Token{
		AccessToken:  "expired-token",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresAt:    &past,
	}))

	client, err := New(config)
	require.NoError(t, err)

	token, err := client.Authenticate(context.Background(), AuthOptions{PIN: "4321"})
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", token.AccessToken)
	assert.Equal(t, "4321", gotPIN)
	// The venue returned no new refresh token, so the old one is kept.
	assert.Equal(t, "refresh-1", token.RefreshToken)
}

func TestSocketConstructorsRequireToken(t *testing.T) {
	client, err := New(testClientConfig(t))
	require.NoError(t, err)

	_, err = client.OrderSocket()
	assert.ErrorIs(t, err, interfaces.ErrTokenNotFound)
	_, err = client.MarketDataSocket()
	assert.ErrorIs(t, err, interfaces.ErrTokenNotFound)
	_, err = client.DepthSocket()
	assert.ErrorIs(t, err, interfaces.ErrTokenNotFound)
}

func TestSocketConstructorsCarryIdentity(t *testing.T) {
	config := testClientConfig(t)
	future := time.Now().Add(time.Hour)
	require.NoError(t, auth.NewFileStore(config.TokenFile).Save(&auth.Token{
		AccessToken: "tok",
		TokenType:   "bearer",
		ExpiresAt:   &future,
	}))

	client, err := New(config)
	require.NoError(t, err)

	sock, err := client.OrderSocket()
	require.NoError(t, err)
	require.NotNil(t, sock)
	assert.False(t, sock.IsConnected())
}

func TestSessionURL(t *testing.T) {
	client, err := New(testClientConfig(t))
	require.NoError(t, err)

	url := client.SessionURL()
	assert.Contains(t, url, "client_id=APP-1")
	assert.Contains(t, url, "response_type=code")
	assert.Contains(t, url, "state=")
}

func TestLogout(t *testing.T) {
	config := testClientConfig(t)
	future := time.Now().Add(time.Hour)
	require.NoError(t, auth.NewFileStore(config.TokenFile).Save(&auth.Token{
		AccessToken: "tok",
		ExpiresAt:   &future,
	}))

	client, err := New(config)
	require.NoError(t, err)

	_, err = client.Authenticate(context.Background(), AuthOptions{})
	require.NoError(t, err)

	require.NoError(t, client.Logout())
	_, err = client.Authenticate(context.Background(), AuthOptions{})
	require.Error(t, err)
}

func TestCloseFlushesLimiter(t *testing.T) {
	config := testClientConfig(t)
	client, err := New(config)
	require.NoError(t, err)

	client.Limiter().Record()
	require.NoError(t, client.Close())

	assert.FileExists(t, config.RateLimitFile)
}
