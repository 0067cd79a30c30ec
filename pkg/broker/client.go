package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/veiloq/broker-connector/pkg/auth"
	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
	"github.com/veiloq/broker-connector/pkg/ratelimit"
	"github.com/veiloq/broker-connector/pkg/rest"
	"github.com/veiloq/broker-connector/pkg/streaming"
)

// AuthOptions feeds Authenticate with the optional material for the
// non-interactive paths. PIN unlocks a refresh; RedirectURL completes
// an interactive login.
type AuthOptions struct {
	PIN         string
	RedirectURL string
}

// Client is the integration point external callers use. It owns one
// token manager and one rate limiter; the REST client and every socket
// constructed from it share that identity and budget.
type Client struct {
	config  Config
	creds   auth.Credentials
	logger  logging.Logger
	store   auth.Store
	tokens  *auth.Manager
	flow    *auth.Flow
	limiter *ratelimit.Limiter

	restMu     sync.Mutex
	restClient *rest.Client
}

// New builds a Client from config. No network traffic happens here.
func New(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	logger := config.logger()

	creds := auth.Credentials{
		ClientID:    config.ClientID,
		Secret:      config.Secret,
		RedirectURI: config.RedirectURI,
		APIBaseURL:  config.APIBaseURL,
		AuthBaseURL: config.AuthBaseURL,
	}

	var store auth.Store
	if config.TokenFile != "" {
		store = auth.NewFileStore(config.TokenFile)
	} else {
		store = auth.NewMemoryStore()
	}

	flow, err := auth.NewFlow(creds, auth.WithStore(store), auth.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	rlConfig := ratelimit.DefaultConfig()
	if config.RateLimit != nil {
		rlConfig = *config.RateLimit
	}
	rlConfig.PersistPath = config.RateLimitFile
	limiter, err := ratelimit.NewLimiter(rlConfig, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:  config,
		creds:   creds,
		logger:  logger,
		store:   store,
		tokens:  auth.NewManager(store),
		flow:    flow,
		limiter: limiter,
	}, nil
}

// SessionURL returns the interactive login URL the caller must send a
// user to when no stored credential is usable.
func (c *Client) SessionURL() string {
	return c.flow.AuthURL("")
}

// Authenticate establishes a usable token, trying the cheapest path
// first: a cached or stored token, then a refresh when a PIN and a
// refresh token are available, then a redirect URL from a completed
// interactive login. It never guesses credentials.
func (c *Client) Authenticate(ctx context.Context, opts AuthOptions) (*auth.Token, error) {
	if token, err := c.tokens.Get(false); err == nil {
		return token, nil
	} else if !errors.Is(err, interfaces.ErrTokenNotFound) {
		return nil, err
	}

	if opts.PIN != "" {
		// The manager rejects expired tokens, but an expired token's
		// refresh half is exactly what the refresh path needs.
		stored, err := c.store.Load()
		if err == nil && stored != nil && stored.RefreshToken != "" {
			token, err := c.flow.Refresh(ctx, stored.RefreshToken, opts.PIN)
			if err == nil {
				if err := c.tokens.Set(token); err != nil {
					return nil, err
				}
				c.logger.Info("token refreshed", logging.String("client_id", c.creds.ClientID))
				return token, nil
			}
			c.logger.Warn("token refresh failed", logging.Error(err))
		}
	}

	if opts.RedirectURL != "" {
		code, state, err := auth.ParseRedirect(opts.RedirectURL)
		if err != nil {
			return nil, err
		}
		if !c.flow.VerifyState(state) {
			return nil, &interfaces.AuthError{Message: "state mismatch on redirect URL"}
		}
		token, err := c.flow.ValidateAuthCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if err := c.tokens.Set(token); err != nil {
			return nil, err
		}
		c.logger.Info("authorization code exchanged", logging.String("client_id", c.creds.ClientID))
		return token, nil
	}

	return nil, &interfaces.AuthError{
		Message: fmt.Sprintf("no usable credential; complete the interactive login at %s", c.SessionURL()),
	}
}

// Logout drops the cached and stored token.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}

// AuthorizationHeader implements rest.AuthProvider with the venue's
// "{clientID}:{accessToken}" identity.
func (c *Client) AuthorizationHeader() (string, error) {
	token, err := c.tokens.Get(false)
	if err != nil {
		return "", err
	}
	return token.Identity(c.creds.ClientID), nil
}

// REST returns the shared rate-limited REST client, building it on
// first use.
func (c *Client) REST() *rest.Client {
	c.restMu.Lock()
	defer c.restMu.Unlock()
	if c.restClient == nil {
		c.restClient = rest.NewClient(rest.Config{
			BaseURL: c.creds.ResolvedAPIBaseURL(),
			Logger:  c.logger,
		}, c.limiter, c)
	}
	return c.restClient
}

// Limiter exposes the shared rate limiter, for callers that want
// WaitIfNeeded or the pacing helpers.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// OrderSocket builds an order-event socket with the current token.
// The socket is not connected yet.
func (c *Client) OrderSocket() (*streaming.OrderSocket, error) {
	config, err := c.socketConfig(orderSocketPath)
	if err != nil {
		return nil, err
	}
	return streaming.NewOrderSocket(config), nil
}

// MarketDataSocket builds a market-data socket with the current token.
// The socket is not connected yet.
func (c *Client) MarketDataSocket() (*streaming.MarketDataSocket, error) {
	config, err := c.socketConfig(marketSocketPath)
	if err != nil {
		return nil, err
	}
	return streaming.NewMarketDataSocket(config), nil
}

// DepthSocket builds a tick-by-tick depth socket with the current
// token. The socket is not connected yet.
func (c *Client) DepthSocket() (*streaming.DepthSocket, error) {
	config, err := c.socketConfig(depthSocketPath)
	if err != nil {
		return nil, err
	}
	return streaming.NewDepthSocket(config), nil
}

func (c *Client) socketConfig(path string) (streaming.Config, error) {
	token, err := c.tokens.Get(false)
	if err != nil {
		return streaming.Config{}, err
	}
	return streaming.Config{
		URL:           c.config.wsBaseURL() + path,
		Identity:      token.Identity(c.creds.ClientID),
		AutoReconnect: true,
		Logger:        c.logger,
	}, nil
}

// Close flushes the rate limiter's day counter. Sockets are owned by
// their callers and closed separately.
func (c *Client) Close() error {
	c.limiter.ForcePersist()
	return nil
}
