package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/veiloq/broker-connector/pkg/interfaces"
	"github.com/veiloq/broker-connector/pkg/logging"
)

// Token endpoint paths on the auth base URL.
const (
	authorizePath    = "/generate-authcode"
	validateCodePath = "/validate-authcode"
	refreshPath      = "/validate-refresh-token"

	// Venue tokens are scoped to the trading day; when the provider does
	// not declare an expiry we stamp this one.
	tokenLifetime = 24 * time.Hour

	exchangeTimeout = 30 * time.Second
)

// Flow drives the three-step OAuth exchange. It is safe for concurrent
// use; the only state it keeps is the pending CSRF state token.
type Flow struct {
	creds  Credentials
	store  Store
	http   *resty.Client
	logger logging.Logger

	stateMu      sync.Mutex
	pendingState string
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithStore makes every successful exchange persist the token.
func WithStore(store Store) FlowOption {
	return func(f *Flow) { f.store = store }
}

// WithLogger overrides the flow's logger.
func WithLogger(logger logging.Logger) FlowOption {
	return func(f *Flow) { f.logger = logger }
}

// NewFlow creates an OAuth flow for the given app credentials.
func NewFlow(creds Credentials, opts ...FlowOption) (*Flow, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	f := &Flow{
		creds:  creds,
		logger: logging.NewLogger(),
		http: resty.New().
			SetBaseURL(creds.ResolvedAuthBaseURL()).
			SetTimeout(exchangeTimeout),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// AuthURL builds the user-facing authorization URL. An empty state gets
// a cryptographically random URL-safe token, which is remembered as
// pending for VerifyState.
func (f *Flow) AuthURL(state string) string {
	if state == "" {
		state = uuid.NewString()
	}
	f.stateMu.Lock()
	f.pendingState = state
	f.stateMu.Unlock()

	q := url.Values{}
	q.Set("client_id", f.creds.ClientID)
	q.Set("redirect_uri", f.creds.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	return f.creds.ResolvedAuthBaseURL() + authorizePath + "?" + q.Encode()
}

// VerifyState compares state against the pending value generated by
// AuthURL. When no pending state was tracked the check passes
// (non-strict mode), so callers who supply their own state can still
// validate it out of band.
func (f *Flow) VerifyState(state string) bool {
	f.stateMu.Lock()
	pending := f.pendingState
	f.stateMu.Unlock()

	if pending == "" {
		return true
	}
	return pending == state
}

// ParseRedirect extracts the authorization code and state from the
// callback URL the venue redirected the user to. Accepts both the
// auth_code and code parameter names. A redirect carrying an error
// parameter, or neither code parameter, yields an *interfaces.AuthError.
func ParseRedirect(raw string) (code, state string, err error) {
	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", &interfaces.AuthError{Message: fmt.Sprintf("invalid redirect url: %v", parseErr)}
	}
	q := u.Query()

	code = q.Get("auth_code")
	if code == "" {
		code = q.Get("code")
	}
	if code == "" {
		msg := "redirect url contains no authorization code"
		if e := q.Get("error"); e != "" {
			msg = fmt.Sprintf("authorization failed: %s", e)
			if desc := q.Get("error_description"); desc != "" {
				msg += ": " + desc
			}
		}
		return "", "", &interfaces.AuthError{Message: msg}
	}
	return code, q.Get("state"), nil
}

// tokenResponse is the envelope both token endpoints answer with.
type tokenResponse struct {
	S            string `json:"s"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ValidateAuthCode exchanges an authorization code for a token. The
// request is signed with the SHA-256 app id hash rather than the raw
// secret. On success the token is stamped with a trading-day expiry and
// persisted when a store is configured.
func (f *Flow) ValidateAuthCode(ctx context.Context, code string) (*Token, error) {
	body := map[string]string{
		"grant_type": "authorization_code",
		"appIdHash":  f.creds.AppIDHash(),
		"code":       code,
	}
	resp, err := f.exchange(ctx, validateCodePath, body)
	if err != nil {
		return nil, err
	}
	return f.mintToken(resp, resp.RefreshToken)
}

// Refresh exchanges a refresh token for a fresh access token. The venue
// demands the user's PIN as a second factor. The original refresh token
// is carried into the new Token unless the provider returned a new one.
func (f *Flow) Refresh(ctx context.Context, refreshToken, pin string) (*Token, error) {
	if refreshToken == "" {
		return nil, &interfaces.AuthError{Message: "refresh token is required"}
	}
	if pin == "" {
		return nil, &interfaces.AuthError{Message: "pin is required to refresh"}
	}
	body := map[string]string{
		"grant_type":    "refresh_token",
		"appIdHash":     f.creds.AppIDHash(),
		"refresh_token": refreshToken,
		"pin":           pin,
	}
	resp, err := f.exchange(ctx, refreshPath, body)
	if err != nil {
		return nil, err
	}

	newRefresh := resp.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return f.mintToken(resp, newRefresh)
}

func (f *Flow) exchange(ctx context.Context, path string, body map[string]string) (*tokenResponse, error) {
	var result tokenResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post(path)
	if err != nil {
		return nil, &interfaces.NetworkError{Op: "token exchange", Err: err}
	}

	if resp.IsError() || result.S != "ok" {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned status %s", resp.Status())
		}
		f.logger.Warn("token exchange rejected",
			logging.String("client_id", f.creds.ClientID),
			logging.Int("code", result.Code))
		return nil, &interfaces.AuthError{Code: result.Code, Message: msg}
	}
	if result.AccessToken == "" {
		return nil, &interfaces.AuthError{Message: "token endpoint returned no access token"}
	}
	return &result, nil
}

func (f *Flow) mintToken(resp *tokenResponse, refreshToken string) (*Token, error) {
	now := time.Now()
	expires := now.Add(tokenLifetime)
	token := &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		CreatedAt:    now,
		ExpiresAt:    &expires,
	}
	if f.store != nil {
		if err := f.store.Save(token); err != nil {
			return nil, fmt.Errorf("persisting token: %w", err)
		}
	}
	f.logger.Info("token issued", logging.String("client_id", f.creds.ClientID))
	return token, nil
}
