package auth

import "time"

// Token is a bearer credential minted by the OAuth flow. Tokens are
// replaced wholesale on refresh, never edited field by field, so readers
// holding a *Token always see a consistent value.
type Token struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the token's declared expiry has passed.
//
// A nil ExpiresAt means the venue declared no expiry and the token is
// treated as not locally expired. That mirrors the venue SDKs this was
// built against, but it means such a token is never proactively
// refreshed; callers who mint tokens without an expiry should attach a
// conservative one themselves.
func (t *Token) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*t.ExpiresAt)
}

// Identity renders the "{clientID}:{accessToken}" pair every transport
// (REST header and WebSocket connect parameter) authenticates with.
func (t *Token) Identity(clientID string) string {
	return clientID + ":" + t.AccessToken
}
