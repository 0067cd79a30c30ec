// Package auth implements the identity side of the SDK: application
// credentials, bearer tokens and their persistence, and the three-step
// OAuth exchange (authorize URL, redirect parsing, code validation or
// refresh) against the venue's token endpoints.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Default venue endpoints. Overridable per Credentials for testing and
// alternate environments.
const (
	DefaultAPIBaseURL  = "https://api.tradevenue.example/api/v3"
	DefaultAuthBaseURL = "https://api.tradevenue.example/api/v3"
)

// Credentials is the application's identity configuration. It is
// immutable after construction and the secret is never logged.
type Credentials struct {
	// ClientID is the app id issued by the venue.
	ClientID string

	// Secret is the app secret paired with ClientID.
	Secret string

	// RedirectURI is where the venue sends the user after authorization.
	RedirectURI string

	// APIBaseURL is the REST base; AuthBaseURL hosts the token endpoints.
	// Empty values fall back to the venue defaults.
	APIBaseURL  string
	AuthBaseURL string
}

// Validate checks the fields required for any exchange.
func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("app secret is required")
	}
	return nil
}

// AppIDHash returns the hex SHA-256 of "clientID:secret", the signature
// the venue's token endpoints expect in place of the raw secret.
func (c Credentials) AppIDHash() string {
	sum := sha256.Sum256([]byte(c.ClientID + ":" + c.Secret))
	return hex.EncodeToString(sum[:])
}

// ResolvedAPIBaseURL returns APIBaseURL or the venue default.
func (c Credentials) ResolvedAPIBaseURL() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return DefaultAPIBaseURL
}

// ResolvedAuthBaseURL returns AuthBaseURL or the venue default.
func (c Credentials) ResolvedAuthBaseURL() string {
	if c.AuthBaseURL != "" {
		return c.AuthBaseURL
	}
	return DefaultAuthBaseURL
}
