package indieauth

import (
	"context"
	"time"
)

// ChallengeMethodS256 is the only supported PKCE method.
const ChallengeMethodS256 = "S256"

// AuthorizationCode is a one-time code issued after the owner approves a
// client. It is redeemable once, within CodeLifetime, by the same client
// and redirect URI on the same host.
type AuthorizationCode struct {
	Code                string
	Time                time.Time
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	Host                string
	Used                bool
}

// BearerToken is an access token minted from an authorization code.
type BearerToken struct {
	Token             string
	Time              time.Time
	AuthorizationCode string
	ClientID          string
	Scopes            []string
	Host              string
	Revoked           bool
}

// Verified is the result of checking a bearer token.
type Verified struct {
	Me       string   `json:"me"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

// HasScope reports whether the token was granted scope.
func (v *Verified) HasScope(scope string) bool {
	for _, s := range v.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Store persists codes and tokens. Lookups return nil, nil when the row does
// not exist.
type Store interface {
	InsertAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode marks code used only if it is currently unused
	// and, in the same transaction, inserts token when it is non-nil. It
	// reports false when the code was already used.
	ConsumeAuthorizationCode(ctx context.Context, code string, token *BearerToken) (bool, error)

	GetBearerToken(ctx context.Context, token string) (*BearerToken, error)

	// RevokeBearerToken revokes token if it was issued for host.
	RevokeBearerToken(ctx context.Context, token, host string) (bool, error)
}
