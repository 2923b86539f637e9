// Package indieauth issues and checks the credentials that let third-party
// clients act on the owner's behalf: one-time authorization codes with
// optional PKCE, and the bearer tokens they are exchanged for.
package indieauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/eringen/interpersonal/apperr"
)

// CodeLifetime is how long an authorization code may be redeemed after it
// was granted.
const CodeLifetime = 5 * time.Minute

// Sentinel causes carried by the errors returned from Redeem and
// VerifyBearer. Match them with errors.Is.
var (
	ErrInvalidCode      = errors.New("unknown authorization code")
	ErrInvalidGrant     = errors.New("authorization code not redeemable")
	ErrMissingVerifier  = errors.New("missing code verifier")
	ErrVerifierMismatch = errors.New("code verifier mismatch")
	ErrInvalidToken     = errors.New("invalid bearer token")
)

// Authority is the token authority.
type Authority struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
	me    string
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Authority) {
		a.log = log
	}
}

// WithOwner sets the owner's profile URL returned as "me".
func WithOwner(me string) Option {
	return func(a *Authority) {
		a.me = me
	}
}

// New creates an Authority backed by store.
func New(store Store, opts ...Option) *Authority {
	a := &Authority{
		store: store,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Me returns the owner's profile URL.
func (a *Authority) Me() string {
	return a.me
}

// GrantRequest is the owner's approval of a client.
type GrantRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
	Host                string
}

// Grant records a new authorization code for an approved client.
func (a *Authority) Grant(ctx context.Context, req GrantRequest) (*AuthorizationCode, error) {
	if req.ClientID == "" || req.RedirectURI == "" || req.State == "" {
		return nil, apperr.InvalidRequest("Must pass all of client_id, redirect_uri, state")
	}
	if err := ValidateClient(req.ClientID, req.RedirectURI); err != nil {
		return nil, err
	}
	switch req.CodeChallengeMethod {
	case "":
		if req.CodeChallenge != "" {
			return nil, apperr.InvalidRequest("code_challenge requires code_challenge_method")
		}
	case ChallengeMethodS256:
		if req.CodeChallenge == "" {
			return nil, apperr.InvalidRequest("Missing code_challenge for S256")
		}
	default:
		return nil, apperr.InvalidRequest(fmt.Sprintf("Unsupported code_challenge_method '%s'", req.CodeChallengeMethod))
	}

	code, err := randomToken()
	if err != nil {
		return nil, err
	}
	ac := &AuthorizationCode{
		Code:                code,
		Time:                a.now().UTC(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scopes:              FilterScopes(req.Scopes),
		Host:                req.Host,
	}
	if err := a.store.InsertAuthorizationCode(ctx, ac); err != nil {
		return nil, fmt.Errorf("insert authorization code: %w", err)
	}
	a.log.Debug("granted authorization code", "client_id", ac.ClientID, "scopes", ac.Scopes)
	return ac, nil
}

// RedeemRequest is a client's attempt to use an authorization code.
type RedeemRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	Host         string
	CodeVerifier string
}

// Redeem exchanges an authorization code for a bearer token. A code is
// consumed at most once even under concurrent redemption.
func (a *Authority) Redeem(ctx context.Context, req RedeemRequest) (*BearerToken, error) {
	ac, err := a.check(ctx, req)
	if err != nil {
		return nil, err
	}
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	bt := &BearerToken{
		Token:             token,
		Time:              a.now().UTC(),
		AuthorizationCode: ac.Code,
		ClientID:          ac.ClientID,
		Scopes:            ac.Scopes,
		Host:              req.Host,
	}
	ok, err := a.store.ConsumeAuthorizationCode(ctx, ac.Code, bt)
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if !ok {
		a.log.Debug("authorization code lost a redemption race", "client_id", ac.ClientID)
		return nil, invalidGrant()
	}
	return bt, nil
}

// Authenticate redeems an authorization code without minting a token, for
// clients that only need to learn who the owner is.
func (a *Authority) Authenticate(ctx context.Context, req RedeemRequest) (*AuthorizationCode, error) {
	ac, err := a.check(ctx, req)
	if err != nil {
		return nil, err
	}
	ok, err := a.store.ConsumeAuthorizationCode(ctx, ac.Code, nil)
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if !ok {
		return nil, invalidGrant()
	}
	ac.Used = true
	return ac, nil
}

func (a *Authority) check(ctx context.Context, req RedeemRequest) (*AuthorizationCode, error) {
	ac, err := a.store.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	if ac == nil {
		return nil, withCause(apperr.InvalidGrant("Invalid authorization code"), ErrInvalidCode)
	}

	var reason string
	switch {
	case a.now().Sub(ac.Time) > CodeLifetime:
		reason = "expired"
	case ac.ClientID != req.ClientID:
		reason = "client_id mismatch"
	case ac.RedirectURI != req.RedirectURI:
		reason = "redirect_uri mismatch"
	case ac.Used:
		reason = "already used"
	case ac.Host != req.Host:
		reason = "host mismatch"
	}
	if reason != "" {
		a.log.Debug("refusing authorization code", "reason", reason, "client_id", req.ClientID)
		return nil, invalidGrant()
	}

	if ac.CodeChallengeMethod == ChallengeMethodS256 {
		if req.CodeVerifier == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "invalid_request", "Missing code_verifier for S256", ErrMissingVerifier)
		}
		if !VerifyChallenge(ac.CodeChallenge, req.CodeVerifier) {
			return nil, withCause(apperr.InvalidGrant("code_verifier does not match code_challenge"), ErrVerifierMismatch)
		}
	}
	return ac, nil
}

func invalidGrant() error {
	return withCause(apperr.InvalidGrant("Authorization code is not valid for this request"), ErrInvalidGrant)
}

func withCause(e *apperr.Error, cause error) *apperr.Error {
	e.Cause = cause
	return e
}

// VerifyBearer checks a presented bearer token.
func (a *Authority) VerifyBearer(ctx context.Context, token string) (*Verified, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "unauthorized", "No token was provided", ErrInvalidToken)
	}
	bt, err := a.store.GetBearerToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get bearer token: %w", err)
	}
	if bt == nil || bt.Revoked {
		return nil, apperr.New(apperr.KindUnauthorized, "unauthorized", "Invalid bearer token", ErrInvalidToken)
	}
	return &Verified{Me: a.me, ClientID: bt.ClientID, Scopes: bt.Scopes}, nil
}

// Revoke revokes token when it was issued for host. Unknown tokens and
// tokens of other hosts are left alone.
func (a *Authority) Revoke(ctx context.Context, token, host string) error {
	revoked, err := a.store.RevokeBearerToken(ctx, token, host)
	if err != nil {
		return fmt.Errorf("revoke bearer token: %w", err)
	}
	a.log.Debug("revoke bearer token", "revoked", revoked)
	return nil
}

// ValidateClient checks that clientID and redirectURI are absolute http(s)
// URIs with the same scheme and host.
func ValidateClient(clientID, redirectURI string) error {
	c, err := url.Parse(clientID)
	if err != nil || !isHTTP(c) {
		return apperr.InvalidRequest(fmt.Sprintf("client_id parameter '%s' is not a valid URI", clientID))
	}
	r, err := url.Parse(redirectURI)
	if err != nil || !isHTTP(r) {
		return apperr.InvalidRequest(fmt.Sprintf("redirect_uri parameter '%s' is not a valid URI", redirectURI))
	}
	if !strings.EqualFold(c.Scheme, r.Scheme) || !strings.EqualFold(c.Host, r.Host) {
		return apperr.InvalidRequest("redirect_uri must be on the same host as client_id")
	}
	return nil
}

func isHTTP(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// VerifyChallenge checks verifier against an S256 challenge in constant
// time. Padding on the challenge is optional.
func VerifyChallenge(challenge, verifier string) bool {
	want := strings.TrimRight(challenge, "=")
	got := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
