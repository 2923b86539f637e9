package github

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"

	"github.com/eringen/interpersonal/apperr"
)

const (
	jwtLifetime      = 10 * time.Minute
	jwtBackdate      = 60 * time.Second
	jwtRefreshMargin = 15 * time.Second
)

// AppJWT mints the short lived RS256 JWT that authenticates as the GitHub
// App itself. A token is reused until it is within jwtRefreshMargin of its
// expiry.
type AppJWT struct {
	appID  string
	signer jose.Signer
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

var _ oauth2.TokenSource = (*AppJWT)(nil)

// NewAppJWT parses a PEM encoded RSA key (PKCS#1 or PKCS#8).
func NewAppJWT(appID string, privateKeyPEM []byte, now func() time.Time) (*AppJWT, error) {
	key, err := parseRSAKey(privateKeyPEM)
	if err != nil {
		return nil, apperr.Configurationf("github app %s: %v", appID, err)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &AppJWT{appID: appID, signer: signer, now: now}, nil
}

// Token returns the cached JWT or mints a new one.
func (j *AppJWT) Token() (*oauth2.Token, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	if j.token != "" && now.Before(j.expiry.Add(-jwtRefreshMargin)) {
		return &oauth2.Token{AccessToken: j.token, TokenType: "Bearer", Expiry: j.expiry}, nil
	}

	iat := now.Add(-jwtBackdate)
	exp := iat.Add(jwtLifetime)
	claims := jwt.Claims{
		Issuer:   j.appID,
		IssuedAt: jwt.NewNumericDate(iat),
		Expiry:   jwt.NewNumericDate(exp),
	}
	signed, err := jwt.Signed(j.signer).Claims(claims).Serialize()
	if err != nil {
		return nil, fmt.Errorf("sign app jwt: %w", err)
	}
	j.token, j.expiry = signed, exp
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: exp}, nil
}

func parseRSAKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key is not PEM encoded")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
