package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/eringen/interpersonal/apperr"
)

const installationsPerPage = 100

type installation struct {
	ID      int64 `json:"id"`
	Account struct {
		Login string `json:"login"`
	} `json:"account"`
}

type accessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Installations caches installation access tokens per repository owner.
// Concurrent misses for the same owner share a single refresh.
type Installations struct {
	app *Client
	now func() time.Time
	log *slog.Logger

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
	group  singleflight.Group
}

func newInstallations(app *Client, now func() time.Time, log *slog.Logger) *Installations {
	return &Installations{
		app:    app,
		now:    now,
		log:    log,
		tokens: make(map[string]*oauth2.Token),
	}
}

// Token returns a valid installation token for owner.
func (i *Installations) Token(ctx context.Context, owner string) (*oauth2.Token, error) {
	key := strings.ToLower(owner)
	if tok := i.cached(key); tok != nil {
		return tok, nil
	}

	v, err, _ := i.group.Do(key, func() (any, error) {
		// A flight that finished just before this one may have filled the cache.
		if tok := i.cached(key); tok != nil {
			return tok, nil
		}
		tok, err := i.refresh(ctx, owner)
		if err != nil {
			return nil, err
		}
		i.mu.Lock()
		i.tokens[key] = tok
		i.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return nil, credentialError(owner, err)
	}
	return v.(*oauth2.Token), nil
}

// Invalidate drops the cached token for owner.
func (i *Installations) Invalidate(owner string) {
	i.mu.Lock()
	delete(i.tokens, strings.ToLower(owner))
	i.mu.Unlock()
}

// TokenSource adapts the cache to an oauth2.TokenSource for one owner. A
// refresh runs under ctx.
func (i *Installations) TokenSource(ctx context.Context, owner string) oauth2.TokenSource {
	return ownerTokenSource{ctx: ctx, inst: i, owner: owner}
}

func (i *Installations) cached(key string) *oauth2.Token {
	i.mu.Lock()
	defer i.mu.Unlock()
	tok := i.tokens[key]
	if tok == nil || !i.now().Before(tok.Expiry) {
		return nil
	}
	return tok
}

func (i *Installations) refresh(ctx context.Context, owner string) (*oauth2.Token, error) {
	id, err := i.installationID(ctx, owner)
	if err != nil {
		return nil, err
	}
	var at accessToken
	path := fmt.Sprintf("/app/installations/%d/access_tokens", id)
	if err := i.app.Do(ctx, http.MethodPost, path, nil, &at); err != nil {
		return nil, err
	}
	if at.Token == "" {
		return nil, apperr.BackendFault("GitHub returned an empty installation token", nil)
	}
	i.log.Info("github installation token issued", "owner", owner, "installation_id", id, "expires_at", at.ExpiresAt)
	return &oauth2.Token{AccessToken: at.Token, TokenType: "Bearer", Expiry: at.ExpiresAt}, nil
}

func (i *Installations) installationID(ctx context.Context, owner string) (int64, error) {
	var matches []int64
	for page := 1; ; page++ {
		var batch []installation
		path := fmt.Sprintf("/app/installations?per_page=%d&page=%d", installationsPerPage, page)
		if err := i.app.Do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return 0, err
		}
		for _, inst := range batch {
			if strings.EqualFold(inst.Account.Login, owner) {
				matches = append(matches, inst.ID)
			}
		}
		if len(batch) < installationsPerPage {
			break
		}
	}

	switch len(matches) {
	case 0:
		return 0, apperr.Configurationf("GitHub App is not installed for owner %s", owner)
	case 1:
		return matches[0], nil
	default:
		return 0, apperr.Configurationf("found %d GitHub App installations for owner %s, expected exactly one", len(matches), owner)
	}
}

// credentialError reports a failed token lookup. Configuration problems pass
// through; anything else, a 404 from the App endpoints included, is a
// backend fault and never reads as a missing file.
func credentialError(owner string, err error) error {
	if apperr.IsConfiguration(err) || apperr.IsKind(err, apperr.KindBackendFault) {
		return err
	}
	return apperr.BackendFault(fmt.Sprintf("Could not obtain a GitHub installation token for %s", owner), err)
}

type ownerTokenSource struct {
	ctx   context.Context
	inst  *Installations
	owner string
}

func (s ownerTokenSource) Token() (*oauth2.Token, error) {
	return s.inst.Token(s.ctx, s.owner)
}
