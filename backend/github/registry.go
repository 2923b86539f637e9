package github

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/eringen/interpersonal/logging"
)

// App is one GitHub App: its JWT minter and its installation token cache.
type App struct {
	ID            string
	JWT           *AppJWT
	Installations *Installations

	key []byte
}

// Registry shares App state between every blog configured with the same
// app id, so blogs in one account reuse one installation token.
type Registry struct {
	apiURL    string
	transport http.RoundTripper
	timeout   time.Duration
	now       func() time.Time
	log       *slog.Logger

	mu   sync.Mutex
	apps map[string]*App
}

// Option configures a Registry.
type Option func(*Registry)

// WithAPIURL points the registry at a GitHub API other than api.github.com.
func WithAPIURL(u string) Option {
	return func(r *Registry) {
		if u != "" {
			r.apiURL = u
		}
	}
}

// WithTransport sets the base round tripper below token injection.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Registry) { r.transport = rt }
}

// WithTimeout bounds each GitHub request.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		apiURL:  DefaultAPIURL,
		timeout: DefaultTimeout,
		now:     time.Now,
		log:     logging.Discard(),
		apps:    make(map[string]*App),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// App returns the shared App for appID, creating it on first use.
func (r *Registry) App(appID string, privateKeyPEM []byte) (*App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if app, ok := r.apps[appID]; ok {
		if !bytes.Equal(app.key, privateKeyPEM) {
			r.log.Warn("github app configured with differing private keys, using the first", "app_id", appID)
		}
		return app, nil
	}

	jwtSource, err := NewAppJWT(appID, privateKeyPEM, r.now)
	if err != nil {
		return nil, err
	}
	log := r.log.With("app_id", appID)
	appClient := newClient(r.apiURL, staticSource(jwtSource), r.transport, r.timeout, log)
	app := &App{
		ID:            appID,
		JWT:           jwtSource,
		Installations: newInstallations(appClient, r.now, log),
		key:           privateKeyPEM,
	}
	r.apps[appID] = app
	return app, nil
}

// RepoClient returns a client authenticated as app's installation for owner.
func (r *Registry) RepoClient(app *App, owner string) *Client {
	c := newClient(r.apiURL, func(ctx context.Context) oauth2.TokenSource {
		return app.Installations.TokenSource(ctx, owner)
	}, r.transport, r.timeout,
		r.log.With("app_id", app.ID, "owner", owner))
	c.onUnauthorized = func() { app.Installations.Invalidate(owner) }
	return c
}
