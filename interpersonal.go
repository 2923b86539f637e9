// Package interpersonal is an IndieAuth token authority and Micropub
// publishing gateway for static sites. It issues and verifies bearer tokens
// for the site owner and turns Micropub requests into posts and media in a
// pluggable blog backend.
package interpersonal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/backend"
	"github.com/eringen/interpersonal/backend/github"
	"github.com/eringen/interpersonal/indieauth"
	"github.com/eringen/interpersonal/views"
)

// App is the central interpersonal application. It wires together the
// store, the token authority, the blogs, handlers and middleware.
type App struct {
	Config    *Config
	Echo      *echo.Echo
	Store     *Store
	Logger    *slog.Logger
	Authority *indieauth.Authority
	Metrics   *Metrics

	blogs     map[string]*backend.Blog
	blogOrder []string

	loginLimiter    *LoginLimiter
	github          *github.Registry
	githubTransport http.RoundTripper
	now             func() time.Time
}

// New creates an App. Nothing is opened until Init.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *App {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	a := &App{
		Config:  cfg,
		Echo:    e,
		Logger:  logger,
		Metrics: newMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init opens the database, builds the blogs and the token authority, and
// registers middleware and routes. Start calls it; tests call it directly
// and drive a.Echo with httptest.
func (a *App) Init(ctx context.Context) error {
	if err := a.Config.Validate(); err != nil {
		return err
	}

	store, err := NewStore(a.Config.Database)
	if err != nil {
		return fmt.Errorf("interpersonal: init store: %w", err)
	}
	a.Store = store

	me, err := a.ownerProfile(ctx)
	if err != nil {
		return fmt.Errorf("interpersonal: owner profile: %w", err)
	}
	a.Authority = indieauth.New(store,
		indieauth.WithClock(a.now),
		indieauth.WithLogger(a.Logger.With("component", "indieauth")),
		indieauth.WithOwner(me),
	)

	a.github = github.NewRegistry(
		github.WithAPIURL(a.Config.GitHubAPIURL),
		github.WithTransport(a.githubTransport),
		github.WithTimeout(a.Config.RequestTimeout),
		github.WithClock(a.now),
		github.WithLogger(a.Logger.With("component", "github")),
	)

	blogs, err := a.buildBlogs()
	if err != nil {
		return err
	}
	a.blogs = blogs
	a.blogOrder = a.blogOrder[:0]
	for _, bc := range a.Config.Blogs {
		a.blogOrder = append(a.blogOrder, bc.Name)
	}

	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()

	a.Logger.Info("interpersonal initialized", "uri", a.Config.URI, "blogs", a.blogOrder, "owner", me)
	return nil
}

// ownerProfile returns the AppSettings override, or owner_profile from the
// config file.
func (a *App) ownerProfile(ctx context.Context) (string, error) {
	v, ok, err := a.Store.GetSetting(ctx, SettingOwnerProfile)
	if err != nil {
		return "", err
	}
	if ok && v != "" {
		return v, nil
	}
	return a.Config.OwnerProfile, nil
}

// Start initializes the app and serves until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	a.Logger.Info("listening", "addr", a.Config.Addr)
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

func (a *App) setupRoutes() {
	e := a.Echo
	csrf := a.csrfMiddleware()

	e.GET("/", handleRoot)
	e.GET("/hello", handleHello)
	e.GET("/metrics", a.Metrics.handler())
	e.GET("/static/*", assetHandler())

	ia := e.Group("/indieauth")
	ia.GET("", a.handleIndieAuthIndex)
	ia.GET("/login", a.handleLoginPage, csrf)
	ia.POST("/login", a.handleLogin, csrf)
	ia.GET("/logout", a.handleLogout)
	ia.GET("/authorize", a.handleAuthorize, a.requireOwner, csrf)
	ia.POST("/authorize", a.handleAuthorizeRedeem)
	ia.POST("/grant", a.handleGrant, a.requireOwner, csrf)
	ia.GET("/bearer", a.handleBearerVerify)
	ia.POST("/bearer", a.handleBearer)

	mp := e.Group("/micropub")
	mp.GET("", a.handleMicropubIndex, a.requireOwner)
	mp.GET("/authorized/github", a.handleGitHubAuthorized)
	mp.GET("/:blog", a.handleMicropubQuery)
	mp.POST("/:blog", a.handleMicropubCreate)
	mp.POST("/:blog/media", a.handleMediaUpload)
	mp.GET("/:blog/staging/:digest/:filename", a.handleStaged)
}

// Blog returns the configured blog called name.
func (a *App) Blog(name string) (*backend.Blog, error) {
	b, ok := a.blogs[name]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("No such blog configured: %s", name))
	}
	return b, nil
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func handleRoot(c echo.Context) error {
	return Render(c, views.Index())
}

func handleHello(c echo.Context) error {
	return c.String(http.StatusOK, "Hello from Interpersonal, the connection between my little site and the indie web")
}
