package interpersonal

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	sessionKeyOwner = "owner"
	csrfCookieName  = "_csrf"

	interpersonalMessage = "Generated by Interpersonal, <https://github.com/mrled/interpersonal>"
	permissionsPolicy    = "sync-xhr=(), accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()"
)

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			a.Logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
				slog.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	}))

	e.Use(middleware.Recover())

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin",
		ContentSecurityPolicy: contentSecurityPolicy(a.Config.CSPRemoteTrustedSources),
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))

	e.Use(headersMiddleware)

	e.Use(session.Middleware(a.newSessionStore()))
}

// contentSecurityPolicy allows remote images and styles only from trusted.
func contentSecurityPolicy(trusted []string) string {
	remote := strings.Join(trusted, " ")
	src := func(base string) string {
		if remote == "" {
			return base
		}
		return base + " " + remote
	}
	return strings.Join([]string{
		"default-src 'none'",
		"script-src 'self'",
		"connect-src 'self'",
		src("img-src 'self'"),
		src("style-src 'self'"),
		"base-uri 'self'",
		"frame-ancestors 'none'",
	}, "; ")
}

func headersMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Permissions-Policy", permissionsPolicy)
		h.Set("X-Interpersonal-Message", interpersonalMessage)

		path := c.Request().URL.Path
		switch {
		case strings.Contains(path, "/staging/"):
			h.Set("Cache-Control", "private, max-age=3600")
		case strings.HasPrefix(path, "/static/"):
			h.Set("Cache-Control", "public, max-age=86400")
		case path == "/metrics":
		default:
			h.Set("Cache-Control", "no-store")
		}
		return next(c)
	}
}

// csrfMiddleware protects the owner's HTML forms. Micropub and token
// endpoints are called by third party clients and authenticate by token.
func (a *App) csrfMiddleware() echo.MiddlewareFunc {
	return middleware.CSRFWithConfig(middleware.CSRFConfig{
		ContextKey:     middleware.DefaultCSRFConfig.ContextKey,
		TokenLookup:    "header:X-CSRF-Token,form:_csrf",
		CookieName:     csrfCookieName,
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
		CookieSecure:   a.Config.Secure(),
		CookieHTTPOnly: true,
		ErrorHandler: func(err error, c echo.Context) error {
			return c.String(http.StatusForbidden, "Forbidden")
		},
	})
}

func (a *App) sessionName() string {
	if a.Config.Secure() {
		return "__Host-session"
	}
	return "session"
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.CookieSecretKey))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   60 * 60 * 12,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.Secure(),
	}
	return store
}

// IsOwner checks if the current session belongs to the logged in owner.
func (a *App) IsOwner(c echo.Context) bool {
	sess, err := session.Get(a.sessionName(), c)
	if err != nil {
		return false
	}
	ok, _ := sess.Values[sessionKeyOwner].(bool)
	return ok
}

// requireOwner sends anonymous visitors to the login page and back.
func (a *App) requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.IsOwner(c) {
			target := "/indieauth/login?next=" + urlQueryEscape(c.Request().URL.RequestURI())
			return c.Redirect(http.StatusSeeOther, target)
		}
		return next(c)
	}
}

func (a *App) setOwnerSession(c echo.Context) error {
	// A stale or undecodable cookie still yields a fresh session to fill.
	sess, err := session.Get(a.sessionName(), c)
	if sess == nil {
		return err
	}
	sess.Values = map[any]any{sessionKeyOwner: true}
	return sess.Save(c.Request(), c.Response())
}

func (a *App) clearOwnerSession(c echo.Context) error {
	sess, err := session.Get(a.sessionName(), c)
	if err != nil {
		return err
	}
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// CsrfToken extracts the CSRF token from the Echo context.
func CsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}
