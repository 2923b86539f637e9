package interpersonal

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/indieauth"
	"github.com/eringen/interpersonal/views"
)

func (a *App) handleLoginPage(c echo.Context) error {
	return Render(c, views.Login(c.QueryParam("next"), "", CsrfToken(c)))
}

func (a *App) handleLogin(c echo.Context) error {
	next := c.QueryParam("next")
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		a.Logger.Warn("login rate limited", "ip", ip)
		return RenderStatus(c, http.StatusTooManyRequests,
			views.Login(next, "Too many login attempts. Try again later.", CsrfToken(c)))
	}
	pass := c.FormValue("password")
	if pass == "" || subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.Password)) != 1 {
		a.loginLimiter.Record(ip)
		a.Logger.Warn("failed owner login", "ip", ip)
		return RenderStatus(c, http.StatusUnauthorized, views.Login(next, "Incorrect password", CsrfToken(c)))
	}
	if err := a.setOwnerSession(c); err != nil {
		return err
	}
	a.Logger.Info("owner logged in", "ip", ip)
	return c.Redirect(http.StatusSeeOther, localRedirect(next, "/indieauth"))
}

func (a *App) handleLogout(c echo.Context) error {
	if err := a.clearOwnerSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/indieauth")
}

// handleAuthorize shows the consent page for a client's authorization
// request.
func (a *App) handleAuthorize(c echo.Context) error {
	q := c.QueryParams()
	clientID, redirectURI, state := q.Get("client_id"), q.Get("redirect_uri"), q.Get("state")
	if clientID == "" || redirectURI == "" || state == "" {
		return a.renderError(c, http.StatusBadRequest, "Missing at least one of client_id, redirect_uri, state")
	}
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		return a.renderError(c, http.StatusBadRequest, "Parameter response_type must be 'code'")
	}
	if err := indieauth.ValidateClient(clientID, redirectURI); err != nil {
		return a.renderAppError(c, err)
	}

	scope := q.Get("scope")
	if scope == "" {
		scope = "profile"
	}
	requested := make(map[string]bool)
	for _, s := range strings.Fields(scope) {
		requested[s] = true
	}
	opts := make([]views.ScopeOption, 0, len(indieauth.Scopes))
	for _, s := range indieauth.Scopes {
		opts = append(opts, views.ScopeOption{Name: s.Name, Description: s.Description, Requested: requested[s.Name]})
	}

	me := q.Get("me")
	if me == "" {
		me = a.Authority.Me()
	}
	return Render(c, views.Authorize(views.AuthorizeRequest{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		State:               state,
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Me:                  me,
		Scopes:              opts,
		CSRF:                CsrfToken(c),
	}))
}

// handleGrant records the owner's approval and sends the browser back to
// the client with a fresh authorization code.
func (a *App) handleGrant(c echo.Context) error {
	if site := c.Request().Header.Get("Sec-Fetch-Site"); site != "" && site != "same-origin" {
		return a.renderError(c, http.StatusUnauthorized, "Request must be same origin")
	}

	var scopes []string
	for _, s := range indieauth.Scopes {
		if c.FormValue("scope:"+s.Name) == "on" {
			scopes = append(scopes, s.Name)
		}
	}
	state := c.FormValue("state")
	code, err := a.Authority.Grant(c.Request().Context(), indieauth.GrantRequest{
		ClientID:            c.FormValue("client_id"),
		RedirectURI:         c.FormValue("redirect_uri"),
		State:               state,
		CodeChallenge:       c.FormValue("code_challenge"),
		CodeChallengeMethod: c.FormValue("code_challenge_method"),
		Scopes:              scopes,
		Host:                c.Request().Host,
	})
	if err != nil {
		return a.renderAppError(c, err)
	}
	a.Metrics.codesGranted.Inc()

	dest, err := appendQuery(code.RedirectURI, url.Values{"code": {code.Code}, "state": {state}})
	if err != nil {
		return a.renderError(c, http.StatusBadRequest, "Invalid redirect_uri")
	}
	a.Logger.Info("authorization granted", "client_id", code.ClientID, "scopes", code.Scopes)
	return c.Redirect(http.StatusFound, dest)
}

// renderAppError renders client errors as a page and passes the rest on
// to the error handler.
func (a *App) renderAppError(c echo.Context, err error) error {
	ae, ok := apperr.As(err)
	if !ok {
		return err
	}
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		return err
	}
	return a.renderError(c, status, ae.Description)
}
