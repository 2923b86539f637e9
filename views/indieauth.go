package views

import (
	"net/url"

	"github.com/a-h/templ"
)

// ScopeOption is one checkbox on the consent page.
type ScopeOption struct {
	Name        string
	Description string
	Requested   bool
}

// AuthorizeRequest carries the client's authorization request into the
// consent form, which posts it back unchanged to the grant endpoint.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Me                  string
	Scopes              []ScopeOption
	CSRF                string
}

// IndieAuthIndex is the IndieAuth landing page.
func IndieAuthIndex(loggedIn bool) templ.Component {
	return page("IndieAuth", func(w *writer) {
		if loggedIn {
			w.raw("<p>You are logged in. ")
			w.link("/indieauth/logout", "Log out")
			w.raw("</p>\n")
		} else {
			w.raw("<p>")
			w.link("/indieauth/login", "Log in")
			w.raw(" to approve IndieAuth clients.</p>\n")
		}
		w.raw("<dl class=\"params\">\n<dt>Authorization endpoint</dt><dd>/indieauth/authorize</dd>\n")
		w.raw("<dt>Token endpoint</dt><dd>/indieauth/bearer</dd>\n</dl>\n")
	})
}

// Login is the owner login form.
func Login(next, message, csrf string) templ.Component {
	return page("Log in", func(w *writer) {
		if message != "" {
			w.raw("<p class=\"error\">")
			w.text(message)
			w.raw("</p>\n")
		}
		w.raw("<form method=\"post\"")
		w.attr("action", "/indieauth/login?next="+url.QueryEscape(next))
		w.raw(">\n")
		w.hidden("_csrf", csrf)
		w.raw("<label>Password <input type=\"password\" name=\"password\" autofocus required></label>\n")
		w.raw("<button type=\"submit\">Log in</button>\n</form>\n")
	})
}

// Authorize is the consent page for an authorization request.
func Authorize(req AuthorizeRequest) templ.Component {
	return page("Authorize", func(w *writer) {
		w.raw("<p>")
		w.text(req.ClientID)
		w.raw(" is asking to act on your behalf")
		if req.Me != "" {
			w.raw(" as ")
			w.text(req.Me)
		}
		w.raw(".</p>\n<dl class=\"params\">\n<dt>Redirect URI</dt><dd>")
		w.text(req.RedirectURI)
		w.raw("</dd>\n")
		if req.CodeChallengeMethod != "" {
			w.raw("<dt>PKCE</dt><dd>")
			w.text(req.CodeChallengeMethod)
			w.raw("</dd>\n")
		}
		w.raw("</dl>\n<form method=\"post\" action=\"/indieauth/grant\">\n")
		w.hidden("_csrf", req.CSRF)
		w.hidden("client_id", req.ClientID)
		w.hidden("redirect_uri", req.RedirectURI)
		w.hidden("state", req.State)
		w.hidden("code_challenge", req.CodeChallenge)
		w.hidden("code_challenge_method", req.CodeChallengeMethod)
		w.raw("<fieldset>\n<legend>Scopes</legend>\n")
		for _, s := range req.Scopes {
			w.raw("<label><input type=\"checkbox\"")
			w.attr("name", "scope:"+s.Name)
			if s.Requested {
				w.raw(" checked")
			}
			w.raw("> <strong>")
			w.text(s.Name)
			w.raw("</strong> <span class=\"muted\">")
			w.text(s.Description)
			w.raw("</span></label>\n")
		}
		w.raw("</fieldset>\n<button type=\"submit\">Approve</button>\n</form>\n")
	})
}
