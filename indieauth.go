package interpersonal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/indieauth"
	"github.com/eringen/interpersonal/views"
)

const maxJSONBody = 1 << 20

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Me          string `json:"me"`
}

type profileResponse struct {
	Me          string `json:"me"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
}

func (a *App) handleIndieAuthIndex(c echo.Context) error {
	return Render(c, views.IndieAuthIndex(a.IsOwner(c)))
}

// handleAuthorizeRedeem lets a client that only needs the owner's identity
// exchange its code for the profile URL.
func (a *App) handleAuthorizeRedeem(c echo.Context) error {
	params, err := requestParams(c)
	if err != nil {
		return err
	}
	if err := requireParams(params, "code", "client_id", "redirect_uri"); err != nil {
		return err
	}
	code, err := a.Authority.Authenticate(c.Request().Context(), indieauth.RedeemRequest{
		Code:         params["code"],
		ClientID:     params["client_id"],
		RedirectURI:  params["redirect_uri"],
		Host:         c.Request().Host,
		CodeVerifier: params["code_verifier"],
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profileResponse{
		Me:          a.Authority.Me(),
		ClientID:    code.ClientID,
		RedirectURI: code.RedirectURI,
	})
}

// handleBearerVerify reports who a presented token belongs to.
func (a *App) handleBearerVerify(c echo.Context) error {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return apperr.Unauthorized("Missing Authorization header")
	}
	v, err := a.verifyBearer(c.Request().Context(), bearerToken(header))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// handleBearer redeems an authorization code for a bearer token, or revokes
// a token when action=revoke.
func (a *App) handleBearer(c echo.Context) error {
	params, err := requestParams(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	switch action := params["action"]; action {
	case "revoke":
		if err := requireParams(params, "token"); err != nil {
			return err
		}
		if err := a.Authority.Revoke(ctx, params["token"], c.Request().Host); err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	case "", "create":
	default:
		return apperr.InvalidRequest(fmt.Sprintf("Invalid action %s", action))
	}

	if err := requireParams(params, "code", "client_id", "redirect_uri"); err != nil {
		return err
	}
	bt, err := a.Authority.Redeem(ctx, indieauth.RedeemRequest{
		Code:         params["code"],
		ClientID:     params["client_id"],
		RedirectURI:  params["redirect_uri"],
		Host:         c.Request().Host,
		CodeVerifier: params["code_verifier"],
	})
	if err != nil {
		return err
	}
	a.Metrics.tokensIssued.Inc()

	me := a.Authority.Me()
	if me == "" {
		me = params["me"]
	}
	a.Logger.Info("bearer token issued", "client_id", bt.ClientID, "scopes", bt.Scopes)
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken: bt.Token,
		TokenType:   "bearer",
		Scope:       strings.Join(bt.Scopes, " "),
		Me:          me,
	})
}

func (a *App) verifyBearer(ctx context.Context, token string) (*indieauth.Verified, error) {
	v, err := a.Authority.VerifyBearer(ctx, token)
	a.Metrics.verified(err == nil)
	return v, err
}

// requestParams reads a form or JSON object body into flat string params.
// Non-string JSON values are ignored.
func requestParams(c echo.Context) (map[string]string, error) {
	req := c.Request()
	ct, _, _ := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	params := make(map[string]string)

	if ct == echo.MIMEApplicationJSON {
		var body map[string]any
		if err := json.NewDecoder(io.LimitReader(req.Body, maxJSONBody)).Decode(&body); err != nil {
			return nil, apperr.InvalidRequest("Request body is not a JSON object")
		}
		for k, v := range body {
			if s, ok := v.(string); ok {
				params[k] = s
			}
		}
		return params, nil
	}

	form, err := c.FormParams()
	if err != nil {
		return nil, apperr.InvalidRequest("Could not parse request body")
	}
	for k := range form {
		params[k] = form.Get(k)
	}
	return params, nil
}

func requireParams(params map[string]string, keys ...string) error {
	for _, k := range keys {
		if params[k] == "" {
			return apperr.InvalidRequest(fmt.Sprintf("Missing required form field '%s'", k))
		}
	}
	return nil
}
