package interpersonal

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/views"
)

// errorBody is the OAuth 2.0 / Micropub JSON error shape.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)

	if ae, ok := apperr.As(err); ok {
		status := apperr.Status(err)
		if status >= http.StatusInternalServerError {
			// Backend and configuration details stay in the log.
			a.Logger.Error("request failed", "kind", ae.Kind, "error", err, "request_id", requestID)
			_ = c.JSON(status, errorBody{Error: "server_error"})
			return
		}
		a.Logger.Info("request rejected", "status", status, "error", ae.Code, "description", ae.Description, "request_id", requestID)
		_ = c.JSON(status, errorBody{Error: ae.Code, Description: ae.Description})
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			a.Logger.Error("request failed", "error", err, "request_id", requestID)
		}
		a.Echo.DefaultHTTPErrorHandler(err, c)
		return
	}

	a.Logger.Error("unhandled error", "error", err, "request_id", requestID)
	_ = c.JSON(http.StatusInternalServerError, errorBody{Error: "server_error"})
}

// renderError shows an HTML error page on the owner facing routes.
func (a *App) renderError(c echo.Context, code int, msg string) error {
	a.Logger.Info("owner page error", "status", code, "message", msg, "path", c.Request().URL.Path)
	return RenderStatus(c, code, views.ErrorPage(code, msg))
}
