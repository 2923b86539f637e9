package interpersonal

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/backend"
	"github.com/eringen/interpersonal/indieauth"
	"github.com/eringen/interpersonal/media"
	"github.com/eringen/interpersonal/post"
	"github.com/eringen/interpersonal/views"
)

// supportedActions are the Micropub actions this server carries out.
var supportedActions = map[string]bool{"create": true}

// inlineMediaFields are multipart file fields accepted on create.
var inlineMediaFields = []string{"photo", "video", "audio"}

func (a *App) handleMicropubIndex(c echo.Context) error {
	rows := make([]views.Blog, 0, len(a.blogOrder))
	for _, name := range a.blogOrder {
		b := a.blogs[name]
		mode := "dedicated: " + b.Site.MediaPrefix
		if b.Site.Staged() {
			mode = "staged: " + b.Site.Stager.Root()
		}
		var typ string
		for _, bc := range a.Config.Blogs {
			if bc.Name == name {
				typ = bc.Type
			}
		}
		rows = append(rows, views.Blog{Name: name, URI: b.Site.BaseURI, Type: typ, MediaMode: mode})
	}
	return Render(c, views.MicropubIndex(a.Config.URI, rows))
}

// handleGitHubAuthorized is where GitHub sends the owner after installing
// the App.
func (a *App) handleGitHubAuthorized(c echo.Context) error {
	installationID := c.QueryParam("installation_id")
	setupAction := c.QueryParam("setup_action")
	a.Logger.Info("github app installed", "installation_id", installationID, "setup_action", setupAction)
	return Render(c, views.GitHubAuthorized(installationID, setupAction))
}

// handleMicropubQuery answers q=config, q=source and q=syndicate-to.
func (a *App) handleMicropubQuery(c echo.Context) error {
	blog, err := a.Blog(c.Param("blog"))
	if err != nil {
		return err
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return apperr.Unauthorized("Missing Authorization header")
	}
	if _, err := a.verifyBearer(c.Request().Context(), bearerToken(header)); err != nil {
		return err
	}

	switch q := c.QueryParam("q"); q {
	case "config":
		return c.JSON(http.StatusOK, map[string]any{
			"media-endpoint": a.mediaEndpoint(blog),
			"syndicate-to":   []any{},
		})
	case "syndicate-to":
		return c.JSON(http.StatusOK, map[string]any{"syndicate-to": []any{}})
	case "source":
		uri := c.QueryParam("url")
		if uri == "" {
			return apperr.InvalidRequest("Required 'url' parameter missing")
		}
		p, err := blog.GetPost(c.Request().Context(), uri)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, filterProperties(p.Mf2(), c.QueryParams()["properties[]"]))
	default:
		return apperr.InvalidRequest("Valid authorization, but invalid or missing 'q' parameter")
	}
}

func (a *App) mediaEndpoint(blog *backend.Blog) string {
	return a.Config.URI + "micropub/" + url.PathEscape(blog.Name()) + "/media"
}

// filterProperties keeps only the requested properties of an mf2 object.
// With no request the whole object is returned.
func filterProperties(obj map[string]any, want []string) map[string]any {
	if len(want) == 0 {
		return obj
	}
	props, _ := obj["properties"].(map[string]any)
	kept := make(map[string]any, len(want))
	for _, name := range want {
		if v, ok := props[name]; ok {
			kept[name] = v
		}
	}
	return map[string]any{"properties": kept}
}

// handleMicropubCreate creates a post from a JSON, form or multipart body.
func (a *App) handleMicropubCreate(c echo.Context) error {
	blog, err := a.Blog(c.Param("blog"))
	if err != nil {
		return err
	}
	req := c.Request()
	ctx := req.Context()

	raw := req.Header.Get(echo.HeaderContentType)
	ct, _, _ := mime.ParseMediaType(raw)

	var (
		form  url.Values
		files map[string][]*multipart.FileHeader
	)
	switch ct {
	case echo.MIMEApplicationForm:
		if form, err = c.FormParams(); err != nil {
			return apperr.InvalidRequest("Could not parse form body")
		}
	case echo.MIMEMultipartForm:
		req.Body = http.MaxBytesReader(c.Response(), req.Body, maxMultipartBody)
		mf, err := c.MultipartForm()
		if err != nil {
			return apperr.InvalidRequest("Could not parse multipart body")
		}
		form, files = url.Values(mf.Value), mf.File
	}

	token := requestToken(req, form)
	if token == "" {
		return apperr.Unauthorized("Missing Authorization header")
	}
	verified, err := a.verifyBearer(ctx, token)
	if err != nil {
		return err
	}

	var (
		obj    map[string]any
		action string
	)
	switch ct {
	case "":
		return apperr.InvalidRequest("No 'Content-type' header")
	case echo.MIMEApplicationJSON:
		if err := json.NewDecoder(io.LimitReader(req.Body, maxJSONBody)).Decode(&obj); err != nil {
			return apperr.InvalidRequest("Request body is not a JSON object")
		}
		action, _ = obj["action"].(string)
	case echo.MIMEApplicationForm, echo.MIMEMultipartForm:
		action = form.Get("action")
		obj = post.FormToMf2(form)
	default:
		return apperr.InvalidRequest(fmt.Sprintf("Invalid 'Content-type': '%s'", raw))
	}

	action = indieauth.Action(action)
	if err := indieauth.Require(verified, action); err != nil {
		return err
	}
	if !supportedActions[action] {
		return apperr.InvalidRequest(fmt.Sprintf("'%s' action not supported", action))
	}

	if err := a.attachInlineMedia(c, blog, obj, files); err != nil {
		return err
	}

	location, err := blog.AddPostMf2(ctx, obj)
	if err != nil {
		return err
	}
	a.Metrics.postsCreated.WithLabelValues(blog.Name()).Inc()
	a.Logger.Info("post created", "blog", blog.Name(), "location", location, "client_id", verified.ClientID)

	c.Response().Header().Set(echo.HeaderLocation, location)
	return c.NoContent(http.StatusCreated)
}

// attachInlineMedia stores files uploaded with a multipart create and adds
// their URIs to the matching property.
func (a *App) attachInlineMedia(c echo.Context, blog *backend.Blog, obj map[string]any, files map[string][]*multipart.FileHeader) error {
	if len(files) == 0 {
		return nil
	}
	props, ok := obj["properties"].(map[string]any)
	if !ok {
		return apperr.InvalidRequest("Properties must be an object")
	}
	for _, field := range inlineMediaFields {
		headers := append(files[field], files[field+"[]"]...)
		if len(headers) == 0 {
			continue
		}
		uploads := make([]*media.File, 0, len(headers))
		for _, fh := range headers {
			f, err := media.FromMultipart(fh)
			if err != nil {
				return apperr.InvalidRequest(fmt.Sprintf("Could not read %s upload: %v", field, err))
			}
			uploads = append(uploads, f)
		}
		items, err := blog.AddMedia(c.Request().Context(), uploads)
		if err != nil {
			return err
		}
		list, _ := props[field].([]any)
		for _, item := range items {
			list = append(list, item.URI)
		}
		props[field] = list
	}
	return nil
}

// requestToken returns the bearer token from the Authorization header or,
// failing that, the auth_token or access_token form field.
func requestToken(req *http.Request, form url.Values) string {
	if token := bearerToken(req.Header.Get(echo.HeaderAuthorization)); token != "" {
		return token
	}
	if token := form.Get("auth_token"); token != "" {
		return token
	}
	return form.Get("access_token")
}
