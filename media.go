package interpersonal

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/indieauth"
	"github.com/eringen/interpersonal/media"
)

// maxMultipartBody leaves room for form fields next to one full size file.
const maxMultipartBody = media.MaxUploadSize + 1<<20

// handleMediaUpload is the Micropub media endpoint. It takes exactly one
// file in the "file" part.
func (a *App) handleMediaUpload(c echo.Context) error {
	blog, err := a.Blog(c.Param("blog"))
	if err != nil {
		return err
	}
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxMultipartBody)

	mf, err := c.MultipartForm()
	if err != nil {
		return apperr.InvalidRequest("Media uploads must be multipart/form-data")
	}
	token := requestToken(req, url.Values(mf.Value))
	if token == "" {
		return apperr.Unauthorized("Missing Authorization header")
	}
	verified, err := a.verifyBearer(req.Context(), token)
	if err != nil {
		return err
	}
	if err := indieauth.Require(verified, "media"); err != nil {
		return err
	}

	parts := mf.File["file"]
	if len(parts) != 1 {
		return apperr.InvalidRequest("Exactly one file must be uploaded in the 'file' part")
	}
	f, err := media.FromMultipart(parts[0])
	if err != nil {
		return apperr.InvalidRequest(err.Error())
	}
	if dim, ok := media.Probe(f); ok {
		a.Logger.Debug("image upload", "blog", blog.Name(), "format", dim.Format, "width", dim.Width, "height", dim.Height)
	}

	items, err := blog.AddMedia(req.Context(), []*media.File{f})
	if err != nil {
		return err
	}
	item := items[0]
	a.Metrics.mediaUploaded(blog.Name(), item.Created)
	a.Logger.Info("media uploaded",
		"blog", blog.Name(),
		"uri", item.URI,
		"upload_name", f.UploadName(),
		"created", item.Created,
		"client_id", verified.ClientID,
	)

	c.Response().Header().Set(echo.HeaderLocation, item.URI)
	if item.Created {
		return c.NoContent(http.StatusCreated)
	}
	return c.NoContent(http.StatusOK)
}

// handleStaged serves a file from a blog's staging area so clients can
// preview media before the post that uses it is written.
func (a *App) handleStaged(c echo.Context) error {
	blog, err := a.Blog(c.Param("blog"))
	if err != nil {
		return err
	}
	f, err := blog.StagedFile(c.Param("digest"), c.Param("filename"))
	if err != nil {
		return err
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentSecurityPolicy, stagedContentPolicy)
	h.Set(echo.HeaderXContentTypeOptions, "nosniff")
	if !displayInline(f.ContentType) {
		h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", f.Filename()))
	}
	return c.Blob(http.StatusOK, f.ContentType, f.Contents)
}

// stagedContentPolicy keeps staged files from running script on the
// gateway origin.
const stagedContentPolicy = "sandbox; default-src 'none'; img-src 'self'; media-src 'self'; style-src 'unsafe-inline'"

// displayInline reports whether a staged file of contentType may render in
// the browser. SVG is an image that can carry script, so it downloads.
func displayInline(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ct == "image/svg+xml" {
		return false
	}
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/")
}
