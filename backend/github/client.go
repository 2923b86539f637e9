package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/eringen/interpersonal/apperr"
)

const (
	// DefaultAPIURL is the public GitHub REST API.
	DefaultAPIURL = "https://api.github.com"

	// DefaultTimeout bounds every GitHub request.
	DefaultTimeout = 30 * time.Second

	apiVersion   = "2022-11-28"
	maxErrorBody = 64 << 10
)

// APIError is a non-2xx GitHub response.
type APIError struct {
	StatusCode       int
	Method           string
	Path             string
	Message          string
	DocumentationURL string
	Details          []string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("github: %s %s: %d", e.Method, e.Path, e.StatusCode)
	if e.Message != "" {
		msg += " " + e.Message
	}
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// Client performs authenticated GitHub REST calls. Authentication comes from
// an oauth2.TokenSource built for each request: the App JWT for app level
// calls, an installation token for repository calls.
type Client struct {
	baseURL string
	source  func(ctx context.Context) oauth2.TokenSource
	base    http.RoundTripper
	timeout time.Duration
	log     *slog.Logger

	// onUnauthorized runs after a 401 so cached credentials can be dropped.
	onUnauthorized func()
}

func newClient(baseURL string, source func(ctx context.Context) oauth2.TokenSource, base http.RoundTripper, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		source:  source,
		base:    base,
		timeout: timeout,
		log:     log,
	}
}

// staticSource returns ts for every request.
func staticSource(ts oauth2.TokenSource) func(context.Context) oauth2.TokenSource {
	return func(context.Context) oauth2.TokenSource { return ts }
}

// Do sends a request with an optional JSON body and decodes a JSON response
// into out when out is non-nil. A 404 is an apperr not found error; every
// other failure is a backend fault wrapping *APIError or the transport error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := &http.Client{
		Timeout:   c.timeout,
		Transport: &oauth2.Transport{Source: c.source(ctx), Base: c.base},
	}
	resp, err := hc.Do(req)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		c.log.Error("github request failed", "method", method, "path", path, "error", err)
		return apperr.BackendFault("GitHub request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.responseError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.BackendFault("Unexpected GitHub response", fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func (c *Client) responseError(method, path string, resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}

	// The body only feeds diagnostics; an unreadable one is not an error.
	if b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && gjson.ValidBytes(b) {
		parsed := gjson.ParseBytes(b)
		apiErr.Message = parsed.Get("message").String()
		apiErr.DocumentationURL = parsed.Get("documentation_url").String()
		for _, d := range parsed.Get("errors.#.message").Array() {
			apiErr.Details = append(apiErr.Details, d.String())
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug("github resource not found", "method", method, "path", path)
		return apperr.New(apperr.KindNotFound, "not_found", "Not found", apiErr)
	}
	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	c.log.Error("github request failed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"message", apiErr.Message,
		"documentation_url", apiErr.DocumentationURL,
		"details", apiErr.Details,
	)
	return apperr.BackendFault("GitHub API request failed", apiErr)
}
