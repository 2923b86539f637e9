// Package github stores posts and media in a GitHub repository laid out for
// a static site generator, authenticating as a GitHub App installation.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/backend"
	"github.com/eringen/interpersonal/media"
)

// postFiles are the file names tried, in order, when reading a post.
var postFiles = []string{"index.md", "index.html"}

// Config identifies the repository and the App used to write to it.
type Config struct {
	Owner      string
	Repo       string
	Branch     string
	AppID      string
	PrivateKey []byte
}

// Backend is a backend.Backend over the GitHub contents API.
type Backend struct {
	site   *backend.Site
	owner  string
	repo   string
	branch string
	client *Client
	log    *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend. Apps are shared through reg.
func New(site *backend.Site, reg *Registry, cfg Config) (*Backend, error) {
	switch {
	case cfg.Owner == "":
		return nil, apperr.Configurationf("blog %s: github_owner is required", site.Name)
	case cfg.Repo == "":
		return nil, apperr.Configurationf("blog %s: github_repo is required", site.Name)
	case cfg.AppID == "":
		return nil, apperr.Configurationf("blog %s: github_app_id is required", site.Name)
	case len(cfg.PrivateKey) == 0:
		return nil, apperr.Configurationf("blog %s: github_app_private_key is required", site.Name)
	}
	if cfg.Branch == "" {
		cfg.Branch = "master"
	}

	app, err := reg.App(cfg.AppID, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Backend{
		site:   site,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		branch: cfg.Branch,
		client: reg.RepoClient(app, cfg.Owner),
		log:    reg.log.With("blog", site.Name, "repo", cfg.Owner+"/"+cfg.Repo),
	}, nil
}

// GetRawPost implements backend.Backend.
func (b *Backend) GetRawPost(ctx context.Context, uri string) (string, error) {
	p, err := b.site.PathFromURI(uri)
	if err != nil {
		return "", err
	}
	for _, name := range postFiles {
		body, err := b.getFile(ctx, path.Join("content", p, name))
		if err == nil {
			return string(body), nil
		}
		if !apperr.IsNotFound(err) {
			return "", err
		}
	}
	return "", apperr.NotFound(fmt.Sprintf("No post at URI %s", uri))
}

// AddRawPost implements backend.Backend.
func (b *Backend) AddRawPost(ctx context.Context, postPath, body string) (string, error) {
	repoPath := path.Join("content", postPath, "index.md")
	msg := fmt.Sprintf("Add post %s via interpersonal", postPath)
	if err := b.putFile(ctx, repoPath, []byte(body), msg); err != nil {
		if fileExists(err) {
			return "", apperr.DuplicatePost(b.site.PostURI(postPath))
		}
		return "", err
	}
	b.log.Info("post committed", "path", repoPath)
	return b.site.PostURI(postPath), nil
}

// AddMedia implements backend.Backend for blogs with a dedicated media
// prefix. Files are stored under static/ so the site generator publishes
// them at the blog root.
func (b *Backend) AddMedia(ctx context.Context, files []*media.File) ([]media.AddedItem, error) {
	items := make([]media.AddedItem, 0, len(files))
	for _, f := range files {
		repoPath := path.Join("static", b.site.MediaPrefix, f.Digest(), f.Filename())
		created, err := b.putIfAbsent(ctx, repoPath, f)
		if err != nil {
			return nil, err
		}
		items = append(items, media.AddedItem{URI: b.site.MediaURIDedicated(f), Created: created})
	}
	return items, nil
}

// CollectMediaForPost implements backend.Backend.
func (b *Backend) CollectMediaForPost(ctx context.Context, postPath, body string, uris []string) (string, error) {
	return backend.CollectStaged(ctx, b.site, postPath, body, uris, func(ctx context.Context, f *media.File, _ string) error {
		_, err := b.putIfAbsent(ctx, path.Join("content", postPath, f.Digest(), f.Filename()), f)
		return err
	})
}

type contentFile struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type putContent struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
}

func (b *Backend) getFile(ctx context.Context, repoPath string) ([]byte, error) {
	var cf contentFile
	if err := b.client.Do(ctx, http.MethodGet, b.contentsPath(repoPath, true), nil, &cf); err != nil {
		return nil, err
	}
	if cf.Type != "file" || cf.Encoding != "base64" {
		return nil, apperr.BackendFault(fmt.Sprintf("Unexpected GitHub content for %s", repoPath), nil)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cf.Content, "\n", ""))
	if err != nil {
		return nil, apperr.BackendFault(fmt.Sprintf("Undecodable GitHub content for %s", repoPath), err)
	}
	return raw, nil
}

func (b *Backend) exists(ctx context.Context, repoPath string) (bool, error) {
	err := b.client.Do(ctx, http.MethodGet, b.contentsPath(repoPath, true), nil, nil)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) putFile(ctx context.Context, repoPath string, contents []byte, message string) error {
	return b.client.Do(ctx, http.MethodPut, b.contentsPath(repoPath, false), putContent{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(contents),
		Branch:  b.branch,
	}, nil)
}

func (b *Backend) putIfAbsent(ctx context.Context, repoPath string, f *media.File) (bool, error) {
	ok, err := b.exists(ctx, repoPath)
	if err != nil {
		return false, err
	}
	if ok {
		b.log.Debug("media already in repository", "path", repoPath)
		return false, nil
	}
	if err := b.putFile(ctx, repoPath, f.Contents, fmt.Sprintf("Add media %s via interpersonal", repoPath)); err != nil {
		if fileExists(err) {
			// Same path means same digest, so the other writer stored these bytes.
			b.log.Debug("media committed concurrently", "path", repoPath)
			return false, nil
		}
		return false, err
	}
	b.log.Info("media committed", "path", repoPath, "content_type", f.ContentType)
	return true, nil
}

func (b *Backend) contentsPath(repoPath string, withRef bool) string {
	segments := strings.Split(repoPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	p := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(b.owner), url.PathEscape(b.repo), strings.Join(segments, "/"))
	if withRef {
		p += "?ref=" + url.QueryEscape(b.branch)
	}
	return p
}

// fileExists reports whether err is GitHub refusing to create a file that
// another writer committed first. A create without a sha never overwrites.
func fileExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(apiErr.Message, `"sha"`)
}
