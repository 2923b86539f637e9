package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/media"
	"github.com/eringen/interpersonal/post"
)

// Blog is a configured blog: its addressing rules and the backend that
// stores it.
type Blog struct {
	Site    *Site
	Backend Backend

	now func() time.Time
	log *slog.Logger
}

// BlogOption configures a Blog.
type BlogOption func(*Blog)

// WithClock replaces time.Now for date stamps and generated slugs.
func WithClock(now func() time.Time) BlogOption {
	return func(b *Blog) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) BlogOption {
	return func(b *Blog) {
		b.log = log
	}
}

// NewBlog creates a Blog.
func NewBlog(site *Site, be Backend, opts ...BlogOption) *Blog {
	b := &Blog{
		Site:    site,
		Backend: be,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("blog", site.Name)
	return b
}

// Name returns the blog name.
func (b *Blog) Name() string {
	return b.Site.Name
}

// GetPost fetches and parses the post at uri.
func (b *Blog) GetPost(ctx context.Context, uri string) (*post.Post, error) {
	raw, err := b.Backend.GetRawPost(ctx, uri)
	if err != nil {
		return nil, err
	}
	return post.Parse(raw), nil
}

// AddPost creates the post section/slug. It refuses to overwrite an
// existing post and, for staged blogs, collects mediaURIs into the post
// before writing it.
func (b *Blog) AddPost(ctx context.Context, section, slug string, p *post.Post, mediaURIs []string) (string, error) {
	postPath := b.Site.PostPath(section, slug)
	uri := b.Site.PostURI(postPath)

	_, err := b.GetPost(ctx, uri)
	switch {
	case err == nil:
		return "", apperr.DuplicatePost(uri)
	case apperr.IsNotFound(err):
	default:
		return "", fmt.Errorf("check for existing post %s: %w", uri, err)
	}

	body, err := p.Serialize()
	if err != nil {
		return "", err
	}
	if b.Site.Staged() && len(mediaURIs) > 0 {
		body, err = b.Backend.CollectMediaForPost(ctx, postPath, body, mediaURIs)
		if err != nil {
			return "", err
		}
	}

	created, err := b.Backend.AddRawPost(ctx, postPath, body)
	if err != nil {
		return "", err
	}
	b.log.Info("created post", "uri", created, "media", len(mediaURIs))
	return created, nil
}

// AddPostMf2 decodes an mf2 object and creates the post in the section its
// situation maps to.
func (b *Blog) AddPostMf2(ctx context.Context, obj map[string]any) (string, error) {
	entry, err := post.FromMf2(obj, b.now())
	if err != nil {
		return "", err
	}
	section := b.Site.Sections.Section(entry.Situation)
	return b.AddPost(ctx, section, entry.Slug, entry.Post(), entry.Media)
}

// AddMedia stores uploaded files: in the staging area for staged blogs,
// otherwise in the backend's dedicated media location.
func (b *Blog) AddMedia(ctx context.Context, files []*media.File) ([]media.AddedItem, error) {
	if !b.Site.Staged() {
		return b.Backend.AddMedia(ctx, files)
	}
	items := make([]media.AddedItem, 0, len(files))
	for _, f := range files {
		created, err := b.Site.Stager.Stage(f)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", f.Filename(), err)
		}
		items = append(items, media.AddedItem{URI: b.Site.MediaURIStaging(f), Created: created})
	}
	return items, nil
}

// StagedFile returns a file from the staging area.
func (b *Blog) StagedFile(digest, filename string) (*media.File, error) {
	if !b.Site.Staged() {
		return nil, apperr.NotFound(fmt.Sprintf("Blog %s does not stage media", b.Site.Name))
	}
	return b.Site.Stager.Open(digest, filename)
}
