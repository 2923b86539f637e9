// Package example is an in-memory blog backend. It ships with two posts
// and is useful for trying the gateway and for tests.
package example

import (
	"context"
	"fmt"
	"sync"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/backend"
	"github.com/eringen/interpersonal/media"
)

var seedPosts = map[string]string{
	"blog/post-one": `---
title: Post one
date: 2021-01-27
tags:
- billbert
- bobson
---
Here's some example text from the indieweb.org wiki:

This technique has the advantage of ensuring that each object that is created has its own URL (each piece of data has its own link). This also gives the server an opportunity to handle each entity separately. E.g., rather than creating a duplicate of an existing venue, it may give back a link to one that was already created, possibly even merging in newly received data first.
`,
	"blog/post-two": `---
title: Post two
date: 2021-02-14
tags:
- bobson
- tomerton
---
Please find below a paragraph from the micropub spec:

If there was an error with the request, the endpoint MUST return an appropriate HTTP status code, typically 400, 401, or 403, and MAY include a description of the error. If an error body is returned, the response body MUST be encoded as a [JSON] object and include at least a single property named error. The following error codes are defined.
`,
}

// Backend keeps posts and media in memory.
type Backend struct {
	site *backend.Site

	mu    sync.RWMutex
	posts map[string]string
	media map[string]*media.File
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend seeded with the example posts.
func New(site *backend.Site) *Backend {
	b := &Backend{
		site:  site,
		posts: make(map[string]string, len(seedPosts)),
		media: make(map[string]*media.File),
	}
	for p, body := range seedPosts {
		b.posts[p] = body
	}
	return b
}

// GetRawPost implements backend.Backend.
func (b *Backend) GetRawPost(_ context.Context, uri string) (string, error) {
	p, err := b.site.PathFromURI(uri)
	if err != nil {
		return "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	body, ok := b.posts[p]
	if !ok {
		return "", apperr.NotFound(fmt.Sprintf("No post at URI %s", uri))
	}
	return body, nil
}

// AddRawPost implements backend.Backend.
func (b *Backend) AddRawPost(_ context.Context, postPath, body string) (string, error) {
	b.mu.Lock()
	b.posts[postPath] = body
	b.mu.Unlock()
	return b.site.PostURI(postPath), nil
}

// AddMedia implements backend.Backend.
func (b *Backend) AddMedia(_ context.Context, files []*media.File) ([]media.AddedItem, error) {
	items := make([]media.AddedItem, 0, len(files))
	for _, f := range files {
		uri := b.site.MediaURIDedicated(f)
		items = append(items, media.AddedItem{URI: uri, Created: b.put(uri, f)})
	}
	return items, nil
}

// CollectMediaForPost implements backend.Backend.
func (b *Backend) CollectMediaForPost(ctx context.Context, postPath, body string, uris []string) (string, error) {
	return backend.CollectStaged(ctx, b.site, postPath, body, uris, func(_ context.Context, f *media.File, uri string) error {
		b.put(uri, f)
		return nil
	})
}

// Media returns the file stored at uri.
func (b *Backend) Media(uri string) (*media.File, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.media[uri]
	return f, ok
}

func (b *Backend) put(uri string, f *media.File) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.media[uri]; ok {
		return false
	}
	b.media[uri] = f
	return true
}
