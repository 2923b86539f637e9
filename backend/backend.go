// Package backend defines the storage contract every blog type implements
// and the generic post and media operations built on top of it.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/media"
)

// Backend is the set of primitives a blog type provides.
type Backend interface {
	// GetRawPost returns the text form of the post at uri, or an
	// apperr not found error.
	GetRawPost(ctx context.Context, uri string) (string, error)

	// AddRawPost stores body at postPath and returns the post URI.
	AddRawPost(ctx context.Context, postPath, body string) (string, error)

	// AddMedia stores files under the blog's dedicated media prefix.
	// Storing a file that already exists reports Created false.
	AddMedia(ctx context.Context, files []*media.File) ([]media.AddedItem, error)

	// CollectMediaForPost moves staged media referenced by uris next to
	// the post at postPath and returns body with those URIs rewritten.
	CollectMediaForPost(ctx context.Context, postPath, body string, uris []string) (string, error)
}

// PutFunc stores one collected file for a post. Implementations must be
// idempotent.
type PutFunc func(ctx context.Context, f *media.File, uri string) error

// CollectStaged implements the common part of CollectMediaForPost: every
// URI under the blog's staging prefix is loaded from the stager, handed to
// put, and replaced in body by its collected URI. Other URIs are left alone.
func CollectStaged(ctx context.Context, site *Site, postPath, body string, uris []string, put PutFunc) (string, error) {
	if site.Stager == nil {
		return body, nil
	}
	for _, uri := range uris {
		digest, filename, ok := site.ParseStagingURI(uri)
		if !ok {
			continue
		}
		f, err := site.Stager.Open(digest, filename)
		if apperr.IsNotFound(err) {
			return "", apperr.InvalidRequest(fmt.Sprintf("Media item from URI %s has not been uploaded", uri))
		}
		if err != nil {
			return "", err
		}
		collected := site.MediaURICollected(postPath, digest, filename)
		if err := put(ctx, f, collected); err != nil {
			return "", err
		}
		body = strings.ReplaceAll(body, uri, collected)
	}
	return body, nil
}
