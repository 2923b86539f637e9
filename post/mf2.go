package post

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/eringen/interpersonal/apperr"
)

// Situations select a section of the site for a new post.
const (
	SituationDefault  = "default"
	SituationBookmark = "bookmark"
	SituationLike     = "like"
	SituationReply    = "reply"
	SituationRepost   = "repost"
)

var situationProps = []struct{ prop, situation string }{
	{"bookmark-of", SituationBookmark},
	{"like-of", SituationLike},
	{"in-reply-to", SituationReply},
	{"repost-of", SituationRepost},
}

var mediaProps = []string{"photo", "video", "audio"}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Mf2 projects the post into a microformats2 h-entry.
func (p *Post) Mf2() map[string]any {
	props := make(map[string]any)

	if extra, ok := p.Frontmatter.Get("extra"); ok {
		if m, ok := extra.(map[string]any); ok {
			for k, v := range m {
				props[strings.ReplaceAll(k, "_", "-")] = listOf(v)
			}
		}
	}

	for _, k := range p.Frontmatter.Keys() {
		v, _ := p.Frontmatter.Get(k)
		switch fold(k) {
		case "extra":
		case "title":
			props["name"] = listOf(v)
		case "description":
			props["summary"] = listOf(v)
		case "date":
			props["published"] = []any{isoformat(v)}
		case "updated":
			props["updated"] = []any{isoformat(v)}
		case "tags":
			props["category"] = listOf(v)
		default:
			props[k] = listOf(v)
		}
	}

	if strings.TrimSpace(p.Content) != "" {
		props["content"] = []any{map[string]any{"markdown": p.Content}}
	}

	return map[string]any{
		"type":       []any{"h-entry"},
		"properties": props,
	}
}

// Entry is a post decoded from mf2, ready to be stored.
type Entry struct {
	Frontmatter *Frontmatter
	Content     string
	Slug        string
	Situation   string
	Media       []string
}

// Post returns the entry as a Post.
func (e *Entry) Post() *Post {
	return New(e.Frontmatter, e.Content)
}

// FromMf2 decodes an mf2 object. name becomes title, slug (or mp-slug) is
// removed from the frontmatter, content becomes the body and every other
// property is copied verbatim. A missing slug is derived from the name or
// the content, and a missing date is stamped with now's UTC date.
func FromMf2(obj map[string]any, now time.Time) (*Entry, error) {
	props, err := properties(obj)
	if err != nil {
		return nil, err
	}

	fm := NewFrontmatter()
	var content, slug, name string

	if v, ok := props["name"]; ok {
		name = firstString(v)
		fm.Set("title", name)
	}
	if !hasAny(props, "date", "published") {
		fm.Set("date", now.UTC().Format("2006-01-02"))
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := props[k]
		switch k {
		case "name", "h", "action", "access_token", "auth_token":
		case "content":
			content, err = contentValue(v)
			if err != nil {
				return nil, err
			}
		case "slug", "mp-slug":
			if s := firstString(v); s != "" {
				slug = s
			}
		default:
			fm.Set(k, v)
		}
	}

	if slug == "" {
		if name != "" {
			slug = SlugifyAt(name, now)
		} else {
			slug = SlugifyAt(content, now)
		}
	}
	if strings.ContainsAny(slug, `/\`) || strings.HasPrefix(slug, ".") {
		return nil, apperr.InvalidRequest(fmt.Sprintf("Invalid slug '%s'", slug))
	}

	return &Entry{
		Frontmatter: fm,
		Content:     content,
		Slug:        slug,
		Situation:   Situation(props),
		Media:       Media(props),
	}, nil
}

// Situation classifies the post by its response properties.
func Situation(props map[string]any) string {
	for _, s := range situationProps {
		if _, ok := props[s.prop]; ok {
			return s.situation
		}
	}
	return SituationDefault
}

// Media returns the URLs listed in the photo, video and audio properties.
// Object values ({"value": url, "alt": ...}) contribute their value.
func Media(props map[string]any) []string {
	var out []string
	for _, p := range mediaProps {
		for _, v := range listOf(props[p]) {
			switch m := v.(type) {
			case string:
				out = append(out, m)
			case map[string]any:
				if s, ok := m["value"].(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// FormToMf2 converts a form encoded Micropub request into an mf2 object.
// "h" names the type, "prop[]" keys become lists and the action and token
// fields are dropped.
func FormToMf2(form url.Values) map[string]any {
	typ := "h-entry"
	props := make(map[string]any)
	for key, vals := range form {
		switch key {
		case "action", "access_token", "auth_token":
			continue
		case "h":
			if len(vals) > 0 && vals[0] != "" {
				typ = "h-" + vals[0]
			}
			continue
		}
		name := strings.TrimSuffix(key, "[]")
		list, _ := props[name].([]any)
		for _, v := range vals {
			list = append(list, v)
		}
		props[name] = list
	}
	return map[string]any{
		"type":       []any{typ},
		"properties": props,
	}
}

func properties(obj map[string]any) (map[string]any, error) {
	raw, ok := obj["properties"]
	if !ok {
		return nil, apperr.InvalidRequest("Missing properties")
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.InvalidRequest("Properties must be an object")
	}
	return props, nil
}

func contentValue(v any) (string, error) {
	switch c := v.(type) {
	case string:
		return c, nil
	case []string:
		if len(c) > 1 {
			return "", apperr.InvalidRequest("Unexpectedly multiple values in content list")
		}
		if len(c) == 0 {
			return "", nil
		}
		return c[0], nil
	case []any:
		if len(c) > 1 {
			return "", apperr.InvalidRequest("Unexpectedly multiple values in content list")
		}
		if len(c) == 0 {
			return "", nil
		}
		switch inner := c[0].(type) {
		case string:
			return inner, nil
		case map[string]any:
			return contentObject(inner)
		}
	case map[string]any:
		return contentObject(c)
	}
	return "", apperr.InvalidRequest(fmt.Sprintf("Unexpected type for content: %T", v))
}

func contentObject(m map[string]any) (string, error) {
	if len(m) != 1 {
		return "", apperr.InvalidRequest("Unexpectedly multiple values in content dict")
	}
	for _, key := range []string{"markdown", "html"} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s, nil
			}
		}
	}
	return "", apperr.InvalidRequest("Unexpected content object; expected 'markdown' or 'html'")
}

func listOf(v any) []any {
	switch l := v.(type) {
	case nil:
		return []any{}
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func firstString(v any) string {
	l := listOf(v)
	if len(l) == 0 {
		return ""
	}
	s, _ := l[0].(string)
	return s
}

func hasAny(props map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := props[k]; ok {
			return true
		}
	}
	return false
}

func isoformat(v any) any {
	switch d := v.(type) {
	case time.Time:
		// YAML dates without a clock decode as UTC midnight
		if d.Location() == time.UTC && d.Equal(d.Truncate(24*time.Hour)) {
			return d.Format("2006-01-02T15:04:05")
		}
		return d.Format("2006-01-02T15:04:05-07:00")
	case string:
		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, d)
			if err != nil {
				continue
			}
			if strings.Contains(layout, "Z07:00") {
				return t.Format("2006-01-02T15:04:05-07:00")
			}
			return t.Format("2006-01-02T15:04:05")
		}
		return d
	default:
		return v
	}
}
