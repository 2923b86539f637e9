package post

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/eringen/interpersonal/apperr"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

func TestFromMf2ContentForms(t *testing.T) {
	tests := []struct {
		name    string
		content any
		want    string
	}{
		{"bare string", "plain", "plain"},
		{"single element list", []any{"listed"}, "listed"},
		{"markdown object", []any{map[string]any{"markdown": "# md"}}, "# md"},
		{"html object", map[string]any{"html": "<p>hi</p>"}, "<p>hi</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := FromMf2(map[string]any{
				"properties": map[string]any{"content": tt.content, "slug": []any{"s"}},
			}, fixedNow)
			if err != nil {
				t.Fatalf("FromMf2: %v", err)
			}
			if e.Content != tt.want {
				t.Errorf("content = %q, want %q", e.Content, tt.want)
			}
		})
	}
}

func TestFromMf2RejectsAmbiguousContent(t *testing.T) {
	tests := []struct {
		name    string
		content any
		desc    string
	}{
		{"two list values", []any{"a", "b"}, "Unexpectedly multiple values in content list"},
		{"two object keys", []any{map[string]any{"markdown": "a", "html": "b"}}, "Unexpectedly multiple values in content dict"},
		{"number", 42.0, "Unexpected type for content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMf2(map[string]any{"properties": map[string]any{"content": tt.content}}, fixedNow)
			if !apperr.IsKind(err, apperr.KindInvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
			e, _ := apperr.As(err)
			if !strings.HasPrefix(e.Description, tt.desc) {
				t.Errorf("description = %q, want prefix %q", e.Description, tt.desc)
			}
		})
	}
}

func TestFromMf2Frontmatter(t *testing.T) {
	e, err := FromMf2(map[string]any{
		"type": []any{"h-entry"},
		"properties": map[string]any{
			"name":     []any{"Hello World"},
			"content":  []any{"Body"},
			"category": []any{"a", "b"},
			"photo":    []any{"https://example.com/p.jpeg", map[string]any{"value": "https://example.com/q.png", "alt": "q"}},
		},
	}, fixedNow)
	if err != nil {
		t.Fatalf("FromMf2: %v", err)
	}
	if e.Slug != "hello-world" {
		t.Errorf("slug = %q, want %q", e.Slug, "hello-world")
	}
	if got := e.Frontmatter.GetString("title"); got != "Hello World" {
		t.Errorf("title = %q", got)
	}
	if got := e.Frontmatter.GetString("date"); got != "2024-03-09" {
		t.Errorf("date = %q, want stamped UTC date", got)
	}
	if e.Frontmatter.Has("name") || e.Frontmatter.Has("content") || e.Frontmatter.Has("slug") {
		t.Errorf("unexpected keys in frontmatter: %v", e.Frontmatter.Keys())
	}
	category, _ := e.Frontmatter.Get("category")
	if diff := cmp.Diff([]any{"a", "b"}, category); diff != "" {
		t.Errorf("category mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://example.com/p.jpeg", "https://example.com/q.png"}, e.Media); diff != "" {
		t.Errorf("media mismatch (-want +got):\n%s", diff)
	}
	if e.Situation != SituationDefault {
		t.Errorf("situation = %q", e.Situation)
	}
}

func TestFromMf2KeepsProvidedDateAndSlug(t *testing.T) {
	e, err := FromMf2(map[string]any{
		"properties": map[string]any{
			"published":   []any{"2020-01-01T00:00:00Z"},
			"slug":        []any{"chosen"},
			"bookmark-of": []any{"https://example.org"},
		},
	}, fixedNow)
	if err != nil {
		t.Fatalf("FromMf2: %v", err)
	}
	if e.Frontmatter.Has("date") {
		t.Errorf("date should not be stamped when published is present")
	}
	if e.Slug != "chosen" {
		t.Errorf("slug = %q", e.Slug)
	}
	if e.Situation != SituationBookmark {
		t.Errorf("situation = %q, want bookmark", e.Situation)
	}
}

func TestFromMf2SlugFromContent(t *testing.T) {
	e, err := FromMf2(map[string]any{
		"properties": map[string]any{"content": []any{"Just a note, nothing more"}},
	}, fixedNow)
	if err != nil {
		t.Fatalf("FromMf2: %v", err)
	}
	if e.Slug != "just-a-note-nothing-more" {
		t.Errorf("slug = %q", e.Slug)
	}
}

func TestFromMf2RejectsPathSlug(t *testing.T) {
	_, err := FromMf2(map[string]any{
		"properties": map[string]any{"slug": []any{"../escape"}},
	}, fixedNow)
	if !apperr.IsKind(err, apperr.KindInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestFormToMf2(t *testing.T) {
	form := url.Values{
		"h":          {"entry"},
		"content":    {"hello"},
		"category[]": {"a", "b"},
		"auth_token": {"secret"},
		"action":     {"create"},
	}
	got := FormToMf2(form)
	want := map[string]any{
		"type": []any{"h-entry"},
		"properties": map[string]any{
			"content":  []any{"hello"},
			"category": []any{"a", "b"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormToMf2 mismatch (-want +got):\n%s", diff)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"In this essay I will - without the slightest bit of concern - grapple,", "in-this-essay-i-will-without-the-slightest-bit-of"},
		{"Hello, World!", "hello-world"},
		{"  spaced   out  ", "spaced-out"},
		{"Ünïcode wörds", "ünïcode-wörds"},
		{"", "20240309-1405"},
		{"!!!", "20240309-1405"},
	}
	for _, tt := range tests {
		if got := SlugifyAt(tt.in, fixedNow); got != tt.want {
			t.Errorf("SlugifyAt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
