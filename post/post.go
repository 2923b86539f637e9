// Package post models a blog post as YAML frontmatter plus a markdown body,
// and converts between that text form and microformats2 JSON.
package post

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	openFence  = "---\n"
	closeFence = "\n---\n"
)

// Post is a frontmatter mapping and a body.
type Post struct {
	Frontmatter *Frontmatter
	Content     string
}

// New creates a post, allocating frontmatter when fm is nil.
func New(fm *Frontmatter, content string) *Post {
	if fm == nil {
		fm = NewFrontmatter()
	}
	return &Post{Frontmatter: fm, Content: content}
}

// Parse reads the text form of a post. It never fails: text without a
// frontmatter fence, or whose frontmatter is not a YAML mapping, yields empty
// frontmatter and the whole text as the body.
func Parse(raw string) *Post {
	plain := New(nil, raw)
	if !strings.HasPrefix(raw, openFence) {
		return plain
	}
	rest := raw[len(openFence):]

	var head, body string
	switch {
	case strings.HasPrefix(rest, "---\n"):
		body = rest[len("---\n"):]
	case rest == "---":
	default:
		i := strings.Index(rest, closeFence)
		switch {
		case i >= 0:
			head, body = rest[:i+1], rest[i+len(closeFence):]
		case strings.HasSuffix(rest, "\n---"):
			head = rest[:len(rest)-len("---")]
		default:
			return plain
		}
	}

	fm := NewFrontmatter()
	if strings.TrimSpace(head) != "" {
		if err := yaml.Unmarshal([]byte(head), fm); err != nil {
			return plain
		}
	}
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")
	return &Post{Frontmatter: fm, Content: body}
}

// Serialize renders the text form: a fenced YAML block, a blank line, the
// body and a trailing newline.
func (p *Post) Serialize() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(openFence)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	fm := p.Frontmatter
	if fm == nil {
		fm = NewFrontmatter()
	}
	if err := enc.Encode(fm); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(p.Content)
	buf.WriteString("\n")
	return buf.String(), nil
}
