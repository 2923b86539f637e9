package views

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestErrorPageEscapesMessage(t *testing.T) {
	got := render(t, ErrorPage(400, `<script>alert("x")</script>`))
	if strings.Contains(got, "<script>") {
		t.Fatalf("message was not escaped:\n%s", got)
	}
	if !strings.Contains(got, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;") {
		t.Errorf("escaped message missing:\n%s", got)
	}
	if !strings.Contains(got, "<title>Error 400 - Interpersonal</title>") {
		t.Errorf("title missing:\n%s", got)
	}
}

func TestLoginEscapesAttributes(t *testing.T) {
	got := render(t, Login("/indieauth", "", `tok"en`))
	if !strings.Contains(got, `name="_csrf" value="tok&#34;en"`) {
		t.Errorf("csrf attribute not escaped:\n%s", got)
	}
	if !strings.Contains(got, `action="/indieauth/login?next=%2Findieauth"`) {
		t.Errorf("form action missing:\n%s", got)
	}
}
