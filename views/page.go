// Package views renders the owner facing HTML pages.
package views

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// writer accumulates a page. Everything passed to text and attr is escaped.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) raw(s string) {
	w.buf.WriteString(s)
}

func (w *writer) text(s string) {
	w.buf.WriteString(templ.EscapeString(s))
}

func (w *writer) attr(name, value string) {
	w.buf.WriteString(" " + name + "=\"")
	w.buf.WriteString(templ.EscapeString(value))
	w.buf.WriteString("\"")
}

func (w *writer) hidden(name, value string) {
	w.raw("<input type=\"hidden\"")
	w.attr("name", name)
	w.attr("value", value)
	w.raw(">\n")
}

func (w *writer) link(href, label string) {
	w.raw("<a")
	w.attr("href", href)
	w.raw(">")
	w.text(label)
	w.raw("</a>")
}

func page(title string, body func(w *writer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		var w writer
		w.raw("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
		w.raw("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
		w.raw("<link rel=\"stylesheet\" href=\"/static/style.css\">\n<title>")
		w.text(title)
		w.raw(" - Interpersonal</title>\n</head>\n<body>\n")
		w.raw("<header><a href=\"/\">Interpersonal</a></header>\n<nav>")
		w.link("/indieauth", "IndieAuth")
		w.link("/micropub", "Micropub")
		w.raw("</nav>\n<main>\n<h1>")
		w.text(title)
		w.raw("</h1>\n")
		body(&w)
		w.raw("</main>\n</body>\n</html>\n")
		_, err := out.Write(w.buf.Bytes())
		return err
	})
}

// Index is the landing page.
func Index() templ.Component {
	return page("Interpersonal", func(w *writer) {
		w.raw("<p>The connection between a little site and the IndieWeb.</p>\n<ul>\n<li>")
		w.link("/indieauth", "IndieAuth authorization and token endpoints")
		w.raw("</li>\n<li>")
		w.link("/micropub", "Micropub endpoints for the configured blogs")
		w.raw("</li>\n</ul>\n")
	})
}

// ErrorPage shows an HTTP error to the owner.
func ErrorPage(code int, msg string) templ.Component {
	return page("Error "+strconv.Itoa(code), func(w *writer) {
		w.raw("<p class=\"error\">")
		w.text(msg)
		w.raw("</p>\n")
	})
}
