package views

import (
	"net/url"

	"github.com/a-h/templ"
)

// Blog is one row of the Micropub index.
type Blog struct {
	Name      string
	URI       string
	Type      string
	MediaMode string
}

// MicropubIndex lists the configured blogs and their endpoints.
func MicropubIndex(gatewayURI string, blogs []Blog) templ.Component {
	return page("Micropub", func(w *writer) {
		if len(blogs) == 0 {
			w.raw("<p class=\"muted\">No blogs are configured.</p>\n")
			return
		}
		w.raw("<table>\n<tr><th>Blog</th><th>Type</th><th>Media</th><th>Endpoint</th></tr>\n")
		for _, b := range blogs {
			w.raw("<tr><td>")
			w.link(b.URI, b.Name)
			w.raw("</td><td>")
			w.text(b.Type)
			w.raw("</td><td>")
			w.text(b.MediaMode)
			w.raw("</td><td>")
			w.text(gatewayURI + "micropub/" + url.PathEscape(b.Name))
			w.raw("</td></tr>\n")
		}
		w.raw("</table>\n")
	})
}

// GitHubAuthorized is shown after the GitHub App is installed.
func GitHubAuthorized(installationID, setupAction string) templ.Component {
	return page("Installed", func(w *writer) {
		w.raw("<p>Interpersonal was installed to GitHub.</p>\n<dl class=\"params\">\n")
		if installationID != "" {
			w.raw("<dt>Installation</dt><dd>")
			w.text(installationID)
			w.raw("</dd>\n")
		}
		if setupAction != "" {
			w.raw("<dt>Action</dt><dd>")
			w.text(setupAction)
			w.raw("</dd>\n")
		}
		w.raw("</dl>\n")
	})
}
