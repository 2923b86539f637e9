package backend

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/media"
)

// DefaultSection is the section map key used for ordinary posts.
const DefaultSection = "default"

// SectionMap maps a post situation (see post.Situation) to the path
// section new posts of that kind are created under.
type SectionMap map[string]string

// NewSectionMap validates m and strips slashes from its values. It must
// contain a "default" entry.
func NewSectionMap(m map[string]string) (SectionMap, error) {
	if _, ok := m[DefaultSection]; !ok {
		return nil, apperr.Configuration("sectionmap must contain a 'default' key")
	}
	out := make(SectionMap, len(m))
	for k, v := range m {
		out[k] = strings.Trim(v, "/")
	}
	return out, nil
}

// Section returns the section for situation, falling back to the default.
func (s SectionMap) Section(situation string) string {
	if v, ok := s[situation]; ok {
		return v
	}
	return s[DefaultSection]
}

// Site holds the addressing rules of one blog: where posts and media live
// and how their URIs are formed.
type Site struct {
	Name             string
	BaseURI          string
	InterpersonalURI string
	Sections         SectionMap
	MediaPrefix      string
	StagingDir       string

	// Stager is set when StagingDir is.
	Stager *media.Stager
}

// NewSite normalizes s and validates that exactly one media mode is chosen.
func NewSite(s Site) (*Site, error) {
	if s.Name == "" {
		return nil, apperr.Configuration("blog name is required")
	}
	if s.BaseURI == "" {
		return nil, apperr.Configurationf("blog %s: uri is required", s.Name)
	}
	if (s.MediaPrefix == "") == (s.StagingDir == "") {
		return nil, apperr.Configurationf("blog %s: must set exactly one of 'mediaprefix' or 'mediastaging'", s.Name)
	}
	if s.Sections == nil {
		s.Sections = SectionMap{DefaultSection: ""}
	}
	if _, ok := s.Sections[DefaultSection]; !ok {
		return nil, apperr.Configurationf("blog %s: sectionmap must contain a 'default' key", s.Name)
	}
	s.BaseURI = NormalizeBaseURI(s.BaseURI)
	s.InterpersonalURI = NormalizeBaseURI(s.InterpersonalURI)
	s.MediaPrefix = strings.Trim(s.MediaPrefix, "/")
	if s.StagingDir != "" {
		stager, err := media.NewStager(s.StagingDir)
		if err != nil {
			return nil, apperr.Configurationf("blog %s: %v", s.Name, err)
		}
		s.Stager = stager
	}
	return &s, nil
}

// NormalizeBaseURI ensures uri ends with exactly one slash.
func NormalizeBaseURI(uri string) string {
	return strings.TrimRight(uri, "/") + "/"
}

// Staged reports whether the blog collects media into posts.
func (s *Site) Staged() bool {
	return s.MediaPrefix == ""
}

// PostPath joins a section and a slug. It has no leading or trailing slash.
func (s *Site) PostPath(section, slug string) string {
	slug = strings.Trim(slug, "/")
	section = strings.Trim(section, "/")
	if section == "" {
		return slug
	}
	return section + "/" + slug
}

// PostURI returns the public URI of the post at postPath.
func (s *Site) PostURI(postPath string) string {
	return s.BaseURI + postPath
}

// PathFromURI returns the post path addressed by uri, which must be under
// the blog's base URI.
func (s *Site) PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", apperr.InvalidRequest(fmt.Sprintf("Invalid URI '%s'", uri))
	}
	u.RawQuery, u.Fragment = "", ""
	clean := u.String()
	base := strings.TrimSuffix(s.BaseURI, "/")
	if clean != base && !strings.HasPrefix(clean, s.BaseURI) {
		return "", apperr.NotFound(fmt.Sprintf("URI %s is not part of blog %s", uri, s.Name))
	}
	p := strings.Trim(strings.TrimPrefix(clean, base), "/")
	if p == "" || path.Clean("/"+p) != "/"+p {
		return "", apperr.NotFound(fmt.Sprintf("No post at URI %s", uri))
	}
	return p, nil
}

// MediaURIDedicated is the permanent URI of f in a dedicated media prefix.
func (s *Site) MediaURIDedicated(f *media.File) string {
	return fmt.Sprintf("%s%s/%s/%s", s.BaseURI, s.MediaPrefix, f.Digest(), f.Filename())
}

// StagingPrefix is the URI prefix under which the gateway serves staged
// media for this blog.
func (s *Site) StagingPrefix() string {
	return fmt.Sprintf("%smicropub/%s/staging/", s.InterpersonalURI, url.PathEscape(s.Name))
}

// MediaURIStaging is the temporary URI of a staged file.
func (s *Site) MediaURIStaging(f *media.File) string {
	return s.StagingPrefix() + f.Digest() + "/" + f.Filename()
}

// ParseStagingURI extracts the digest and filename from a staging URI of
// this blog.
func (s *Site) ParseStagingURI(uri string) (digest, filename string, ok bool) {
	rest, found := strings.CutPrefix(uri, s.StagingPrefix())
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// MediaURICollected is the permanent URI of media collected into the post
// at postPath.
func (s *Site) MediaURICollected(postPath, digest, filename string) string {
	return fmt.Sprintf("%s%s/%s/%s", s.BaseURI, postPath, digest, filename)
}
