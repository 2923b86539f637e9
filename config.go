package interpersonal

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/backend"
	"github.com/eringen/interpersonal/backend/example"
	"github.com/eringen/interpersonal/backend/github"
)

// Blog types accepted in the "type" key of a blog.
const (
	BlogTypeExample = "built-in example"
	BlogTypeGitHub  = "github"
)

// BlogConfig is one entry of the "blogs" list.
type BlogConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	URI         string            `yaml:"uri"`
	SectionMap  map[string]string `yaml:"sectionmap"`
	SlugPrefix  string            `yaml:"slugprefix"` // legacy, becomes the default section
	MediaPrefix string            `yaml:"mediaprefix"`

	GitHubOwner         string `yaml:"github_owner"`
	GitHubRepo          string `yaml:"github_repo"`
	GitHubBranch        string `yaml:"github_repo_branch"`
	GitHubAppID         string `yaml:"github_app_id"`
	GitHubAppPrivateKey string `yaml:"github_app_private_key"` // PEM, or @path
}

// Config holds all configuration for an interpersonal server.
type Config struct {
	URI       string `yaml:"uri"`       // Public base URI of this server (required)
	LogLevel  string `yaml:"loglevel"`  // debug|info|warn|error (default "info")
	LogFormat string `yaml:"logformat"` // text|json (default "text")
	Addr      string `yaml:"addr"`      // Listen address (default ":8080")
	Database  string `yaml:"database"`  // SQLite path (required)

	Password        string `yaml:"password"`          // Owner login password (required)
	CookieSecretKey string `yaml:"cookie_secret_key"` // Session encryption secret (required)
	CookieSecure    *bool  `yaml:"cookie_secure"`     // default true

	MediaStaging string `yaml:"mediastaging"`  // Root of per-blog staging dirs (required)
	OwnerProfile string `yaml:"owner_profile"` // IndieAuth "me"

	CSPRemoteTrustedSources []string `yaml:"csp_remote_trusted_sources"`

	GitHubAPIURL   string        `yaml:"github_api_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Blogs []BlogConfig `yaml:"blogs"`

	// dir resolves relative @path keys; set by LoadConfig.
	dir string
}

// LoadConfig reads a YAML config file. A .env file in the working directory
// is loaded into the environment first when it exists, and ${VAR}
// references in the file are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Configurationf("read config %s: %v", path, err)
	}
	cfg, err := ParseConfig([]byte(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// ParseConfig decodes YAML config, applies defaults and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Configurationf("invalid config: %v", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.CookieSecure == nil {
		secure := true
		c.CookieSecure = &secure
	}
	if c.GitHubAPIURL == "" {
		c.GitHubAPIURL = github.DefaultAPIURL
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = github.DefaultTimeout
	}
	if c.URI != "" {
		c.URI = backend.NormalizeBaseURI(c.URI)
	}
	for i := range c.Blogs {
		b := &c.Blogs[i]
		if b.SectionMap == nil {
			b.SectionMap = map[string]string{backend.DefaultSection: b.SlugPrefix}
		}
		if b.GitHubBranch == "" {
			b.GitHubBranch = "master"
		}
	}
}

// Validate reports the first missing or invalid key.
func (c *Config) Validate() error {
	required := []struct{ key, val string }{
		{"uri", c.URI},
		{"database", c.Database},
		{"password", c.Password},
		{"cookie_secret_key", c.CookieSecretKey},
		{"mediastaging", c.MediaStaging},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			return apperr.Configurationf("config key %s is required", r.key)
		}
	}
	if len(c.Blogs) == 0 {
		return apperr.Configuration("config must define at least one blog")
	}
	seen := make(map[string]bool, len(c.Blogs))
	for _, b := range c.Blogs {
		if b.Name == "" {
			return apperr.Configuration("every blog needs a name")
		}
		if seen[b.Name] {
			return apperr.Configurationf("blog %s is defined twice", b.Name)
		}
		seen[b.Name] = true
		if b.URI == "" {
			return apperr.Configurationf("blog %s: uri is required", b.Name)
		}
		if _, ok := b.SectionMap[backend.DefaultSection]; !ok {
			return apperr.Configurationf("blog %s: sectionmap must contain a %q key", b.Name, backend.DefaultSection)
		}
		switch b.Type {
		case BlogTypeExample, BlogTypeGitHub:
		default:
			return apperr.Configurationf("blog %s: unknown type %q", b.Name, b.Type)
		}
	}
	return nil
}

// Secure reports whether cookies carry the Secure flag.
func (c *Config) Secure() bool {
	return c.CookieSecure == nil || *c.CookieSecure
}

// readSecret returns v, or the contents of the file when v is "@path".
func (c *Config) readSecret(v string) ([]byte, error) {
	p, ok := strings.CutPrefix(v, "@")
	if !ok {
		return []byte(v), nil
	}
	if !filepath.IsAbs(p) && c.dir != "" {
		p = filepath.Join(c.dir, p)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, apperr.Configurationf("read %s: %v", p, err)
	}
	return b, nil
}

// blogFactory builds the Backend for one blog type.
type blogFactory func(a *App, site *backend.Site, bc BlogConfig) (backend.Backend, error)

var blogFactories = map[string]blogFactory{
	BlogTypeExample: func(_ *App, site *backend.Site, _ BlogConfig) (backend.Backend, error) {
		return example.New(site), nil
	},
	BlogTypeGitHub: func(a *App, site *backend.Site, bc BlogConfig) (backend.Backend, error) {
		key, err := a.Config.readSecret(bc.GitHubAppPrivateKey)
		if err != nil {
			return nil, err
		}
		return github.New(site, a.github, github.Config{
			Owner:      bc.GitHubOwner,
			Repo:       bc.GitHubRepo,
			Branch:     bc.GitHubBranch,
			AppID:      bc.GitHubAppID,
			PrivateKey: key,
		})
	},
}

// buildBlogs constructs every configured blog.
func (a *App) buildBlogs() (map[string]*backend.Blog, error) {
	blogs := make(map[string]*backend.Blog, len(a.Config.Blogs))
	for _, bc := range a.Config.Blogs {
		sections, err := backend.NewSectionMap(bc.SectionMap)
		if err != nil {
			return nil, fmt.Errorf("blog %s: %w", bc.Name, err)
		}
		s := backend.Site{
			Name:             bc.Name,
			BaseURI:          bc.URI,
			InterpersonalURI: a.Config.URI,
			Sections:         sections,
			MediaPrefix:      bc.MediaPrefix,
		}
		if bc.MediaPrefix == "" {
			s.StagingDir = filepath.Join(a.Config.MediaStaging, bc.Name)
		}
		site, err := backend.NewSite(s)
		if err != nil {
			return nil, err
		}
		be, err := blogFactories[bc.Type](a, site, bc)
		if err != nil {
			return nil, err
		}
		blogs[bc.Name] = backend.NewBlog(site, be,
			backend.WithClock(a.now),
			backend.WithLogger(a.Logger),
		)
	}
	return blogs, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithClock replaces time.Now for the token authority and post dating.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithGitHubTransport sets the base transport for GitHub API requests.
func WithGitHubTransport(rt http.RoundTripper) Option {
	return func(a *App) { a.githubTransport = rt }
}
