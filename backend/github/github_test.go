package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/interpersonal/apperr"
	"github.com/eringen/interpersonal/backend"
	"github.com/eringen/interpersonal/media"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func pkcs1PEM(k *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)})
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeGitHub is a minimal GitHub REST API holding one repository.
type fakeGitHub struct {
	t        *testing.T
	key      *rsa.PublicKey
	appID    string
	accounts []string
	clock    *clock

	listCalls  atomic.Int32
	tokenCalls atomic.Int32
	putCalls   atomic.Int32

	mu       sync.Mutex
	files    map[string][]byte
	messages map[string]string
	branches map[string]string
	tokenSeq int
	failWith int

	// tokenStatus, when set, fails installation token requests.
	tokenStatus int
	// appearOnGet holds files another writer commits right after this
	// client's existence check misses them.
	appearOnGet map[string][]byte
}

func newFakeGitHub(t *testing.T, c *clock, accounts ...string) (*fakeGitHub, *httptest.Server) {
	f := &fakeGitHub{
		t:        t,
		key:      &rsaKey(t).PublicKey,
		appID:    "1234",
		accounts: accounts,
		clock:    c,
		files:    make(map[string][]byte),
		messages: make(map[string]string),
		branches: make(map[string]string),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":           msg,
		"documentation_url": "https://docs.github.com/rest",
	})
}

func (f *fakeGitHub) checkAppJWT(r *http.Request) bool {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return false
	}
	var claims jwt.Claims
	if err := tok.Claims(f.key, &claims); err != nil {
		return false
	}
	return claims.Issuer == f.appID
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "application/vnd.github+json", r.Header.Get("Accept"))
	assert.Equal(f.t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))

	switch {
	case r.URL.Path == "/app/installations" && r.Method == http.MethodGet:
		f.listCalls.Add(1)
		if !f.checkAppJWT(r) {
			f.writeError(w, http.StatusUnauthorized, "A JSON web token could not be decoded")
			return
		}
		var out []map[string]any
		for i, login := range f.accounts {
			out = append(out, map[string]any{"id": 100 + i, "account": map[string]any{"login": login}})
		}
		if r.URL.Query().Get("page") != "1" {
			out = nil
		}
		_ = json.NewEncoder(w).Encode(out)

	case strings.HasPrefix(r.URL.Path, "/app/installations/") && r.Method == http.MethodPost:
		f.tokenCalls.Add(1)
		if !f.checkAppJWT(r) {
			f.writeError(w, http.StatusUnauthorized, "A JSON web token could not be decoded")
			return
		}
		f.mu.Lock()
		if f.tokenStatus != 0 {
			status := f.tokenStatus
			f.mu.Unlock()
			f.writeError(w, status, "Not Found")
			return
		}
		f.tokenSeq++
		tok := fmt.Sprintf("ghs_%d", f.tokenSeq)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      tok,
			"expires_at": f.clock.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})

	case strings.HasPrefix(r.URL.Path, "/repos/owner/site/contents/"):
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ghs_") {
			f.writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		f.mu.Lock()
		failWith := f.failWith
		f.mu.Unlock()
		if failWith != 0 {
			f.writeError(w, failWith, "Server Error")
			return
		}
		p := strings.TrimPrefix(r.URL.Path, "/repos/owner/site/contents/")
		f.contents(w, r, p)

	default:
		f.writeError(w, http.StatusNotFound, "Not Found")
	}
}

func (f *fakeGitHub) contents(w http.ResponseWriter, r *http.Request, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		body, ok := f.files[p]
		if !ok {
			if late, pending := f.appearOnGet[p]; pending {
				f.files[p] = late
				delete(f.appearOnGet, p)
			}
			f.writeError(w, http.StatusNotFound, "Not Found")
			return
		}
		enc := base64.StdEncoding.EncodeToString(body)
		// GitHub wraps base64 content at 60 columns.
		var wrapped strings.Builder
		for len(enc) > 60 {
			wrapped.WriteString(enc[:60] + "\n")
			enc = enc[60:]
		}
		wrapped.WriteString(enc)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "file", "encoding": "base64", "content": wrapped.String(), "path": p,
		})
	case http.MethodPut:
		f.putCalls.Add(1)
		var req putContent
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.writeError(w, http.StatusUnprocessableEntity, "Invalid request")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			f.writeError(w, http.StatusUnprocessableEntity, "content is not valid Base64")
			return
		}
		if _, exists := f.files[p]; exists {
			f.writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
			return
		}
		f.files[p] = raw
		f.messages[p] = req.Message
		f.branches[p] = req.Branch
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"content":{}}`))
	}
}

func (f *fakeGitHub) setFile(p string, body []byte) {
	f.mu.Lock()
	f.files[p] = body
	f.mu.Unlock()
}

func (f *fakeGitHub) failTokenRequests(status int) {
	f.mu.Lock()
	f.tokenStatus = status
	f.mu.Unlock()
}

func (f *fakeGitHub) commitAfterMiss(p string, body []byte) {
	f.mu.Lock()
	if f.appearOnGet == nil {
		f.appearOnGet = make(map[string][]byte)
	}
	f.appearOnGet[p] = body
	f.mu.Unlock()
}

func (f *fakeGitHub) failRepoRequests(status int) {
	f.mu.Lock()
	f.failWith = status
	f.mu.Unlock()
}

func (f *fakeGitHub) commit(p string) (message, branch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[p], f.branches[p]
}

func (f *fakeGitHub) file(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[p]
	return b, ok
}

func testSite(t *testing.T, staged bool) *backend.Site {
	t.Helper()
	s := backend.Site{
		Name:             "site",
		BaseURI:          "https://blog.example.net/",
		InterpersonalURI: "https://ip.example.net/",
	}
	if staged {
		s.StagingDir = t.TempDir()
	} else {
		s.MediaPrefix = "uploads"
	}
	site, err := backend.NewSite(s)
	require.NoError(t, err)
	return site
}

func newTestBackend(t *testing.T, srv *httptest.Server, c *clock, staged bool) (*Backend, *Registry) {
	t.Helper()
	reg := NewRegistry(WithAPIURL(srv.URL), WithClock(c.Now), WithTimeout(5*time.Second))
	be, err := New(testSite(t, staged), reg, Config{
		Owner:      "owner",
		Repo:       "site",
		Branch:     "main",
		AppID:      "1234",
		PrivateKey: pkcs1PEM(rsaKey(t)),
	})
	require.NoError(t, err)
	return be, reg
}

func TestAppJWTClaimsAndCaching(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	j, err := NewAppJWT("42", pkcs1PEM(rsaKey(t)), c.Now)
	require.NoError(t, err)

	first, err := j.Token()
	require.NoError(t, err)

	parsed, err := jwt.ParseSigned(first.AccessToken, []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(t, err)
	var claims jwt.Claims
	require.NoError(t, parsed.Claims(&rsaKey(t).PublicKey, &claims))
	assert.Equal(t, "42", claims.Issuer)
	assert.Equal(t, c.Now().Add(-time.Minute).Unix(), claims.IssuedAt.Time().Unix())
	assert.Equal(t, c.Now().Add(9*time.Minute).Unix(), claims.Expiry.Time().Unix())

	c.Advance(8 * time.Minute)
	again, err := j.Token()
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, again.AccessToken, "token reused well before expiry")

	c.Advance(50 * time.Second)
	renewed, err := j.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, renewed.AccessToken, "token renewed within the refresh margin")
}

func TestAppJWTAcceptsPKCS8(t *testing.T) {
	der, err := x509.MarshalPKCS8PrivateKey(rsaKey(t))
	require.NoError(t, err)
	_, err = NewAppJWT("42", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil)
	require.NoError(t, err)

	_, err = NewAppJWT("42", []byte("not a key"), nil)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestAddRawPostAndReadBack(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "someone-else", "Owner")
	be, _ := newTestBackend(t, srv, c, false)
	ctx := context.Background()

	body := strings.Repeat("A long line of post text. ", 20)
	uri, err := be.AddRawPost(ctx, "blog/hello", body)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example.net/blog/hello", uri)

	stored, ok := gh.file("content/blog/hello/index.md")
	require.True(t, ok)
	assert.Equal(t, body, string(stored))
	message, branch := gh.commit("content/blog/hello/index.md")
	assert.Equal(t, "Add post blog/hello via interpersonal", message)
	assert.Equal(t, "main", branch)

	got, err := be.GetRawPost(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	assert.EqualValues(t, 1, gh.listCalls.Load(), "installations listed once")
	assert.EqualValues(t, 1, gh.tokenCalls.Load(), "installation token reused")
}

func TestGetRawPostFallsBackToHTML(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)
	gh.setFile("content/pages/about/index.html", []byte("<p>about</p>"))

	got, err := be.GetRawPost(context.Background(), "https://blog.example.net/pages/about/")
	require.NoError(t, err)
	assert.Equal(t, "<p>about</p>", got)

	_, err = be.GetRawPost(context.Background(), "https://blog.example.net/pages/missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestInstallationTokenRefreshedAfterExpiry(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)
	ctx := context.Background()

	_, err := be.AddRawPost(ctx, "a", "one")
	require.NoError(t, err)
	c.Advance(61 * time.Minute)
	_, err = be.AddRawPost(ctx, "b", "two")
	require.NoError(t, err)

	assert.EqualValues(t, 2, gh.tokenCalls.Load())
}

func TestInstallationTokenSingleFlight(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	_, reg := newTestBackend(t, srv, c, false)
	app, err := reg.App("1234", pkcs1PEM(rsaKey(t)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := app.Installations.Token(context.Background(), "owner")
			if assert.NoError(t, err) {
				tokens[i] = tok.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, gh.tokenCalls.Load())
	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}

func TestInstallationLookupFailures(t *testing.T) {
	tests := []struct {
		name     string
		accounts []string
		want     string
	}{
		{"not installed", []string{"someone-else"}, "not installed for owner owner"},
		{"ambiguous", []string{"owner", "OWNER"}, "found 2 GitHub App installations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &clock{t: time.Now()}
			gh, srv := newFakeGitHub(t, c, tt.accounts...)
			be, _ := newTestBackend(t, srv, c, false)

			_, err := be.AddRawPost(context.Background(), "x", "body")
			require.Error(t, err)
			assert.True(t, apperr.IsConfiguration(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
			assert.EqualValues(t, 0, gh.putCalls.Load())
		})
	}
}

func TestAPIErrorDetails(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)
	gh.failRepoRequests(http.StatusBadGateway)

	_, err := be.AddRawPost(context.Background(), "x", "body")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindBackendFault))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Server Error", apiErr.Message)
	assert.Equal(t, "https://docs.github.com/rest", apiErr.DocumentationURL)
}

func TestDedicatedMediaIsIdempotent(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)
	f := media.NewFile([]byte("GIF89a fake"), "image/gif", "cat pic.gif")

	items, err := be.AddMedia(context.Background(), []*media.File{f})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Created)
	assert.Equal(t, "https://blog.example.net/uploads/"+f.Digest()+"/cat_pic.gif", items[0].URI)
	_, ok := gh.file("static/uploads/" + f.Digest() + "/cat_pic.gif")
	assert.True(t, ok)

	items, err = be.AddMedia(context.Background(), []*media.File{f})
	require.NoError(t, err)
	assert.False(t, items[0].Created)
	assert.EqualValues(t, 1, gh.putCalls.Load())
}

func TestCollectStagedMedia(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, true)

	f := media.NewFile([]byte("\x89PNG fake"), "image/png", "photo.png")
	_, err := be.site.Stager.Stage(f)
	require.NoError(t, err)
	staged := be.site.MediaURIStaging(f)

	body := "---\nphoto: " + staged + "\n---\n\n![x](" + staged + ")\n"
	out, err := be.CollectMediaForPost(context.Background(), "blog/pics", body, []string{staged, "https://elsewhere.example/x.png"})
	require.NoError(t, err)

	collected := "https://blog.example.net/blog/pics/" + f.Digest() + "/photo.png"
	assert.NotContains(t, out, staged)
	assert.Equal(t, 2, strings.Count(out, collected))
	stored, ok := gh.file("content/blog/pics/" + f.Digest() + "/photo.png")
	require.True(t, ok)
	assert.Equal(t, f.Contents, stored)
}

func TestAddRawPostLosingRaceIsDuplicate(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)

	gh.setFile("content/blog/raced/index.md", []byte("committed by someone else"))
	_, err := be.AddRawPost(context.Background(), "blog/raced", "mine")

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDuplicate), "got %v", err)
	stored, _ := gh.file("content/blog/raced/index.md")
	assert.Equal(t, "committed by someone else", string(stored))
}

func TestInstallationTokenNotFoundIsBackendFault(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)
	gh.failTokenRequests(http.StatusNotFound)
	gh.setFile("content/blog/x/index.md", []byte("---\ntitle: x\n---\nbody\n"))

	_, err := be.GetRawPost(context.Background(), "https://blog.example.net/blog/x")
	require.Error(t, err)
	assert.False(t, apperr.IsNotFound(err), "got %v", err)
	assert.True(t, apperr.IsKind(err, apperr.KindBackendFault), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, apperr.Status(err))
	assert.Contains(t, err.Error(), "installation token for owner")

	_, err = be.AddRawPost(context.Background(), "blog/y", "body")
	assert.True(t, apperr.IsKind(err, apperr.KindBackendFault), "got %v", err)
	assert.EqualValues(t, 0, gh.putCalls.Load())
}

func TestCancelledRequestSkipsTokenRefresh(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := be.GetRawPost(ctx, "https://blog.example.net/blog/x")
	require.Error(t, err)
	assert.False(t, apperr.IsNotFound(err), "got %v", err)
	assert.EqualValues(t, 0, gh.listCalls.Load())
	assert.EqualValues(t, 0, gh.tokenCalls.Load())
}

func TestDedicatedMediaLosingRaceConverges(t *testing.T) {
	c := &clock{t: time.Now()}
	gh, srv := newFakeGitHub(t, c, "owner")
	be, _ := newTestBackend(t, srv, c, false)
	f := media.NewFile([]byte("GIF89a fake"), "image/gif", "a.gif")
	repoPath := "static/uploads/" + f.Digest() + "/a.gif"
	gh.commitAfterMiss(repoPath, f.Contents)

	items, err := be.AddMedia(context.Background(), []*media.File{f})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Created)
	assert.Equal(t, "https://blog.example.net/uploads/"+f.Digest()+"/a.gif", items[0].URI)
	assert.EqualValues(t, 1, gh.putCalls.Load())
	body, ok := gh.file(repoPath)
	require.True(t, ok)
	assert.Equal(t, f.Contents, body)
}
