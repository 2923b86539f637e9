package media

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"

	"github.com/eringen/interpersonal/apperr"
)

var reDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Stager is a local directory holding uploads until they are collected into
// a post. Files live at {root}/{digest}/{filename}.
type Stager struct {
	root string
}

// NewStager creates the staging directory when it does not exist.
func NewStager(root string) (*Stager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{root: root}, nil
}

// Root returns the staging directory.
func (s *Stager) Root() string {
	return s.root
}

// Path returns the location of a staged file after validating both parts.
func (s *Stager) Path(digest, filename string) (string, error) {
	if !reDigest.MatchString(digest) {
		return "", apperr.NotFound(fmt.Sprintf("Invalid staged media digest '%s'", digest))
	}
	if filename == "" || filename != SecureFilename(filename) {
		return "", apperr.NotFound(fmt.Sprintf("Invalid staged media filename '%s'", filename))
	}
	return filepath.Join(s.root, digest, filename), nil
}

// Stage writes f into the staging area. Created is false when an identical
// file was already staged. Writers of the same digest are serialized with a
// file lock and the file appears atomically through a rename.
func (s *Stager) Stage(f *File) (bool, error) {
	target, err := s.Path(f.Digest(), f.Filename())
	if err != nil {
		return false, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create staging subdir: %w", err)
	}

	lock := flock.New(dir + ".lock")
	if err := lock.Lock(); err != nil {
		return false, fmt.Errorf("lock staging subdir: %w", err)
	}
	defer lock.Unlock()

	if _, err := os.Stat(target); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat staged file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(f.Contents); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write staged file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close staged file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return false, fmt.Errorf("move staged file into place: %w", err)
	}
	return true, nil
}

// Open loads a staged file. The returned File keeps the staged filename.
func (s *Stager) Open(digest, filename string) (*File, error) {
	p, err := s.Path(digest, filename)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound(fmt.Sprintf("No staged media %s/%s", digest, filename))
	}
	if err != nil {
		return nil, fmt.Errorf("read staged file: %w", err)
	}
	f := NewFile(contents, mime.TypeByExtension(path.Ext(filename)), filename)
	f.filename = filename
	return f, nil
}
