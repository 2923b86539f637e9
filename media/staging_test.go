package media

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eringen/interpersonal/apperr"
)

func TestStageIsIdempotent(t *testing.T) {
	s, err := NewStager(filepath.Join(t.TempDir(), "staging"))
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	f := NewFile([]byte("picture"), "image/jpeg", "pic.jpg")

	created, err := s.Stage(f)
	if err != nil || !created {
		t.Fatalf("first Stage = %v, %v; want created", created, err)
	}
	created, err = s.Stage(f)
	if err != nil || created {
		t.Fatalf("second Stage = %v, %v; want existing", created, err)
	}

	got, err := os.ReadFile(filepath.Join(s.Root(), f.Digest(), "pic.jpeg"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(got) != "picture" {
		t.Errorf("staged contents = %q", got)
	}
}

func TestStageConcurrentIdenticalUploads(t *testing.T) {
	s, err := NewStager(t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	contents := make([]byte, 256<<10)
	for i := range contents {
		contents[i] = byte(i)
	}

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.Stage(NewFile(contents, "image/png", "big.png"))
			if err != nil {
				t.Errorf("Stage: %v", err)
				return
			}
			results <- created
		}()
	}
	wg.Wait()
	close(results)

	n := 0
	for created := range results {
		if created {
			n++
		}
	}
	if n != 1 {
		t.Errorf("expected exactly one writer to create the file, got %d", n)
	}

	f, err := s.Open(NewFile(contents, "image/png", "").Digest(), "big.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(f.Contents) != len(contents) {
		t.Errorf("staged file is %d bytes, want %d", len(f.Contents), len(contents))
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), f.Digest()))
	if len(entries) != 1 {
		t.Errorf("expected only the final file in the digest dir, found %d entries", len(entries))
	}
}

func TestOpenMissingAndInvalid(t *testing.T) {
	s, err := NewStager(t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	digest := NewFile([]byte("nothing"), "text/plain", "").Digest()

	tests := []struct{ digest, filename string }{
		{digest, "absent.txt"},
		{"not-a-digest", "a.txt"},
		{digest, "../escape.txt"},
	}
	for _, tt := range tests {
		if _, err := s.Open(tt.digest, tt.filename); !apperr.IsNotFound(err) {
			t.Errorf("Open(%q, %q) = %v, want not found", tt.digest, tt.filename, err)
		}
	}
}

func TestOpenKeepsStagedFilename(t *testing.T) {
	s, err := NewStager(t.TempDir())
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	f := NewFile([]byte("heic bytes"), "image/heic", "phone.heic")
	if _, err := s.Stage(f); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	got, err := s.Open(f.Digest(), f.Filename())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Filename() != f.Filename() || got.Digest() != f.Digest() {
		t.Errorf("reopened file is %s/%s, want %s/%s", got.Digest(), got.Filename(), f.Digest(), f.Filename())
	}
}
