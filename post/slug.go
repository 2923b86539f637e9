package post

import (
	"regexp"
	"strings"
	"time"
)

const slugWords = 11

var (
	reNonWord = regexp.MustCompile(`[^\p{L}\p{N}_ ]+`)
	reSpaces  = regexp.MustCompile(` +`)
)

// Slugify derives a URL slug from the first words of text.
func Slugify(text string) string {
	return SlugifyAt(text, time.Now().UTC())
}

// SlugifyAt lower-cases text, keeps its first eleven words, drops non-word
// characters and joins the words with hyphens. When nothing is left the slug
// is now formatted as YYYYMMDD-HHMM.
func SlugifyAt(text string, now time.Time) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > slugWords {
		words = words[:slugWords]
	}
	s := reNonWord.ReplaceAllString(strings.Join(words, " "), "")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	if s == "" {
		return now.Format("20060102-1504")
	}
	return strings.ReplaceAll(s, " ", "-")
}
