package audio

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	slugSeparators = regexp.MustCompile(`[\s_]+`)
	slugInvalid    = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes     = regexp.MustCompile(`-+`)
)

// DefaultSlugLength caps slugs used in file names
const DefaultSlugLength = 100

// Slug lowercases text and keeps only [a-z0-9-], collapsing separators.
// The result is at most maxLength bytes and never starts or ends with a dash.
func Slug(text string, maxLength int) string {
	s := strings.ToLower(text)
	s = slugSeparators.ReplaceAllString(s, "-")
	s = slugInvalid.ReplaceAllString(s, "")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if maxLength > 0 && len(s) > maxLength {
		s = strings.TrimRight(s[:maxLength], "-")
	}
	return s
}

// URLHash returns the first n hex characters of sha1(url)
func URLHash(url string, n int) string {
	sum := sha1.Sum([]byte(url))
	h := hex.EncodeToString(sum[:])
	if n > 0 && n < len(h) {
		return h[:n]
	}
	return h
}
