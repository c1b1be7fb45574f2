// Package videoid extracts canonical 11-character video identifiers from
// YouTube URLs. Extraction is pure string matching with no network I/O.
package videoid

import "regexp"

// Length is the fixed length of a canonical video identifier.
const Length = 11

// bare matches a string that is already a well-formed video identifier.
var bare = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// whitespace inside pasted URLs is stripped before matching.
var whitespace = regexp.MustCompile(`\s+`)

// patterns are tried in priority order. The canonical watch-page form wins
// over short-link, embed, legacy /v/ and mobile-domain forms.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?(?:[^#\s]*[&?])?v=([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/embed/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/v/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`m\.youtube\.com/watch\?(?:[^#\s]*[&?])?v=([A-Za-z0-9_-]{11})`),
}

// Extract returns the video identifier embedded in url, which may be a full
// watch/short-link/embed/mobile URL or a bare identifier. The second return
// is false when no identifier can be determined. Malformed input never
// panics; empty and whitespace-only input simply does not match.
func Extract(url string) (string, bool) {
	if url == "" {
		return "", false
	}

	clean := whitespace.ReplaceAllString(url, "")
	if clean == "" {
		return "", false
	}

	for _, p := range patterns {
		if m := p.FindStringSubmatch(clean); m != nil {
			return m[1], true
		}
	}

	// No template matched; the whole input may already be an identifier.
	if bare.MatchString(clean) {
		return clean, true
	}

	return "", false
}

// Valid reports whether s is a well-formed video identifier.
func Valid(s string) bool {
	return bare.MatchString(s)
}

// WatchURL returns the canonical watch-page URL for a video identifier.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
