package aqua

import (
	"regexp"
	"strings"
)

// unknownRegion is returned when no region code can be extracted.
const unknownRegion = "unknown"

var (
	// regionPattern matches the preferred "c-<aaa>[<digits>]-" shape, e.g.
	// "c-gru20-abc.example" -> "gru".
	regionPattern = regexp.MustCompile(`^c-([a-z]{3})[0-9]*-`)
	// regionFallbackPattern matches any "-aaa[digits]-" token anywhere in
	// the first label.
	regionFallbackPattern = regexp.MustCompile(`-([a-z]{3})[0-9]*-`)
	// trailingDigits strips trailing digits from the first label as a last
	// resort fallback.
	trailingDigits = regexp.MustCompile(`[0-9]+$`)
)

// extractRegion derives a short region code from a worker-observed voice
// endpoint hostname. It strips scheme/path/port, lowercases
// the first label, and applies the fallback chain in order. Unknown input
// yields "unknown", never an error — region affinity degrades gracefully.
func extractRegion(endpoint string) string {
	host := stripSchemeAndPath(endpoint)
	host = stripPort(host)
	if host == "" {
		return unknownRegion
	}

	firstLabel := host
	if i := strings.IndexByte(host, '.'); i >= 0 {
		firstLabel = host[:i]
	}
	firstLabel = strings.ToLower(firstLabel)

	if m := regionPattern.FindStringSubmatch(firstLabel); m != nil {
		return m[1]
	}
	if m := regionFallbackPattern.FindStringSubmatch(firstLabel); m != nil {
		return m[1]
	}
	stripped := trailingDigits.ReplaceAllString(firstLabel, "")
	stripped = strings.TrimRight(stripped, "-")
	if len(stripped) == 3 {
		return stripped
	}
	return unknownRegion
}

func stripSchemeAndPath(endpoint string) string {
	s := endpoint
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
