// Package target validates profile references and derives the short handle
// shown in logs.
package target

import (
	"regexp"
	"strings"
)

const DefaultHost = "instagram.com/"

// Extractor knows one host pattern, e.g. "instagram.com/".
type Extractor struct {
	host    string
	display *regexp.Regexp
}

func NewExtractor(host string) *Extractor {
	if host == "" {
		host = DefaultHost
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}
	return &Extractor{
		host:    host,
		display: regexp.MustCompile(regexp.QuoteMeta(host) + `([^/?#]+)`),
	}
}

var defaultExtractor = NewExtractor(DefaultHost)

// DisplayID returns "@<segment>" for the path segment right after the host,
// or ref unchanged when the host is absent. Logging only.
func (e *Extractor) DisplayID(ref string) string {
	m := e.display.FindStringSubmatch(ref)
	if m == nil {
		return ref
	}
	return "@" + m[1]
}

// Accepts reports whether ref contains the host substring.
func (e *Extractor) Accepts(ref string) bool {
	return strings.Contains(ref, e.host)
}

// Parse splits raw textarea content into trimmed lines, keeps the accepted
// ones in order and silently drops everything past max.
func (e *Extractor) Parse(raw string, max int) []string {
	return e.Filter(strings.Split(raw, "\n"), max)
}

// Filter is Parse for an already split list.
func (e *Extractor) Filter(refs []string, max int) []string {
	out := make([]string, 0, len(refs))
	for _, line := range refs {
		line = strings.TrimSpace(line)
		if line == "" || !e.Accepts(line) {
			continue
		}
		if max > 0 && len(out) == max {
			break
		}
		out = append(out, line)
	}
	return out
}

// Count is the number of accepted references before truncation; the UI
// shows it against the cap so users see that extra lines are ignored.
func (e *Extractor) Count(raw string) int {
	return len(e.Filter(strings.Split(raw, "\n"), 0))
}

func DisplayID(ref string) string { return defaultExtractor.DisplayID(ref) }
