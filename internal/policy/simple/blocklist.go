package simple

import (
	"context"
	"net/url"
	"slices"
	"strings"
)

// Blocklist refuses targets whose host matches a configured pattern. A
// pattern is an exact host, or "*.example.com" / ".example.com" to match the
// domain and every subdomain.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist parses patterns, ignoring blanks. It returns nil when nothing
// is left, and a nil Blocklist allows everything.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(b.suffixes, suffix) {
		return
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocked reports whether host matches the list.
func (b *Blocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Allowed implements catalog.CompliancePolicy.
func (b *Blocklist) Allowed(_ context.Context, _, targetURL string) bool {
	target, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	return !b.Blocked(target.Hostname())
}
