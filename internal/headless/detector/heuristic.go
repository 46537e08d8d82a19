// Package detector decides when a plain HTTP fetch must be retried in a
// headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

const defaultThreshold = 2048

// Heuristic promotes responses that look like an unrendered client-side shell.
type Heuristic struct {
	BodyLengthThreshold int
	// Expect lists byte markers per page kind. A 200 response of that kind
	// containing none of them is promoted.
	Expect map[catalog.PageKind][][]byte
}

// NewHeuristic creates a detector. A zero threshold selects 2 KiB.
func NewHeuristic(threshold int, expect map[catalog.PageKind][]string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	h := &Heuristic{BodyLengthThreshold: threshold, Expect: map[catalog.PageKind][][]byte{}}
	for kind, markers := range expect {
		for _, m := range markers {
			if m == "" {
				continue
			}
			h.Expect[kind] = append(h.Expect[kind], []byte(strings.ToLower(m)))
		}
	}
	return h
}

var shellMarkers = [][]byte{
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte(`id="__next"></div>`),
}

// ShouldPromote reports whether resp needs a headless render.
func (h *Heuristic) ShouldPromote(kind catalog.PageKind, resp catalog.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(lower) {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	expected := h.Expect[kind]
	if len(expected) == 0 {
		return false
	}
	for _, marker := range expected {
		if bytes.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the lower-cased document.
func scriptDensityHigh(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}
	openTag := []byte("<script")
	closeTag := []byte("</script>")

	covered := 0
	pos := 0
	for {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := bytes.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := bytes.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
