package source

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text returns the selection's text with runs of whitespace collapsed.
func Text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// First returns the first element matched by the earliest selector that
// matches anything, or an empty selection.
func First(doc *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, s := range selectors {
		if found := doc.Find(s); found.Length() > 0 {
			return found.First()
		}
	}
	return doc.Slice(0, 0)
}

// FirstText is Text(First(...)).
func FirstText(doc *goquery.Selection, selectors ...string) string {
	return Text(First(doc, selectors...))
}

// FirstMatching returns the first element across selectors whose text
// matches re.
func FirstMatching(doc *goquery.Selection, re *regexp.Regexp, selectors ...string) *goquery.Selection {
	for _, s := range selectors {
		var hit *goquery.Selection
		doc.Find(s).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if re.MatchString(el.Text()) {
				hit = el
				return false
			}
			return true
		})
		if hit != nil {
			return hit
		}
	}
	return nil
}

var (
	decimalRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	parenIntRe  = regexp.MustCompile(`\((\d+)\)`)
	leadingInt  = regexp.MustCompile(`\d+`)
	thousandSep = strings.NewReplacer(",", "")
)

// ParseFloat returns the first decimal number in s, or 0.
func ParseFloat(s string) float64 {
	m := decimalRe.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseParenCount returns N from the first "(N)" in s, ignoring thousands
// separators, or 0.
func ParseParenCount(s string) int {
	m := parenIntRe.FindStringSubmatch(thousandSep.Replace(s))
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ParseInt returns the first integer in s, ignoring thousands separators, or 0.
func ParseInt(s string) int {
	m := leadingInt.FindString(thousandSep.Replace(s))
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

// LargestSrc returns the last candidate of an img srcset, falling back to src.
func LargestSrc(img *goquery.Selection) string {
	if srcset, ok := img.Attr("srcset"); ok {
		var last string
		for _, part := range strings.Split(srcset, ",") {
			if fields := strings.Fields(part); len(fields) > 0 {
				last = fields[0]
			}
		}
		if last != "" {
			return last
		}
	}
	src, _ := img.Attr("src")
	return strings.TrimSpace(src)
}

// Unique drops empty and repeated strings, keeping first-seen order.
func Unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
