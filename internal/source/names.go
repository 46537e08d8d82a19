package source

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	prosConsRe       = regexp.MustCompile(`Features, Integrations, Pros (?:&|&amp;) Cons`)
	softwareSuffixRe = regexp.MustCompile(`: Software(?:\s+|$)`)
	trailingColonRe  = regexp.MustCompile(`\s*:\s*$`)
	yearSuffixRe     = regexp.MustCompile(`\s+20\d{2}\s*$`)
	yearColonRe      = regexp.MustCompile(`\s+20\d{2}\s*:`)
)

// CleanProductName strips the marketing decorations catalog sites add to
// product headings: "Features, Integrations, Pros & Cons", ": Software", a
// trailing year, a trailing colon and a repeated "Name: Name" prefix.
func CleanProductName(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	s = prosConsRe.ReplaceAllString(s, "")
	s = softwareSuffixRe.ReplaceAllString(s, " ")
	s = trailingColonRe.ReplaceAllString(s, "")
	s = collapseRepeatedWord(s)
	s = yearSuffixRe.ReplaceAllString(s, "")
	s = yearColonRe.ReplaceAllString(s, "")
	s = trailingColonRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// CleanVendorName applies the year and colon cleanup to a vendor name.
func CleanVendorName(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	s = yearSuffixRe.ReplaceAllString(s, "")
	s = yearColonRe.ReplaceAllString(s, "")
	s = trailingColonRe.ReplaceAllString(s, "")
	s = collapseRepeatedWord(s)
	return strings.TrimSpace(s)
}

// collapseRepeatedWord rewrites "Word: Word rest" as "Word rest".
func collapseRepeatedWord(s string) string {
	for from := 0; from < len(s); {
		i := strings.IndexByte(s[from:], ':')
		if i < 0 {
			return s
		}
		i += from
		left := strings.TrimRightFunc(s[:i], unicode.IsSpace)
		word := trailingWord(left)
		right := strings.TrimLeftFunc(s[i+1:], unicode.IsSpace)
		if word != "" && strings.HasPrefix(right, word) {
			s = left + right[len(word):]
			from = len(left)
			continue
		}
		from = i + 1
	}
	return s
}

func trailingWord(s string) string {
	end := len(s)
	start := end
	for start > 0 {
		c := s[start-1]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			start--
			continue
		}
		break
	}
	return s[start:end]
}
