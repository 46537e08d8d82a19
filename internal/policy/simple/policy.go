// Package simple holds compliance policies that need no network access.
package simple

import (
	"context"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// SameSite allows a target only when it is served by the origin's host or
// one of its subdomains.
type SameSite struct{}

// Allowed implements catalog.CompliancePolicy.
func (SameSite) Allowed(_ context.Context, originBaseURL, targetURL string) bool {
	origin, err := url.Parse(originBaseURL)
	if err != nil {
		return false
	}
	target, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return false
	}
	return sameSite(origin.Hostname(), target.Hostname())
}

func sameSite(originHost, targetHost string) bool {
	o := strings.TrimPrefix(strings.ToLower(originHost), "www.")
	t := strings.ToLower(targetHost)
	if o == "" || t == "" {
		return false
	}
	return t == o || strings.HasSuffix(t, "."+o)
}

// All allows a URL only when every policy allows it. Evaluation stops at the
// first refusal.
type All []catalog.CompliancePolicy

// Allowed implements catalog.CompliancePolicy.
func (a All) Allowed(ctx context.Context, originBaseURL, targetURL string) bool {
	for _, p := range a {
		if p == nil {
			continue
		}
		if !p.Allowed(ctx, originBaseURL, targetURL) {
			return false
		}
	}
	return true
}
