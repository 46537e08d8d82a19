package simple

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

func TestSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		origin string
		target string
		want   bool
	}{
		{"same host", "https://www.capterra.com", "https://www.capterra.com/p/1/x/", true},
		{"bare apex", "https://www.capterra.com", "https://capterra.com/categories/", true},
		{"subdomain", "https://www.softwareadvice.com", "https://reviews.softwareadvice.com/x", true},
		{"case folded", "https://www.capterra.com", "https://WWW.CAPTERRA.COM/p/1/", true},
		{"other site", "https://www.capterra.com", "https://vendor.example.com/", false},
		{"lookalike suffix", "https://www.capterra.com", "https://evilcapterra.com/", false},
		{"non http scheme", "https://www.capterra.com", "mailto:sales@capterra.com", false},
		{"bad target", "https://www.capterra.com", "http://%zz", false},
		{"empty origin", "", "https://www.capterra.com/", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SameSite{}.Allowed(context.Background(), tc.origin, tc.target))
		})
	}
}

type fixedPolicy struct {
	allow bool
	calls *int
}

func (p fixedPolicy) Allowed(context.Context, string, string) bool {
	*p.calls++
	return p.allow
}

func TestAllStopsAtFirstRefusal(t *testing.T) {
	t.Parallel()

	var first, second int
	all := All{fixedPolicy{allow: false, calls: &first}, nil, fixedPolicy{allow: true, calls: &second}}
	require.False(t, all.Allowed(context.Background(), "o", "t"))
	require.Equal(t, 1, first)
	require.Zero(t, second)

	require.True(t, All{}.Allowed(context.Background(), "o", "t"))
	var _ catalog.CompliancePolicy = All{}
	var _ catalog.CompliancePolicy = SameSite{}
}
