package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/changhorizon/content-collector/internal/collector"
)

type fakePageStore struct {
	collector.PageStore

	exists    bool
	existsErr error
}

func (f *fakePageStore) ParsedPageExists(_ context.Context, _, _, _ string) (bool, error) {
	return f.exists, f.existsErr
}

func siteParams(priority string, allow, deny []string) collector.Params {
	return collector.Params{
		Site: collector.SiteParams{Priority: priority, Allow: allow, Deny: deny},
	}
}

func TestDecideDuplicateInTask(t *testing.T) {
	t.Parallel()

	p := NewPersistencePolicy(&fakePageStore{exists: true})
	d, err := p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("black", nil, nil), "https://shop.example.com/a")
	require.NoError(t, err)
	require.Equal(t, VerdictSkip, d.Verdict)
	require.Equal(t, collector.LedgerSkipped, d.Result)
	require.Equal(t, "duplicate_in_task", d.Reason)
	require.False(t, d.ShouldPersist())
}

func TestDecideStoreError(t *testing.T) {
	t.Parallel()

	p := NewPersistencePolicy(&fakePageStore{existsErr: errors.New("db down")})
	_, err := p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("black", nil, nil), "https://shop.example.com/a")
	require.Error(t, err)
}

func TestDecideBlackPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allow   []string
		deny    []string
		url     string
		verdict Verdict
		reason  string
	}{
		{
			name:    "no rules allows everything",
			url:     "https://shop.example.com/anything",
			verdict: VerdictAllow,
			reason:  "persist_allowed",
		},
		{
			name:    "deny rule wins over allow rule",
			allow:   []string{"/products/*"},
			deny:    []string{"/products/secret*"},
			url:     "https://shop.example.com/products/secret/1",
			verdict: VerdictDeny,
			reason:  "path_denied",
		},
		{
			name:    "allow gate skips unlisted paths",
			allow:   []string{"/products/*"},
			url:     "https://shop.example.com/checkout",
			verdict: VerdictSkip,
			reason:  "path_not_allowed",
		},
		{
			name:    "deny everything with a regex rule",
			deny:    []string{".*"},
			url:     "https://shop.example.com/",
			verdict: VerdictDeny,
			reason:  "path_denied",
		},
		{
			name:    "empty rule entries are ignored",
			allow:   []string{""},
			deny:    []string{""},
			url:     "https://shop.example.com/a",
			verdict: VerdictAllow,
			reason:  "persist_allowed",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewPersistencePolicy(&fakePageStore{})
			d, err := p.Decide(context.Background(), "t1", "shop.example.com",
				siteParams("black", tt.allow, tt.deny), tt.url)
			require.NoError(t, err)
			require.Equal(t, tt.verdict, d.Verdict)
			require.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecideWhitePriority(t *testing.T) {
	t.Parallel()

	// Under white priority the allow gate is checked first, so a path
	// outside the allow list is skipped even when a deny rule also matches.
	p := NewPersistencePolicy(&fakePageStore{})
	d, err := p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("white", []string{"/products/*"}, []string{".*"}),
		"https://shop.example.com/checkout")
	require.NoError(t, err)
	require.Equal(t, VerdictSkip, d.Verdict)
	require.Equal(t, "path_not_allowed", d.Reason)

	d, err = p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("white", []string{"/products/*"}, []string{"/products/secret*"}),
		"https://shop.example.com/products/secret/1")
	require.NoError(t, err)
	require.Equal(t, VerdictDeny, d.Verdict)
	require.Equal(t, "path_denied", d.Reason)

	// An empty allow list in white mode names nothing, so every path
	// is skipped.
	d, err = p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("white", nil, nil),
		"https://shop.example.com/anything")
	require.NoError(t, err)
	require.Equal(t, VerdictSkip, d.Verdict)
	require.Equal(t, "path_not_allowed", d.Reason)
}

func TestDecideInvalidPriorityDefaultsToBlack(t *testing.T) {
	t.Parallel()

	p := NewPersistencePolicy(&fakePageStore{})
	d, err := p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("grey", nil, []string{"/admin/*"}),
		"https://shop.example.com/admin/users")
	require.NoError(t, err)
	require.Equal(t, VerdictDeny, d.Verdict)
}

func TestDecideMatchesDecodedPath(t *testing.T) {
	t.Parallel()

	p := NewPersistencePolicy(&fakePageStore{})
	d, err := p.Decide(context.Background(), "t1", "shop.example.com",
		siteParams("black", nil, []string{"/sale items*"}),
		"https://shop.example.com/Sale%20Items/bags")
	require.NoError(t, err)
	require.Equal(t, VerdictDeny, d.Verdict)
}

func TestDecodedPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/", decodedPath("https://shop.example.com"))
	require.Equal(t, "/a b", decodedPath("https://shop.example.com/a%20b"))
	require.Equal(t, "/upper", decodedPath("https://shop.example.com/UPPER"))
	require.Equal(t, "/", decodedPath("://bad"))
}
