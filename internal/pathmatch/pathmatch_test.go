package pathmatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatcherGlobRules(t *testing.T) {
	t.Parallel()

	m := New()
	require.True(t, m.Matches("/products/bags", []string{"/products/*"}))
	require.True(t, m.Matches("/products/bags/leather", []string{"/products/**"}))
	require.False(t, m.Matches("/checkout", []string{"/products/*"}))
}

func TestMatcherRegexRules(t *testing.T) {
	t.Parallel()

	m := New()
	// ".*" is not a meaningful glob but is a regex that matches any path.
	require.True(t, m.Matches("/anything/at/all", []string{".*"}))
	require.True(t, m.Matches("/item/42", []string{"/item/[0-9]+"}))
	require.False(t, m.Matches("/item/abc", []string{"/item/[0-9]+"}))
}

func TestMatcherCaseInsensitive(t *testing.T) {
	t.Parallel()

	m := New()
	// Callers lowercase paths; patterns are lowercased before compiling.
	require.True(t, m.Matches("/products/bags", []string{"/PRODUCTS/*"}))
}

func TestMatcherAnchoredRegex(t *testing.T) {
	t.Parallel()

	m := New()
	// The regex form is fully anchored; partial matches do not count.
	require.False(t, m.Matches("/products/bags", []string{"products"}))
	require.True(t, m.Matches("/products", []string{"/products"}))
}

func TestMatcherInvalidRulesIgnored(t *testing.T) {
	t.Parallel()

	m := New()
	require.False(t, m.Matches("/a", []string{"([unclosed"}))
	require.True(t, m.Matches("/a", []string{"([unclosed", "/a"}))
}

func TestMatcherMultipleRules(t *testing.T) {
	t.Parallel()

	m := New()
	rules := []string{"/cart/*", "/checkout/*", "/admin/**"}
	require.True(t, m.Matches("/checkout/pay", rules))
	require.True(t, m.Matches("/admin/users/1", rules))
	require.False(t, m.Matches("/products/1", rules))
}
