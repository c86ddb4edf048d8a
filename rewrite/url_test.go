package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArticleURLRewriterRelativizesKnownLink(t *testing.T) {
	known := map[string]struct{}{
		"kiwix.org/":              {},
		"exemple.com/a/long/path": {},
	}
	r, err := NewArticleURLRewriter("http://kiwix.org/", known)
	require.NoError(t, err)

	out, err := r.Rewrite("http://exemple.com/a/long/path", false, "")
	require.NoError(t, err)
	assert.Equal(t, "../exemple.com/a/long/path", out)
}

func TestArticleURLRewriterLeavesUnknownLinkUntouchedWhenNotRewriteAll(t *testing.T) {
	r, err := NewArticleURLRewriter("http://kiwix.org/", map[string]struct{}{})
	require.NoError(t, err)

	out, err := r.Rewrite("http://not-captured.example/page", false, "")
	require.NoError(t, err)
	assert.Equal(t, "http://not-captured.example/page", out)
}

func TestArticleURLRewriterPassesThroughNonFetchSchemes(t *testing.T) {
	r, err := NewArticleURLRewriter("http://kiwix.org/", nil)
	require.NoError(t, err)

	for _, u := range []string{
		"data:image/png;base64,AAAA",
		"blob:https://kiwix.org/abcd",
		"mailto:hello@example.com",
		"tel:+1234567890",
	} {
		out, err := r.Rewrite(u, true, "")
		require.NoError(t, err)
		assert.Equal(t, u, out)
	}
}

func TestArticleURLRewriterSameDirectorySiblingIsBareName(t *testing.T) {
	r, err := NewArticleURLRewriter("http://kiwix.org/dir/page", nil)
	require.NoError(t, err)

	out, err := r.Rewrite("http://kiwix.org/dir/other", true, "")
	require.NoError(t, err)
	assert.Equal(t, "other", out)
}

func TestArticleURLRewriterOwnDirectoryBecomesDot(t *testing.T) {
	r, err := NewArticleURLRewriter("http://kiwix.org/dir/page", nil)
	require.NoError(t, err)

	out, err := r.Rewrite("http://kiwix.org/dir/", true, "")
	require.NoError(t, err)
	assert.Equal(t, ".", out)
}

func TestArticleURLRewriterGetItemPathReturnsAbsoluteZimPath(t *testing.T) {
	r, err := NewArticleURLRewriter("http://kiwix.org/some/path/", nil)
	require.NoError(t, err)

	p, err := r.GetItemPath("https://example.com/file.js", "")
	require.NoError(t, err)
	assert.Equal(t, "example.com/file.js", p)
}

func TestArticleURLRewriterGetItemPathPassesThroughNonFetchScheme(t *testing.T) {
	r, err := NewArticleURLRewriter("http://kiwix.org/", nil)
	require.NoError(t, err)

	p, err := r.GetItemPath("mailto:a@b.com", "")
	require.NoError(t, err)
	assert.Equal(t, "mailto:a@b.com", p)
}
