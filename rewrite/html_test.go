package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rewriterFor(t *testing.T, articleURL string, known map[string]struct{}) *ArticleURLRewriter {
	t.Helper()
	r, err := NewArticleURLRewriter(articleURL, known)
	assert.NoError(t, err)
	return r
}

func TestRewriteHTMLRewritesKnownLink(t *testing.T) {
	known := map[string]struct{}{
		"kiwix.org/":              {},
		"exemple.com/a/long/path": {},
	}
	r := rewriterFor(t, "http://kiwix.org/", known)

	result, err := RewriteHTML([]byte(`<a href="http://exemple.com/a/long/path">x</a>`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<a href="../exemple.com/a/long/path">x</a>`, string(result.Content))
}

func TestRewriteHTMLLeavesUnknownLinkAlone(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", map[string]struct{}{"kiwix.org/": {}})

	result, err := RewriteHTML([]byte(`<a href="http://example.com/not/captured">x</a>`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<a href="http://example.com/not/captured">x</a>`, string(result.Content))
}

func TestRewriteHTMLCapturesTitleFromFirstTitleTagOnly(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<title> Hello </title><body><title>Ignored</title></body>`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "Hello", result.Title)
}

func TestRewriteHTMLDropsIntegrityAttribute(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<script src="./app.js" integrity="sha384-x"></script>`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<script src="app.js"></script>`, string(result.Content))
}

func TestRewriteHTMLRewritesMetaCharset(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<meta charset="iso-8859-1">`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<meta charset="UTF-8">`, string(result.Content))
}

func TestRewriteHTMLDropsBaseTagWithOnlyHref(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/dir/page", nil)

	result, err := RewriteHTML([]byte(`<base href="http://kiwix.org/other/">`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "", string(result.Content))
}

func TestRewriteHTMLKeepsBaseTagWithOtherAttributes(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/dir/page", nil)

	result, err := RewriteHTML([]byte(`<base href="http://kiwix.org/other/" target="_blank">`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<base target="_blank">`, string(result.Content))
}

func TestRewriteHTMLPreservesCommentsAndDoctype(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	input := `<!DOCTYPE html><!-- a comment --><body></body>`
	result, err := RewriteHTML([]byte(input), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, input, string(result.Content))
}

func TestRewriteHTMLInsertsHeadInsertAfterHeadOpens(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<head><title>T</title></head>`), r, "<script>1</script>", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<head><script>1</script><title>T</title></head>`, string(result.Content))
}

func TestRewriteHTMLInsertsPostHeadInsertBeforeHeadCloses(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<head><title>T</title></head>`), r, "<script>pre</script>", `<link rel="stylesheet" href="custom.css">`, nil)
	assert.NoError(t, err)
	assert.Equal(t, `<head><script>pre</script><title>T</title><link rel="stylesheet" href="custom.css"></head>`, string(result.Content))
}

func TestRewriteHTMLRewritesOnxxxHandler(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<body onload="return this"></body>`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Contains(t, string(result.Content), "_____WB$wombat$check$this$function_____(this)")
}

func TestRewriteHTMLRewritesStyleAttribute(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/article", nil)

	result, err := RewriteHTML([]byte(`<div style="background: url('http://kiwix.org/super/img')"></div>`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<div style="background: url(&#34;super/img&#34;)"></div>`, string(result.Content))
}

func TestRewriteHTMLRewritesSrcset(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/dir/page", nil)

	result, err := RewriteHTML([]byte(`<img srcset="./a.png 1x, ./b.png 2x">`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<img srcset="a.png 1x, b.png 2x">`, string(result.Content))
}

func TestRewriteHTMLNotifiesJSModuleSetForModuleScriptSrc(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/dir/page", nil)

	var notified []string
	_, err := RewriteHTML([]byte(`<script type="module" src="./app.js"></script>`), r, "", "", func(path string) {
		notified = append(notified, path)
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"kiwix.org/dir/app.js"}, notified)
}

func TestRewriteHTMLRewritesMetaRefresh(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/dir/page", map[string]struct{}{"kiwix.org/dir/other": {}})

	result, err := RewriteHTML([]byte(`<meta http-equiv="refresh" content="5; url=http://kiwix.org/dir/other">`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<meta http-equiv="refresh" content="5;url=other">`, string(result.Content))
}

func TestRewriteHTMLRewritesMetaContentTypeCharset(t *testing.T) {
	r := rewriterFor(t, "http://kiwix.org/", nil)

	result, err := RewriteHTML([]byte(`<meta http-equiv="content-type" content="text/html; charset=iso-8859-1">`), r, "", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, `<meta http-equiv="content-type" content="text/html; charset=UTF-8">`, string(result.Content))
}
