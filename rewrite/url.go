package rewrite

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/kiwix/warc2zim-go/zimpath"
)

// ArticleURLRewriter turns URLs found inside one article into paths
// relative to that article's own emitted location. The optional baseHref
// argument on Rewrite/GetItemPath covers pages carrying a <base href>
// tag, whose references resolve against that base instead of the
// document's own URL.
type ArticleURLRewriter struct {
	articleURL string
	basePath   string // leading-slash directory path, e.g. "/example.com/dir/"
	knownURLs  map[string]struct{}
}

// NewArticleURLRewriter builds a rewriter for the article at articleURL.
// knownURLs holds the normalized (fragment-stripped) paths of every entry
// already known to exist in the archive; it may be nil if rewriteAll is
// always requested (the common case: only <a href> to non-media content
// uses rewriteAll=false to avoid dead-ending into URLs outside the
// archive).
func NewArticleURLRewriter(articleURL string, knownURLs map[string]struct{}) (*ArticleURLRewriter, error) {
	if !strings.HasPrefix(articleURL, "http://") && !strings.HasPrefix(articleURL, "https://") {
		return nil, fmt.Errorf("rewrite: article URL %q is not absolute http(s)", articleURL)
	}
	normalized, err := zimpath.Normalize(articleURL)
	if err != nil {
		return nil, err
	}
	basePath := "/" + pathOf(normalized)
	if !strings.HasSuffix(basePath, "/") {
		basePath = path.Dir(basePath)
		if !strings.HasSuffix(basePath, "/") {
			basePath += "/"
		}
	}
	return &ArticleURLRewriter{
		articleURL: articleURL,
		basePath:   basePath,
		knownURLs:  knownURLs,
	}, nil
}

// nonFetchSchemes lists URL schemes that never resolve to another
// archive entry and must pass through untouched.
var nonFetchSchemes = []string{
	"data:", "blob:", "mailto:", "tel:", "javascript:", "sms:", "about:", "ftp:",
}

func isNonFetchScheme(rawURL string) bool {
	for _, scheme := range nonFetchSchemes {
		if strings.HasPrefix(rawURL, scheme) {
			return true
		}
	}
	return false
}

func pathOf(normalizedPath string) string {
	if i := strings.IndexByte(normalizedPath, '?'); i >= 0 {
		return normalizedPath[:i]
	}
	return normalizedPath
}

// Rewrite resolves rawURL against the article's URL (or baseHref, if
// non-empty) and returns the path it should point to within the archive.
//
// If rewriteAll is false, the URL is only rewritten when it is already
// known to be an archive entry: plain <a href> links to pages that were
// never captured fall through to the live URL instead of 404ing inside
// the archive.
func (r *ArticleURLRewriter) Rewrite(rawURL string, rewriteAll bool, baseHref string) (string, error) {
	if isNonFetchScheme(rawURL) {
		return rawURL, nil
	}

	base := r.articleURL
	if baseHref != "" {
		resolved, err := resolveURL(r.articleURL, baseHref)
		if err == nil {
			base = resolved
		}
	}

	absolute, err := resolveURL(base, rawURL)
	if err != nil {
		return rawURL, nil //nolint:nilerr // unparsable URLs pass through unchanged
	}

	normalized, err := zimpath.Normalize(absolute)
	if err != nil {
		return rawURL, nil //nolint:nilerr
	}

	if rewriteAll || r.isKnown(normalized) {
		return r.FromNormalized(normalized)
	}
	return rawURL, nil
}

// GetItemPath resolves rawURL against baseHref (or the article's own URL)
// and returns its normalized ZimPath; unlike Rewrite it is never made
// relative to the current article. Used for bookkeeping (e.g.
// registering a script URL as a JS module in the archive-wide
// JSModuleSet, which is keyed by absolute ZimPath) rather than for
// emission into document text.
func (r *ArticleURLRewriter) GetItemPath(rawURL string, baseHref string) (string, error) {
	if isNonFetchScheme(rawURL) {
		return rawURL, nil
	}

	base := r.articleURL
	if baseHref != "" {
		resolved, err := resolveURL(r.articleURL, baseHref)
		if err == nil {
			base = resolved
		}
	}

	absolute, err := resolveURL(base, rawURL)
	if err != nil {
		return "", err
	}

	return zimpath.Normalize(absolute)
}

func (r *ArticleURLRewriter) isKnown(normalized string) bool {
	if r.knownURLs == nil {
		return false
	}
	_, ok := r.knownURLs[zimpath.WithoutFragment(normalized)]
	return ok
}

// FromNormalized converts an already-normalized ZIM path into a path
// relative to this article's own location, URL-encoding it for embedding
// back into a document.
func (r *ArticleURLRewriter) FromNormalized(normalizedPath string) (string, error) {
	full := "/" + normalizedPath
	query := ""
	if i := strings.IndexByte(full, '?'); i >= 0 {
		query = full[i:]
		full = full[:i]
	}

	slashEnding := strings.HasSuffix(full, "/")
	rel, err := relativePath(r.basePath, full)
	if err != nil {
		return "", err
	}
	// rel == "." means full resolves to the article's own directory; that
	// collapses to "." exactly, not "./" even when full ends in "/".
	if slashEnding && rel != "." && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}

	return escapeKeepingSlashHash(rel + query), nil
}

// relativePath computes the relative path from base (a directory, always
// ending in "/") to target; both are absolute, POSIX-style paths, and
// the upward ".." count never climbs past the root.
func relativePath(base, target string) (string, error) {
	baseParts := splitNonEmpty(base)
	targetParts := splitNonEmpty(target)

	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}

	up := len(baseParts) - common
	down := targetParts[common:]

	var parts []string
	for i := 0; i < up; i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, down...)

	if len(parts) == 0 {
		return ".", nil
	}
	return strings.Join(parts, "/"), nil
}

func splitNonEmpty(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// escapeKeepingSlashHash percent-encodes a relative archive path for
// embedding in a document: everything outside unreserved characters,
// "/" and "#" is escaped, including "?", because a normalized path's
// query part belongs to the entry key, not to a live URL the browser
// should split.
func escapeKeepingSlashHash(s string) string {
	const upperhex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '/' || c == '#' || c == '_' || c == '.' || c == '-' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

// resolveURL joins ref against base per RFC 3986 reference resolution.
func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
