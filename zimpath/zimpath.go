// Package zimpath turns arbitrary URLs into the normalized, fuzzy-reduced
// path strings used as ZIM entry keys.
//
// A ZIM path has no scheme and no leading slash: "example.com/path?a=b". It
// is derived from a URL by dropping the scheme, folding the host into the
// path, and then running the result through the fuzzy-reduction rule table
// (fuzzy_rules.yaml, loaded by fuzzy.go) so that structurally-equivalent dynamic URLs (video manifests,
// paginated API calls, ...) collapse onto one stable entry.
package zimpath

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// Normalize converts a URL string into its canonical ZIM path: scheme
// dropped, host folded into the path, and fuzzy rules applied.
//
//	Normalize("http://example.com/path/to/article?foo=bar")
//	  == "example.com/path/to/article?foo=bar"
func Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	path := decodePath(u.EscapedPath())
	if u.Opaque != "" {
		path = u.Opaque
	}
	if u.Host != "" {
		host, err := toUnicodeHost(u.Hostname())
		if err != nil {
			host = strings.ToLower(u.Hostname())
		}
		path = host + path
	}
	path = strings.TrimPrefix(path, "/")

	// Scheme, userinfo, port and fragment are all simply absent from the
	// assembled path; a bare trailing "?" with no parameters vanishes too.
	full := path
	if q := reassembleQuery(u.RawQuery); q != "" {
		full += "?" + q
	}

	return Reduce(full), nil
}

// decodePath percent-decodes a URL path so its characters appear
// literally, keeping an escape only for the few bytes that would break
// re-parsing the result as a URL ("%", "?", "#").
func decodePath(escaped string) string {
	var b strings.Builder
	b.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == '%' && i+2 < len(escaped) && isHexByte(escaped[i+1]) && isHexByte(escaped[i+2]) {
			decoded := unhexByte(escaped[i+1])<<4 | unhexByte(escaped[i+2])
			switch decoded {
			case '%', '?', '#':
				b.WriteString(escaped[i : i+3])
			default:
				b.WriteByte(decoded)
			}
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// reassembleQuery percent-decodes every query key/value and reassembles
// them with keys sorted, joined by "&" and "=": keys are percent-decoded
// then re-escaped with space as "%20" (never "+"), and two URLs whose
// query parameters only differ in order must normalize identically.
func reassembleQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	type pair struct {
		key, value string
		hasValue   bool
	}
	var pairs []pair
	for _, raw := range strings.Split(rawQuery, "&") {
		if raw == "" {
			continue
		}
		k, v, hasValue := strings.Cut(raw, "=")
		dk, errK := url.QueryUnescape(k)
		dv, errV := url.QueryUnescape(v)
		if errK != nil || errV != nil {
			// Malformed percent-escape: keep the pair verbatim rather
			// than lose data that fuzzy reduction may still match on.
			dk, dv = k, v
		}
		pairs = append(pairs, pair{key: dk, value: dv, hasValue: hasValue})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for _, p := range pairs {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(queryEscape(p.key))
		if p.hasValue {
			b.WriteByte('=')
			b.WriteString(queryEscape(p.value))
		}
	}
	return b.String()
}

// queryEscape re-encodes a decoded query key/value, percent-encoding only
// the characters that would break round-trip parsing of the reassembled
// query string: space is always "%20" (never "+"), and "%", "&", "=",
// "+" and "#" keep an escape; everything else appears literally.
func queryEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ' ':
			b.WriteString("%20")
		case '%', '&', '=', '+', '#':
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

func isHexByte(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// toUnicodeHost IDNA-decodes a punycode ("xn--...") hostname back to its
// Unicode form and lowercases it. A plain ASCII hostname that was never
// punycode round-trips unchanged, just lowercased. The port is dropped
// entirely by the caller, so this only ever sees a bare hostname.
func toUnicodeHost(hostname string) (string, error) {
	unicode, err := idna.Lookup.ToUnicode(hostname)
	if err != nil {
		return "", err
	}
	return strings.ToLower(unicode), nil
}

// WithoutFragment strips the #fragment from a URL string, used when testing
// whether a rewritten link target is a known archive entry.
func WithoutFragment(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
