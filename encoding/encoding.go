// Package encoding decodes a captured payload's bytes into a string,
// tolerating wrong or missing declared charsets the way a browser would.
package encoding

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// Result is the outcome of decoding a payload: the text, which charset
// (if any) was used, and whether any bytes had to be dropped to produce
// valid UTF-8.
type Result struct {
	Text         string
	Encoding     string
	CharsIgnored bool
}

// encodingRx finds a `charset=...`/`encoding=...` declaration in a
// header value or in markup scanned as ASCII.
var encodingRx = regexp.MustCompile(`(?i)(charset|encoding)=(['"]?)([a-zA-Z0-9_\-]+)(['"]?)`)

func findDeclaredEncoding(s string) string {
	m := encodingRx.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[2] != "" && m[2] != m[4] {
		return ""
	}
	return m[3]
}

// HeaderEncoding extracts the charset named in a Content-Type header
// value (e.g. "text/html; charset=UTF-8").
func HeaderEncoding(contentType string) string {
	return findDeclaredEncoding(contentType)
}

// ErrUndecodable is returned when no encoding, declared or detected,
// could produce a valid decode.
var ErrUndecodable = errors.New("encoding: impossible to decode content")

// FallbackEncodings is the ordered charset list tried after both
// declared encodings failed but before statistical detection. Callers
// may replace it process-wide; the default covers the overwhelming
// majority of captures that lie about (or omit) their charset.
var FallbackEncodings = []string{"utf-8", "iso-8859-1"}

// ToString decodes input using, in order: the encoding declared in HTTP
// headers; an encoding named inside the content's first 1024 bytes; the
// FallbackEncodings list; a statistically detected encoding (via
// chardet); and finally the header encoding again with invalid bytes
// dropped. The returned Result records which step won.
func ToString(input []byte, headerEncoding string) (Result, error) {
	if len(input) == 0 {
		return Result{}, nil
	}

	tried := map[string]bool{}
	key := func(name string) string { return strings.ToLower(name) }

	if headerEncoding != "" {
		if text, ok := decodeStrict(input, headerEncoding); ok {
			return Result{Text: text, Encoding: headerEncoding}, nil
		}
		tried[key(headerEncoding)] = true
	}

	prefix := input
	if len(prefix) > 1024 {
		prefix = prefix[:1024]
	}
	if declared := findDeclaredEncoding(asciiLossy(prefix)); declared != "" && !tried[key(declared)] {
		if text, ok := decodeStrict(input, declared); ok {
			return Result{Text: text, Encoding: declared}, nil
		}
		tried[key(declared)] = true
	}

	for _, fallback := range FallbackEncodings {
		if tried[key(fallback)] {
			continue
		}
		if text, ok := decodeStrict(input, fallback); ok {
			return Result{Text: text, Encoding: fallback}, nil
		}
		tried[key(fallback)] = true
	}

	if detected := detectEncoding(input); detected != "" && !tried[key(detected)] {
		if text, ok := decodeStrict(input, detected); ok {
			return Result{Text: text, Encoding: detected}, nil
		}
		tried[key(detected)] = true
	}

	if headerEncoding != "" {
		if text, ok := decodeLossy(input, headerEncoding); ok {
			return Result{Text: text, Encoding: headerEncoding, CharsIgnored: true}, nil
		}
	}

	return Result{}, ErrUndecodable
}

func asciiLossy(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x80 {
			out[i] = c
		} else {
			out[i] = '?'
		}
	}
	return string(out)
}

func detectEncoding(input []byte) string {
	det := chardet.NewTextDetector()
	results, err := det.DetectAll(input)
	if err != nil || len(results) == 0 {
		return ""
	}
	return results[0].Charset
}

// decodeStrict decodes input as name, rejecting the result if any byte
// turned out to be ill-formed for that encoding. x/text's decoders
// substitute U+FFFD rather than erroring, so strictness comes from a
// post-hoc validity check.
func decodeStrict(input []byte, name string) (string, bool) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(input)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// decodeLossy decodes input as name, accepting substitution characters
// for anything that didn't fit.
func decodeLossy(input []byte, name string) (string, bool) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	out, _ := enc.NewDecoder().Bytes(input)
	return string(out), true
}
