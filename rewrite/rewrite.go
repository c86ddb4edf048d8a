// Package rewrite rewrites the contents of WARC-captured HTML, CSS and JS
// payloads so that every URL they reference resolves to another entry
// already present in the archive, instead of the live web.
//
// The rewriters never walk a DOM tree (HTML is tokenized and re-emitted in
// one streaming pass; CSS and JS likewise), and the set of things a rule
// may do to a tag is a closed, small set of "rule kinds" rather than
// arbitrary callbacks, so every rule's inputs are visible in its
// signature.
package rewrite

import "errors"

// ErrNotModified can be returned by URLRewriter to avoid re-emitting an
// unchanged value; faster than returning the same string.
var ErrNotModified = errors.New("rewrite: url not modified")

// URLRewriter is a function that rewrites a URL found inside a document
// into the relative path of the archive entry it should point to.
type URLRewriter func(url URL) (string, error)

// URL describes one URL occurrence to be rewritten.
type URL struct {
	// Value is the original URL.
	Value string
	// Base is the original base URL. Empty if rewriting the base URL
	// itself.
	Base string
	// NewBase is the new base URL. Empty if rewriting the base URL
	// itself.
	NewBase string
	// Type of the URL.
	Type URLType
}

// URLType distinguishes a handful of URL occurrences that need different
// base-resolution treatment.
type URLType uint8

const (
	URLTypeUnknown URLType = iota
	// URLTypeCSS marks a URL found inside a CSS url()/@import token.
	URLTypeCSS
)

// The closed set of HTML rule kinds (drop-attribute, rewrite-attribute,
// rewrite-tag, rewrite-data) lives in html.go as the four typed rule
// function signatures over ruleContext.
