package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	stdhtml "html"
	"io"
	"regexp"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/html"
	xhtml "golang.org/x/net/html"
)

// HtmlResult is the output of rewriting one HTML document: its extracted
// <title> (for the ZIM suggestion-search index) and the rewritten markup.
type HtmlResult struct {
	Title   string
	Content []byte
}

// RewriteHTML streams content through the tokenizer once, rewriting every
// URL-bearing attribute, inline <style>/onxxx handler and <script> body it
// finds, splicing preHeadInsert just after <head> opens and postHeadInsert
// just before it closes.
//
// No DOM tree is built: the token stream is re-emitted as it is walked,
// so malformed markup outside tag boundaries survives byte-for-byte.
// Per-token behavior is driven by the htmlRules table below.
func RewriteHTML(content []byte, urlRewriter *ArticleURLRewriter, preHeadInsert, postHeadInsert string, notifyJSModule func(path string)) (HtmlResult, error) {
	if notifyJSModule == nil {
		notifyJSModule = func(string) {}
	}
	baseHref := extractBaseHref(content)

	lc := &html5Rewriter{
		input:          parse.NewInputBytes(content),
		w:              &bytes.Buffer{},
		urlRewriter:    urlRewriter,
		baseHref:       baseHref,
		css:            NewCssRewriter(urlRewriter, baseHref),
		js:             NewJsRewriter(urlRewriter, baseHref, notifyJSModule),
		headInsert:     preHeadInsert,
		postHeadInsert: postHeadInsert,
		notifyJSModule: notifyJSModule,
	}
	lc.lexer = html.NewLexer(lc.input)

	for {
		tt, _ := lc.next()
		if tt == html.ErrorToken {
			if err := ignoreEOF(lc.err()); err != nil {
				return HtmlResult{}, err
			}
			break
		}
		switch tt {
		case html.StartTagToken:
			currentTag := string(lc.text())
			if err := lc.processTag(currentTag); err != nil {
				return HtmlResult{}, err
			}
		case html.TextToken:
			if err := lc.processText(); err != nil {
				return HtmlResult{}, err
			}
		case html.EndTagToken:
			tag := string(lc.text())
			lc.rewriteContext = ""
			if tag == "head" {
				if lc.postHeadInsert != "" {
					io.WriteString(lc.w, lc.postHeadInsert)
				}
				io.WriteString(lc.w, "</head>")
				continue
			}
			if err := lc.copy(); err != nil {
				return HtmlResult{}, err
			}
		default:
			if err := lc.copy(); err != nil {
				return HtmlResult{}, err
			}
		}
	}

	out, _ := lc.w.(*bytes.Buffer)
	return HtmlResult{Title: lc.title, Content: out.Bytes()}, nil
}

// extractBaseHref runs a lenient tree parse solely to find <base href>,
// because the streaming tokenizer above intentionally never buffers
// enough of the document to look ahead for it, and <base> can precede
// the links it affects.
func extractBaseHref(content []byte) string {
	doc, err := xhtml.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}
	var found string
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if found != "" {
			return
		}
		if n.Type == xhtml.ElementNode && n.Data == "base" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					found = a.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if found != "" {
				return
			}
		}
	}
	walk(doc)
	return found
}

// ruleContext is the named-field bundle every HTML rule receives. Each
// rule reads only the fields it needs; every rule of a kind shares one
// fixed signature over this struct, so a rule's inputs are checked at
// compile time.
type ruleContext struct {
	tag            string
	attrName       string
	attrValue      string
	hasValue       bool
	attrs          []rawAttr
	autoClose      bool
	rewriteContext string

	urlRewriter    *ArticleURLRewriter
	baseHref       string
	css            *CssRewriter
	js             *JsRewriter
	notifyJSModule func(path string)
}

func (ctx *ruleContext) attrFrom(name string) string {
	for _, a := range ctx.attrs {
		if a.name == name {
			return a.value
		}
	}
	return ""
}

// The four rule kinds. A dropAttributeRule removes the current attribute
// when it returns true. A rewriteAttributeRule may replace the current
// name/value pair (applied=false leaves the pair for the next rule in
// sequence). A rewriteTagRule replaces the whole start tag with its
// returned string (possibly empty, dropping the tag); the first rule to
// return handled=true wins. A rewriteDataRule replaces element text
// content for the current rewrite context.
type (
	dropAttributeRule    func(ctx *ruleContext) bool
	rewriteAttributeRule func(ctx *ruleContext) (name, value string, applied bool)
	rewriteTagRule       func(ctx *ruleContext) (replacement string, handled bool)
	rewriteDataRule      func(ctx *ruleContext, data string) (rewritten string, handled bool)
)

// htmlRules is the baseline rule table, registered once and shared by
// every document. Order within rewriteAttribute is the application
// sequence (each rule may further mutate the pair); within rewriteTag
// the first rule returning handled wins.
var htmlRules = struct {
	dropAttribute    []dropAttributeRule
	rewriteAttribute []rewriteAttributeRule
	rewriteTag       []rewriteTagRule
	rewriteData      []rewriteDataRule
}{
	dropAttribute: []dropAttributeRule{
		dropScriptIntegrityAttribute,
		dropLinkIntegrityAttribute,
	},
	rewriteAttribute: []rewriteAttributeRule{
		rewriteMetaCharsetContent,
		rewriteOnxxxAttribute,
		rewriteStyleAttribute,
		rewriteHrefSrcAttribute,
		rewriteSrcsetAttribute,
		rewriteMetaHTTPEquivRedirect,
		rewriteOpenGraphContent,
	},
	rewriteTag: []rewriteTagRule{
		rewriteBaseTag,
	},
	rewriteData: []rewriteDataRule{
		rewriteJSData,
		rewriteCSSData,
	},
}

func dropScriptIntegrityAttribute(ctx *ruleContext) bool {
	return ctx.tag == "script" && ctx.attrName == "integrity"
}

func dropLinkIntegrityAttribute(ctx *ruleContext) bool {
	return ctx.tag == "link" && ctx.attrName == "integrity"
}

// rewriteMetaCharsetContent forces both <meta charset=...> and
// <meta http-equiv="content-type" content="text/html; charset=...">
// to UTF-8, since every stored document is re-encoded as UTF-8.
func rewriteMetaCharsetContent(ctx *ruleContext) (string, string, bool) {
	if ctx.tag != "meta" {
		return "", "", false
	}
	if ctx.attrName == "charset" {
		return ctx.attrName, "UTF-8", true
	}
	if ctx.attrName == "content" && strings.EqualFold(ctx.attrFrom("http-equiv"), "content-type") {
		return ctx.attrName, "text/html; charset=UTF-8", true
	}
	return "", "", false
}

func rewriteOnxxxAttribute(ctx *ruleContext) (string, string, bool) {
	if !ctx.hasValue || ctx.attrValue == "" {
		return "", "", false
	}
	if !strings.HasPrefix(ctx.attrName, "on") || strings.HasPrefix(ctx.attrName, "on-") {
		return "", "", false
	}
	return ctx.attrName, ctx.js.RewriteInline(ctx.attrValue), true
}

func rewriteStyleAttribute(ctx *ruleContext) (string, string, bool) {
	if !ctx.hasValue || ctx.attrValue == "" || ctx.attrName != "style" {
		return "", "", false
	}
	return ctx.attrName, ctx.css.RewriteInline(ctx.attrValue), true
}

// rewriteHrefSrcAttribute also notifies the JS-module set of any script
// used as a module, so that script is rewritten in module mode when its
// own record comes up later.
func rewriteHrefSrcAttribute(ctx *ruleContext) (string, string, bool) {
	if ctx.attrName != "href" && ctx.attrName != "src" {
		return "", "", false
	}
	if !ctx.hasValue || ctx.attrValue == "" {
		return "", "", false
	}
	if ctx.rewriteContext == "js-module" {
		if p, err := ctx.urlRewriter.GetItemPath(ctx.attrValue, ctx.baseHref); err == nil {
			ctx.notifyJSModule(p)
		}
	}
	rewritten, err := ctx.urlRewriter.Rewrite(ctx.attrValue, ctx.tag != "a", ctx.baseHref)
	if err != nil {
		return "", "", false
	}
	return ctx.attrName, rewritten, true
}

func rewriteSrcsetAttribute(ctx *ruleContext) (string, string, bool) {
	if ctx.attrName != "srcset" || !ctx.hasValue || ctx.attrValue == "" {
		return "", "", false
	}
	parts := strings.Split(ctx.attrValue, ",")
	out := make([]string, len(parts))
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		fields := strings.SplitN(trimmed, " ", 2)
		url := fields[0]
		rest := ""
		if len(fields) > 1 {
			rest = " " + fields[1]
		}
		rewritten, err := ctx.urlRewriter.Rewrite(url, true, ctx.baseHref)
		if err != nil {
			rewritten = url
		}
		out[i] = rewritten + rest
	}
	return ctx.attrName, strings.Join(out, ", "), true
}

// httpEquivRefreshRx splits a refresh directive's "n; url=..." content.
var httpEquivRefreshRx = regexp.MustCompile(`(?is)^\s*(.*?)\s*;\s*url\s*=\s*(.*?)\s*$`)

func rewriteMetaHTTPEquivRedirect(ctx *ruleContext) (string, string, bool) {
	if ctx.tag != "meta" || ctx.attrName != "content" || !ctx.hasValue || ctx.attrValue == "" {
		return "", "", false
	}
	if !strings.EqualFold(ctx.attrFrom("http-equiv"), "refresh") {
		return "", "", false
	}
	m := httpEquivRefreshRx.FindStringSubmatch(ctx.attrValue)
	if m == nil {
		return "", "", false
	}
	rewritten, err := ctx.urlRewriter.Rewrite(m[2], true, ctx.baseHref)
	if err != nil {
		return "", "", false
	}
	return ctx.attrName, m[1] + ";url=" + rewritten, true
}

// rewriteOpenGraphContent rewrites URL-valued <meta property="og:*"> /
// <meta itemprop=...> content absolutely, never against a <base href>.
func rewriteOpenGraphContent(ctx *ruleContext) (string, string, bool) {
	if ctx.tag != "meta" || ctx.attrName != "content" || !ctx.hasValue {
		return "", "", false
	}
	property := ctx.attrFrom("property")
	if property == "" {
		property = ctx.attrFrom("itemprop")
	}
	if property == "" || !isOpenGraphURLProperty(property) {
		return "", "", false
	}
	rewritten, err := ctx.urlRewriter.Rewrite(ctx.attrValue, true, "")
	if err != nil {
		return "", "", false
	}
	return ctx.attrName, rewritten, true
}

// rewriteBaseTag consumes <base>: its href has already been captured by
// the pre-pass (extractBaseHref), so the attribute is always removed,
// and when it was the tag's only attribute the whole tag goes with it.
func rewriteBaseTag(ctx *ruleContext) (string, bool) {
	if ctx.tag != "base" {
		return "", false
	}
	var kept []rawAttr
	for _, a := range ctx.attrs {
		if a.name == "href" {
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return "", true
	}
	var b strings.Builder
	b.WriteString("<base")
	for _, a := range kept {
		b.WriteByte(' ')
		writeAttr(&b, a.name, a.value, a.hasValue)
	}
	if ctx.autoClose {
		b.WriteString("/>")
	} else {
		b.WriteString(">")
	}
	return b.String(), true
}

func rewriteJSData(ctx *ruleContext, data string) (string, bool) {
	if !strings.HasPrefix(ctx.rewriteContext, "js-") {
		return "", false
	}
	return ctx.js.Rewrite(data, ctx.rewriteContext == "js-module"), true
}

func rewriteCSSData(ctx *ruleContext, data string) (string, bool) {
	if ctx.rewriteContext != "css" {
		return "", false
	}
	return ctx.css.Rewrite([]byte(data)), true
}

type html5Rewriter struct {
	input            *parse.Input
	lexer            *html.Lexer
	w                io.Writer
	startPos, endPos int

	urlRewriter    *ArticleURLRewriter
	baseHref       string
	css            *CssRewriter
	js             *JsRewriter
	headInsert     string
	postHeadInsert string
	notifyJSModule func(path string)

	title          string
	titleCaptured  bool
	rewriteContext string // "", "json", "js-module", "js-classic", "unknown", "css", or the tag name
	currentTagName string
}

func (lc *html5Rewriter) next() (html.TokenType, []byte) {
	lc.startPos = lc.input.Offset()
	tt, data := lc.lexer.Next()
	lc.endPos = lc.input.Offset()
	return tt, data
}

func (lc *html5Rewriter) text() []byte    { return lc.lexer.Text() }
func (lc *html5Rewriter) attrVal() []byte { return lc.lexer.AttrVal() }

func (lc *html5Rewriter) copy() error {
	_, err := lc.w.Write(lc.rawData())
	return err
}

func (lc *html5Rewriter) rawData() []byte { return lc.input.Bytes()[lc.startPos:lc.endPos] }
func (lc *html5Rewriter) err() error      { return lc.lexer.Err() }

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (lc *html5Rewriter) ruleContextFor(tag string, attrs []rawAttr, autoClose bool) *ruleContext {
	return &ruleContext{
		tag:            tag,
		attrs:          attrs,
		autoClose:      autoClose,
		rewriteContext: lc.rewriteContext,
		urlRewriter:    lc.urlRewriter,
		baseHref:       lc.baseHref,
		css:            lc.css,
		js:             lc.js,
		notifyJSModule: lc.notifyJSModule,
	}
}

func (lc *html5Rewriter) processTag(tag string) error {
	lc.currentTagName = tag

	attrs, closeRaw, err := lc.readAttributes()
	if err != nil {
		return err
	}
	lc.rewriteContext = rewriteContextFor(tag, attrs)
	autoClose := bytes.Contains(closeRaw, []byte("/"))
	ctx := lc.ruleContextFor(tag, attrs, autoClose)

	for _, rule := range htmlRules.rewriteTag {
		if replacement, handled := rule(ctx); handled {
			_, err := io.WriteString(lc.w, replacement)
			return err
		}
	}

	lc.w.Write([]byte("<" + tag))
	for _, a := range attrs {
		ctx.attrName, ctx.attrValue, ctx.hasValue = a.name, a.value, a.hasValue
		if lc.dropAttribute(ctx) {
			continue
		}
		if ctx.hasValue {
			for _, rule := range htmlRules.rewriteAttribute {
				if name, value, applied := rule(ctx); applied {
					ctx.attrName, ctx.attrValue = name, value
				}
			}
		}
		lc.w.Write([]byte(" "))
		writeAttr(lc.w, ctx.attrName, ctx.attrValue, ctx.hasValue)
	}
	lc.w.Write(closeRaw)

	if tag == "head" && lc.headInsert != "" {
		lc.w.Write([]byte(lc.headInsert))
	}
	return nil
}

type rawAttr struct {
	name, value string
	hasValue    bool
}

func (lc *html5Rewriter) readAttributes() ([]rawAttr, []byte, error) {
	var attrs []rawAttr
	for {
		tt, _ := lc.next()
		switch tt {
		case html.AttributeToken:
			attrVal := lc.attrVal()
			hasValue, value, err := decodeAttrValue(attrVal)
			if err != nil {
				return attrs, nil, err
			}
			attrs = append(attrs, rawAttr{name: string(lc.text()), value: value, hasValue: hasValue})
		case html.StartTagCloseToken, html.StartTagVoidToken:
			return attrs, lc.rawData(), nil
		case html.ErrorToken:
			return attrs, nil, lc.err()
		default:
			return attrs, nil, fmt.Errorf("rewrite: unexpected token %s reading attributes of <%s>", tt, lc.currentTagName)
		}
	}
}

func decodeAttrValue(raw []byte) (bool, string, error) {
	if len(raw) == 0 {
		return false, "", nil
	}
	if raw[0] == '\'' || raw[0] == '"' {
		if len(raw) < 2 {
			return true, "", fmt.Errorf("rewrite: attribute %q missing closing quote", raw)
		}
		return true, stdhtml.UnescapeString(string(raw[1 : len(raw)-1])), nil
	}
	return true, stdhtml.UnescapeString(string(raw)), nil
}

func writeAttr(w io.Writer, name, value string, hasValue bool) {
	if !hasValue {
		io.WriteString(w, name)
		return
	}
	io.WriteString(w, name+`="`+stdhtml.EscapeString(value)+`"`)
}

func (lc *html5Rewriter) dropAttribute(ctx *ruleContext) bool {
	for _, rule := range htmlRules.dropAttribute {
		if rule(ctx) {
			return true
		}
	}
	return false
}

func (lc *html5Rewriter) processText() error {
	// Script and style element contents reach the lexer verbatim
	// (CDATA-like raw text), so no entity decoding happens here.
	text := string(lc.rawData())

	if lc.rewriteContext == "title" && !lc.titleCaptured {
		lc.title = strings.TrimSpace(text)
		lc.titleCaptured = true
	}

	if strings.TrimSpace(text) != "" {
		ctx := lc.ruleContextFor(lc.currentTagName, nil, false)
		for _, rule := range htmlRules.rewriteData {
			if rewritten, handled := rule(ctx, text); handled {
				_, err := io.WriteString(lc.w, rewritten)
				return err
			}
		}
	}

	return lc.copy()
}

// rewriteContextFor mirrors get_html_rewrite_context: most tags use their
// own name as context; <script>/<link> vary by type/rel.
func rewriteContextFor(tag string, attrs []rawAttr) string {
	attrVal := func(name string) string {
		for _, a := range attrs {
			if a.name == name {
				return a.value
			}
		}
		return ""
	}
	switch tag {
	case "script":
		switch attrVal("type") {
		case "application/json", "json":
			return "json"
		case "module":
			return "js-module"
		case "application/javascript", "text/javascript", "":
			return "js-classic"
		default:
			return "unknown"
		}
	case "link":
		switch attrVal("rel") {
		case "modulepreload":
			return "js-module"
		case "preload":
			if attrVal("as") == "script" {
				return "js-classic"
			}
		}
	case "style":
		return "css"
	}
	return tag
}
