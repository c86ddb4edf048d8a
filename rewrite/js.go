package rewrite

import (
	"regexp"
	"strings"
)

// globalOverrides lists the global identifiers that get rebound to
// wombat's local shims when a script accesses them via `this` at top
// level (window, location, ...).
var globalOverrides = []string{
	"window", "globalThis", "self", "document", "location",
	"top", "parent", "frames", "opener",
}

var globalsRx = regexp.MustCompile(globalsPattern())

func globalsPattern() string {
	parts := make([]string, len(globalOverrides))
	for i, g := range globalOverrides {
		parts[i] = `(?:^|[^$.])\b` + g + `\b(?:$|[^$])`
	}
	return "(" + strings.Join(parts, "|") + ")"
}

var importRx = regexp.MustCompile(`^\s*?import(?:\s*?[{"'*]|\s+[\w$]+\s*(?:,|from\b))`)
var exportRx = regexp.MustCompile(`(?m)^\s*?export\s*?(\{[\s\w,$\n]+?\}[\s;]*|default|class)\s+`)

// importHTTPRx finds the quoted module specifier inside a static import
// statement so it can be rewritten in place.
var importHTTPRx = regexp.MustCompile(`(['"])((?:https?:)?/[^'"]*|\.\.?/[^'"]*)(['"])`)

const (
	thisRw    = "_____WB$wombat$check$this$function_____(this)"
	checkLoc  = "((self.__WB_check_loc && self.__WB_check_loc(location, arguments)) || {}).href = "
	evalStr   = "WB_wombat_runEval2((_______eval_arg, isGlobal) => { var ge = eval; return isGlobal ? ge(_______eval_arg) : eval(_______eval_arg); }).eval(this, (function() { return arguments })(),"
	assignFun = "_____WB$wombat$assign$function_____"
)

// JsRewriter applies the closed set of regex-based transformations that
// keep a page's own script from reaching the live network or escaping
// into the real global scope, and wraps classic scripts in a local-scope
// prologue (or module scripts in an import of the shared shim) so that
// `window`/`location`/etc. resolve to wombat's sandboxed copies. The
// rule set tracks wombat's own client-side rewriter; the emitted names
// (__WB_pmw, WB_wombat_runEval2, ...) are its contract.
type JsRewriter struct {
	urlRewriter *ArticleURLRewriter
	baseHref    string
	// notifyJSModule is called with the absolute archive path
	// (GetItemPath) of every static import specifier found in a module
	// script (so the driver can
	// also treat that path as a module when it's later emitted as its
	// own record).
	notifyJSModule func(path string)
	// extraRules are appended after the base rule set, used by standalone
	// JS/JSON payloads to apply per-host domain-specific rules (see
	// ds.go); HTML-embedded <script> bodies never carry extra rules.
	extraRules []RxRule
}

// NewJsRewriter builds a rewriter scoped to one article.
func NewJsRewriter(urlRewriter *ArticleURLRewriter, baseHref string, notifyJSModule func(path string)) *JsRewriter {
	if notifyJSModule == nil {
		notifyJSModule = func(string) {}
	}
	return &JsRewriter{urlRewriter: urlRewriter, baseHref: baseHref, notifyJSModule: notifyJSModule}
}

// WithExtraRules returns a copy of the rewriter that also applies extra
// rx rules (e.g. the domain-specific rules GetDSRules returns for a
// standalone JS payload's capture URL).
func (r *JsRewriter) WithExtraRules(extra []RxRule) *JsRewriter {
	clone := *r
	clone.extraRules = extra
	return &clone
}

// DetectIsModule reports whether text looks like an ES module (contains a
// static import or export statement), used when the surrounding HTML
// didn't already say so via <script type=module>.
func (r *JsRewriter) DetectIsModule(text string) bool {
	if strings.Contains(text, "import") && importRx.MatchString(text) {
		return true
	}
	if strings.Contains(text, "export") && exportRx.MatchString(text) {
		return true
	}
	return false
}

// Rewrite applies the JS rewrite rules to text. isModule forces module
// handling even if DetectIsModule wouldn't have found one (the enclosing
// <script type=module> already told us).
func (r *JsRewriter) Rewrite(text string, isModule bool) string {
	if !isModule {
		isModule = r.DetectIsModule(text)
	}

	rules := r.baseRules(isModule)
	rules = append(rules, r.extraRules...)
	rewriter := NewRxRewriter(rules)
	newText := rewriter.Rewrite(text)

	if isModule {
		return r.moduleDecl() + newText
	}

	if globalsRx.MatchString(text) {
		newText = r.localDeclarationPrologue() + newText + "\n\n}"
	}
	return newText
}

// RewriteInline is Rewrite with newlines collapsed, for inline event
// handler attributes (onclick=...) that must stay on one HTML attribute
// line.
func (r *JsRewriter) RewriteInline(text string) string {
	return strings.ReplaceAll(r.Rewrite(text, false), "\n", " ")
}

func (r *JsRewriter) localDeclarationPrologue() string {
	var b strings.Builder
	b.WriteString("var ")
	b.WriteString(assignFun)
	b.WriteString(" = function(name) {return (self._wb_wombat && self._wb_wombat.local_init && self._wb_wombat.local_init(name)) || self[name]; };\n")
	b.WriteString("if (!self.__WB_pmw) { self.__WB_pmw = function(obj) { this.__WB_source = obj; return this; } }\n{\n")
	for _, decl := range globalOverrides {
		b.WriteString("let ")
		b.WriteString(decl)
		b.WriteString(" = ")
		b.WriteString(assignFun)
		b.WriteString("(\"")
		b.WriteString(decl)
		b.WriteString("\");\n")
	}
	b.WriteString("let arguments;\n\n")
	return b.String()
}

func (r *JsRewriter) moduleDecl() string {
	wbModuleDeclURL, err := r.urlRewriter.FromNormalized("_zim_static/__wb_module_decl.js")
	if err != nil {
		wbModuleDeclURL = "_zim_static/__wb_module_decl.js"
	}
	return "import { " + strings.Join(globalOverrides, ", ") + ` } from "` + wbModuleDeclURL + "\";\n"
}

// baseRules returns the closed rule set, appending the static-import
// specifier rule (esmImportRule) when the script is a module.
func (r *JsRewriter) baseRules(isModule bool) []RxRule {
	rules := []RxRule{
		// `eval(...)` invocation.
		{Pattern: `(?:^|\s)\beval\s*\(`, Action: RxReplacePrefixFrom(evalStr, "eval")},
		// `x = eval` reference, not a call and not followed by `(:.$`.
		{Pattern: `[=]\s*\beval\b`, Action: rewriteEvalReference},
		// `.postMessage(` -> `.__WB_pmw(self).postMessage(`.
		{Pattern: `\.postMessage\b\(`, Action: RxAddPrefix(".__WB_pmw(self)")},
		// `location = ...` assignment (but not `location == ` or `location = =`).
		{Pattern: `[^$.]?\s?\blocation\b\s*[=]\s*`, Action: rewriteLocationAssign},
		// `return this`, not followed by more identifier chars.
		{Pattern: `\breturn\s+this\b\s*`, Action: rewriteReturnThis},
		// `this.<global>` property access.
		{Pattern: `[^$.]\s?\bthis\b`, Action: rewriteThisGlobalProp},
		// `= this` or `, this` assignment.
		{Pattern: `[=,]\s*\bthis\b\s*`, Action: rewriteAssignThis},
		// `})(this)` IIFE invocation.
		{Pattern: `\}(?:\s*\))?\s*\(this\)`, Action: func(m RxMatch) string {
			return strings.Replace(m.Groups[0], "this", thisRw, 1)
		}},
		// `this` inside a `||`/`&&` expression.
		{Pattern: `[^|&][|&]{2}\s*this\b\s*`, Action: rewriteLogicalThis},
		// `async import(` left untouched, has to come before the dynamic
		// import rule below so it isn't also rewritten.
		{Pattern: `async\s+import\s*\(`, Action: func(m RxMatch) string { return m.Groups[0] }},
		// esm dynamic `import(` outside of `async import(`.
		{Pattern: `[^$.]\bimport\s*\(`, Action: r.rewriteDynamicImport(isModule)},
	}
	if isModule {
		rules = append(rules, r.esmImportRule())
	}
	return rules
}

// The following actions re-express wombat's lookahead/lookbehind
// assertions as explicit checks against the surrounding text, since RE2
// (Go's regexp) has no lookaround support.

func rewriteEvalReference(m RxMatch) string {
	// emulates `[=]\s*\beval\b(?![(:.$])`: don't touch `eval(`, `eval:`,
	// `eval.`, `eval$`.
	if m.End < len(m.Text) {
		switch m.Text[m.End] {
		case '(', ':', '.', '$':
			return m.Groups[0]
		}
	}
	return strings.Replace(m.Groups[0], "eval", "self.eval", 1)
}

func rewriteLocationAssign(m RxMatch) string {
	// emulates `[^$.]?\s?\blocation\b\s*[=]\s*(?![\s\d=])`: don't touch
	// `location = 5`, `location ==`, or trailing whitespace before the
	// value, and skip a property access
	// whose dot/dollar sits just before the match start.
	if m.Start > 0 && (m.Text[m.Start-1] == '.' || m.Text[m.Start-1] == '$') {
		return m.Groups[0]
	}
	if m.End < len(m.Text) {
		c := m.Text[m.End]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '=' || (c >= '0' && c <= '9') {
			return m.Groups[0]
		}
	}
	return m.Groups[0] + checkLoc
}

func rewriteReturnThis(m RxMatch) string {
	// emulates `\breturn\s+this\b\s*(?![\s\w.$])`.
	if m.End < len(m.Text) && isWordByteOrDotDollar(m.Text[m.End]) {
		return m.Groups[0]
	}
	return strings.Replace(m.Groups[0], "this", thisRw, 1)
}

func rewriteAssignThis(m RxMatch) string {
	// emulates `[=,]\s*\bthis\b\s*(?![\s\w:.$])`.
	if m.End < len(m.Text) {
		c := m.Text[m.End]
		if isWordByteOrDotDollar(c) || c == ':' {
			return m.Groups[0]
		}
	}
	return strings.Replace(m.Groups[0], "this", thisRw, 1)
}

func rewriteLogicalThis(m RxMatch) string {
	// emulates `[^|&][|&]{2}\s*this\b\s*(?![|\s&.$](?:[^|&]|$))`: skip
	// only when the next char is operator-adjacent AND the char after it
	// is not another `|`/`&` (or the text ends there).
	if m.End < len(m.Text) {
		c := m.Text[m.End]
		if c == '|' || c == ' ' || c == '\t' || c == '\n' || c == '&' || c == '.' || c == '$' {
			if m.End+1 >= len(m.Text) || (m.Text[m.End+1] != '|' && m.Text[m.End+1] != '&') {
				return m.Groups[0]
			}
		}
	}
	return strings.Replace(m.Groups[0], "this", thisRw, 1)
}

// globalPropSuffix matches "." + one of the global override names + word
// boundary, used by rewriteThisGlobalProp in place of a lookahead
// `(?=(?:\.(?:window|globalThis|...)\b))`.
var globalPropSuffix = regexp.MustCompile(`^\.(?:` + strings.Join(globalOverrides, "|") + `)\b`)

func rewriteThisGlobalProp(m RxMatch) string {
	if !globalPropSuffix.MatchString(m.Text[m.End:]) {
		return m.Groups[0]
	}
	prev := byte(0)
	if m.Start > 0 {
		prev = m.Text[m.Start-1]
	}
	switch prev {
	case '\n':
		return strings.Replace(m.Groups[0], "this", ";"+thisRw, 1)
	case '.', '$':
		return m.Groups[0]
	default:
		return strings.Replace(m.Groups[0], "this", thisRw, 1)
	}
}

func isWordByteOrDotDollar(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' ||
		c == '.' || c == '$'
}

func (r *JsRewriter) rewriteDynamicImport(isModule bool) RxAction {
	return func(m RxMatch) string {
		suffix := `"", `
		if isModule {
			suffix = "import.meta.url, "
		}
		return strings.Replace(m.Groups[0], "import", "____wb_rewrite_import__", 1) + suffix
	}
}

var importMatchRx = regexp.MustCompile(`^\s*?import(?:['"\s]*(?:[\w*${}\s,]+from\s*)?['"\s]?['"\s])(?:.*?)['"\s]`)

func (r *JsRewriter) esmImportRule() RxRule {
	return RxRule{
		Pattern: importMatchRx.String(),
		Action: func(m RxMatch) string {
			return importHTTPRx.ReplaceAllStringFunc(m.Groups[0], func(quoted string) string {
				sub := importHTTPRx.FindStringSubmatch(quoted)
				if sub == nil {
					return quoted
				}
				quote, target := sub[1], sub[2]
				if itemPath, err := r.urlRewriter.GetItemPath(target, r.baseHref); err == nil {
					r.notifyJSModule(itemPath)
				}
				rewritten, err := r.urlRewriter.Rewrite(target, true, r.baseHref)
				if err != nil {
					return quoted
				}
				return quote + rewritten + quote
			})
		},
	}
}
