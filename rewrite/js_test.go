package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newJsTestRewriter(t *testing.T, articleURL string) *JsRewriter {
	t.Helper()
	urlRewriter, err := NewArticleURLRewriter(articleURL, nil)
	assert.NoError(t, err)
	return NewJsRewriter(urlRewriter, "", nil)
}

func TestJsRewriterRewritesEvalCall(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.Rewrite(`eval("1+1")`, false)
	assert.Contains(t, out, "WB_wombat_runEval2")
	assert.NotContains(t, out, "eval(\"1+1\")")
}

func TestJsRewriterLeavesEvalReferenceWithTrailingDotAlone(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.Rewrite(`x = eval.call(null)`, false)
	assert.Contains(t, out, "x = eval.call(null)")
}

func TestJsRewriterRewritesPostMessage(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.Rewrite(`win.postMessage(data, "*")`, false)
	assert.Contains(t, out, ".__WB_pmw(self).postMessage(")
}

func TestJsRewriterWrapsClassicScriptWhenGlobalsReferenced(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.Rewrite(`console.log(window.name);`, false)
	assert.Contains(t, out, assignFun)
	assert.True(t, strings.HasSuffix(out, "\n\n}"))
}

func TestJsRewriterLeavesScriptWithNoGlobalsUnwrapped(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.Rewrite(`var a = 1 + 2;`, false)
	assert.Equal(t, `var a = 1 + 2;`, out)
}

func TestJsRewriterModulePrependsImportDecl(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.Rewrite(`export const a = 1;`, true)
	assert.True(t, strings.HasPrefix(out, "import { "))
	assert.Contains(t, out, "__wb_module_decl.js")
}

func TestJsRewriterDetectIsModule(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	assert.True(t, r.DetectIsModule(`import foo from "bar"`))
	assert.True(t, r.DetectIsModule("export default class Foo {}"))
	assert.False(t, r.DetectIsModule(`var x = 1;`))
}

func TestJsRewriterRewriteInlineCollapsesNewlines(t *testing.T) {
	r := newJsTestRewriter(t, "http://example.com/app.js")
	out := r.RewriteInline("console.log(window.name);\nconsole.log(1);")
	assert.NotContains(t, out, "\n")
}

func TestJsRewriterWithExtraRulesAppliesDomainSpecificRules(t *testing.T) {
	r := newJsTestRewriter(t, "http://instagram.com/p/123")
	withExtra := r.WithExtraRules(GetDSRules("instagram.com/"))
	out := withExtra.Rewrite(`"is_dash_eligible":true`, false)
	assert.Contains(t, out, `"is_dash_eligible":false`)
}

func TestJsRewriterWithExtraRulesReturnsIndependentCopy(t *testing.T) {
	base := newJsTestRewriter(t, "http://instagram.com/p/123")
	withExtra := base.WithExtraRules(GetDSRules("instagram.com/"))

	assert.Nil(t, base.extraRules)
	assert.NotEmpty(t, withExtra.extraRules)

	baseOut := base.Rewrite(`"is_dash_eligible":true`, false)
	assert.Contains(t, baseOut, `"is_dash_eligible":true`)
}
