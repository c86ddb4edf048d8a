package rewrite

import (
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
)

func TestDetectMode(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		method   string
		path     string
		origURL  string
		want     Mode
	}{
		{"html get", "text/html", "GET", "example.com/index.html", "http://example.com/", ModeHTML},
		{"html post ignored", "text/html", "POST", "example.com/search", "http://example.com/search", ModeNone},
		{"css", "text/css", "GET", "example.com/style.css", "http://example.com/style.css", ModeCSS},
		{"plain js", "text/javascript", "GET", "example.com/app.js", "http://example.com/app.js", ModeJS},
		{"js as json path", "application/javascript", "GET", "example.com/data.json", "http://example.com/data.json", ModeJSON},
		{"jsonp via query", "application/javascript", "GET", "example.com/feed", "http://example.com/feed?callback=cb", ModeJSONP},
		{"application json", "application/json", "GET", "example.com/api", "http://example.com/api", ModeJSON},
		{"unhandled mime", "image/png", "GET", "example.com/logo.png", "http://example.com/logo.png", ModeNone},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMode(tt.mimeType, tt.method, tt.path, tt.origURL))
		})
	}
}

func TestExtractJSONPCallback(t *testing.T) {
	assert.Equal(t, "myCallback", ExtractJSONPCallback("http://example.com/feed?callback=myCallback"))
	assert.Equal(t, "", ExtractJSONPCallback("http://example.com/feed"))
	assert.Equal(t, "jsonpCb", ExtractJSONPCallback("http://example.com/feed?jsonp=jsonpCb&x=1"))
}

func TestUnwrapJSONP(t *testing.T) {
	content := `myCallback({"a":1})`
	got := UnwrapJSONP(content, "http://example.com/feed?callback=myCallback")
	assert.Equal(t, `myCallback({"a":1})`, got)
}

func TestUnwrapJSONPRenamesCallbackWithoutDuplicatingIt(t *testing.T) {
	content := `oldName({"a":1})`
	got := UnwrapJSONP(content, "http://example.com/feed?callback=newName")
	assert.Equal(t, `newName({"a":1})`, got)
}

func TestUnwrapJSONPNoCallbackInURL(t *testing.T) {
	content := `myCallback({"a":1})`
	got := UnwrapJSONP(content, "http://example.com/feed")
	assert.Equal(t, content, got)
}

func TestJSModuleSet(t *testing.T) {
	s := NewJSModuleSet()
	assert.False(t, s.Has("example.com/app.js"))
	s.Add("example.com/app.js")
	assert.True(t, s.Has("example.com/app.js"))
	assert.False(t, s.Has("example.com/other.js"))
}

func TestJSModuleSetNilSafe(t *testing.T) {
	var s *JSModuleSet
	assert.False(t, s.Has("anything"))
	s.Add("anything") // must not panic
}

func TestRenderHeadInsert(t *testing.T) {
	tmpl := template.Must(template.New("head").Parse(`{{.Path}}|{{.StaticPrefix}}|{{.OrigHost}}`))
	out, err := RenderHeadInsert(tmpl, HeadInsertData{Path: "a/b", StaticPrefix: "../_zim_static/", OrigHost: "example.com"})
	assert.NoError(t, err)
	assert.Equal(t, "a/b|../_zim_static/|example.com", out)
}

func TestArticleRewriterRewriteJSONPassthroughWithoutDSRules(t *testing.T) {
	urlRewriter, err := NewArticleURLRewriter("http://example.com/data.json", nil)
	assert.NoError(t, err)

	ar := NewArticleRewriter("example.com/data.json", "http://example.com/data.json", urlRewriter, NewJSModuleSet())
	result, err := ar.Rewrite([]byte(`{"a":1}`), ModeJSON, nil, "")
	assert.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(result.Content))
}

func TestArticleRewriterRewriteJSONAppliesDSRules(t *testing.T) {
	urlRewriter, err := NewArticleURLRewriter("http://instagram.com/p/123", nil)
	assert.NoError(t, err)

	ar := NewArticleRewriter("instagram.com/p/123", "http://instagram.com/p/123", urlRewriter, NewJSModuleSet())
	result, err := ar.Rewrite([]byte(`"is_dash_eligible":true`), ModeJSON, nil, "")
	assert.NoError(t, err)
	assert.Equal(t, `"is_dash_eligible":false`, string(result.Content))
}
