package rewrite

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDSRulesFirstHostSubstringWins(t *testing.T) {
	assert.NotEmpty(t, GetDSRules("https://www.youtube.com/watch?v=x"))
	assert.NotEmpty(t, GetDSRules("https://player.vimeo.com/video/1234?h=a"))
	assert.Empty(t, GetDSRules("https://example.com/page"))
}

func TestTwitterVideoRulesKeepBestMP4Variant(t *testing.T) {
	rules := GetDSRules("https://api.twitter.com/2/timeline/conversation/1.json")
	require.NotEmpty(t, rules)

	payload := `{"video_info":{"variants":[` +
		`{"content_type":"application/x-mpegURL","url":"playlist.m3u8"},` +
		`{"content_type":"video/mp4","bitrate":320000,"url":"low.mp4"},` +
		`{"content_type":"video/mp4","bitrate":832000,"url":"high.mp4"}]}}`

	out := NewRxRewriter(rules).Rewrite(payload)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	info := decoded["video_info"].(map[string]any)
	variants := info["variants"].([]any)
	require.Len(t, variants, 1)
	best := variants[0].(map[string]any)
	assert.Equal(t, "high.mp4", best["url"])
}

func TestInstagramRulesDisableDash(t *testing.T) {
	rules := GetDSRules("https://www.instagram.com/p/abc/")
	require.NotEmpty(t, rules)

	out := NewRxRewriter(rules).Rewrite(`{"is_dash_eligible":1,"debugNoBatching":false}`)
	assert.Contains(t, out, `"is_dash_eligible":false`)
	assert.Contains(t, out, `"debugNoBatching":true`)
}

func TestVimeoDashManifestRuleIsInert(t *testing.T) {
	// The upstream rule's pattern carries a stray leading "r", so it can
	// never match a JSON document; carried over as-is.
	rules := GetDSRules("https://site/video/master.json?base64_init=1")
	require.NotEmpty(t, rules)

	manifest := `{"video":[{"mime_type":"video/mp4","bitrate":100}]}`
	assert.Equal(t, manifest, NewRxRewriter(rules).Rewrite(manifest))
}

func TestVqlwebRuleCommentsOutResizeCall(t *testing.T) {
	rules := GetDSRules("https://cdn.example/player/vqlweb.js")
	require.NotEmpty(t, rules)

	in := `bZ.updatePortSize();this.updateApplicationSize()`
	out := NewRxRewriter(rules).Rewrite(in)
	assert.Equal(t, "/*"+in+"*/", out)
}
