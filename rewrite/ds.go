package rewrite

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Domain-specific rules neutralize per-site adaptive/DASH streaming
// payloads so a captured page plays its one captured rendition instead of
// probing for others that were never archived.
//
// This ruleset descends from wabac.js's dsruleset.js and should be kept
// in sync with it; there is no automated process for that.

const maxBitrate = 5000000

// dsRuleSet pairs a set of "path contains one of these substrings"
// triggers with the rx rules to apply.
type dsRuleSet struct {
	contains []string
	rules    []RxRule
}

// dsRules is evaluated in order; the first matching rule set wins.
var dsRules = []dsRuleSet{
	{
		contains: []string{"youtube.com", "youtube-nocookie.com"},
		rules: []RxRule{
			{Pattern: `ytplayer\.load\(\);`, Action: RxAddPrefix(`ytplayer.config.args.dash = "0"; ytplayer.config.args.dashmpd = ""; `)},
			{Pattern: `yt\.setConfig.*PLAYER_CONFIG.*args":\s*\{`, Action: RxAddSuffix(` "dash": "0", dashmpd: "", `)},
			{Pattern: `(?:"player":|ytplayer\.config).*"args":\s*\{`, Action: RxAddSuffix(`"dash":"0","dashmpd":"",`)},
			{Pattern: `yt\.setConfig.*PLAYER_VARS.*?\{`, Action: RxAddSuffix(`"dash":"0","dashmpd":"",`)},
			{Pattern: `ytplayer\.config=\{args:\s*\{`, Action: RxAddSuffix(`"dash":"0","dashmpd":"",`)},
			{Pattern: `(?m)"0"\s*?==\s*?\w+\.dash&&`, Action: RxReplaceAll("1&&")},
		},
	},
	{
		contains: []string{"player.vimeo.com/video/"},
		rules: []RxRule{
			{Pattern: `^\{.+\}$`, Action: rewriteVimeoConfig},
		},
	},
	{
		// This pattern carries a stray leading "r" (inherited from
		// upstream), making it literal-"r"-then-anchor: it can never
		// match a JSON payload. Kept byte-for-byte to stay in sync
		// with upstream rather than silently diverging.
		contains: []string{"master.json?query_string_ranges=0", "master.json?base64"},
		rules: []RxRule{
			{Pattern: `r^\{.+\}$`, Action: rewriteVimeoDashManifest},
		},
	},
	{
		contains: []string{"facebook.com/"},
		rules: []RxRule{
			{Pattern: `"dash_`, Action: RxReplaceAll(`"__nodash__`)},
			{Pattern: `_dash"`, Action: RxReplaceAll(`__nodash__"`)},
			{Pattern: `_dash_`, Action: RxReplaceAll(`__nodash__`)},
			{Pattern: `"debugNoBatching\s?":(?:false|0)`, Action: RxReplaceAll(`"debugNoBatching":true`)},
		},
	},
	{
		contains: []string{"instagram.com/"},
		rules: []RxRule{
			{Pattern: `"is_dash_eligible":(?:true|1)`, Action: RxReplaceAll(`"is_dash_eligible":false`)},
			{Pattern: `"debugNoBatching\s?":(?:false|0)`, Action: RxReplaceAll(`"debugNoBatching":true`)},
		},
	},
	{
		contains: []string{"api.twitter.com/2/", "twitter.com/i/api/2/", "twitter.com/i/api/graphql/"},
		rules: []RxRule{
			{Pattern: `"video_info":.*?\}\]\}`, Action: rewriteTwitterVideo(`"video_info":`)},
		},
	},
	{
		contains: []string{"cdn.syndication.twimg.com/tweet-result"},
		rules: []RxRule{
			{Pattern: `"video":.*?viewCount":\d+\}`, Action: rewriteTwitterVideo(`"video":`)},
		},
	},
	{
		contains: []string{"/vqlweb.js"},
		rules: []RxRule{
			// upstream uses a negative lookahead (?![*]) to avoid
			// double-commenting an already-commented call; re-expressed
			// as an explicit check in the action.
			{Pattern: `(?i)b\w+\.updatePortSize\(\);this\.updateApplicationSize\(\)`, Action: rewriteVqlwebComment},
		},
	},
}

// GetDSRules returns the domain-specific rx rules for the URL a payload
// was captured at (matched by substring), or nil if no domain-specific
// rule set applies.
func GetDSRules(path string) []RxRule {
	for _, rs := range dsRules {
		for _, substr := range rs.contains {
			if strings.Contains(path, substr) {
				return rs.rules
			}
		}
	}
	return nil
}

func rewriteVqlwebComment(m RxMatch) string {
	if m.End < len(m.Text) && m.Text[m.End] == '*' {
		return m.Groups[0]
	}
	return "/*" + m.Groups[0] + "*/"
}

func rewriteVimeoConfig(m RxMatch) string {
	var config map[string]any
	if err := json.Unmarshal([]byte(m.Groups[0]), &config); err != nil {
		return m.Groups[0]
	}

	request, _ := config["request"].(map[string]any)
	if request != nil {
		if files, ok := request["files"].(map[string]any); ok {
			if progressive, ok := files["progressive"].([]any); ok && len(progressive) > 0 {
				if dash, ok := files["dash"]; ok {
					files["__dash"] = dash
					delete(files, "dash")
				}
				if hls, ok := files["hls"]; ok {
					files["__hls"] = hls
					delete(files, "hls")
				}
				out, err := json.Marshal(config)
				if err == nil {
					return string(out)
				}
			}
		}
	}

	return strings.ReplaceAll(m.Groups[0], "query_string_ranges=1", "query_string_ranges=0")
}

var widthHeightRx = regexp.MustCompile(`(\d+)x(\d+)`)

func rewriteTwitterVideo(prefix string) RxAction {
	return func(m RxMatch) string {
		original := m.Groups[0]
		body := strings.TrimPrefix(original, prefix)

		var data map[string]any
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return original
		}
		variants, ok := data["variants"].([]any)
		if !ok {
			return original
		}

		var bestVariant any
		bestBitrate := 0.0

		for _, v := range variants {
			variant, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if ct, ok := variant["content_type"].(string); ok && ct != "video/mp4" {
				continue
			}
			if t, ok := variant["type"].(string); ok && t != "video/mp4" {
				continue
			}
			if bitrate, ok := variant["bitrate"].(float64); ok && bitrate > bestBitrate && bitrate <= maxBitrate {
				bestVariant = variant
				bestBitrate = bitrate
			} else if src, ok := variant["src"].(string); ok {
				if wh := widthHeightRx.FindStringSubmatch(src); wh != nil {
					w, h := atoiSafe(wh[1]), atoiSafe(wh[2])
					bitrate := float64(w * h)
					if bitrate > bestBitrate {
						bestBitrate = bitrate
						bestVariant = variant
					}
				}
			}
		}

		if bestVariant != nil {
			data["variants"] = []any{bestVariant}
		}

		out, err := json.Marshal(data)
		if err != nil {
			return original
		}
		return prefix + string(out)
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func rewriteVimeoDashManifest(m RxMatch) string {
	var manifest map[string]any
	if err := json.Unmarshal([]byte(m.Groups[0]), &manifest); err != nil {
		return m.Groups[0]
	}

	filterByBitrate := func(v any, mime string) any {
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			return v
		}
		var best any
		bestBitrate := -1.0
		for _, item := range arr {
			variant, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m, ok := variant["mime_type"].(string); !ok || m != mime {
				continue
			}
			bitrate, ok := variant["bitrate"].(float64)
			if !ok || bitrate <= bestBitrate || bitrate > maxBitrate {
				continue
			}
			bestBitrate = bitrate
			best = variant
		}
		if best != nil {
			return []any{best}
		}
		return arr
	}

	manifest["video"] = filterByBitrate(manifest["video"], "video/mp4")
	manifest["audio"] = filterByBitrate(manifest["audio"], "audio/mp4")

	out, err := json.Marshal(manifest)
	if err != nil {
		return m.Groups[0]
	}
	return string(out)
}
