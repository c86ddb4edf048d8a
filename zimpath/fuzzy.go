package zimpath

import (
	_ "embed"
	"regexp"

	"gopkg.in/yaml.v3"
)

// fuzzyRulesYAML is the single source of truth for the fuzzy reduction
// table. It is also rendered into the wombat_setup.js playback static asset
// so the archive reader applies the identical reductions on the client
// side; any divergence between the two is a correctness bug.
//
//go:embed fuzzy_rules.yaml
var fuzzyRulesYAML []byte

type fuzzyRule struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

type compiledFuzzyRule struct {
	match   *regexp.Regexp
	replace string
}

var compiledFuzzyRules = mustCompileFuzzyRules(fuzzyRulesYAML)

func mustCompileFuzzyRules(doc []byte) []compiledFuzzyRule {
	var rules []fuzzyRule
	if err := yaml.Unmarshal(doc, &rules); err != nil {
		panic("zimpath: invalid embedded fuzzy_rules.yaml: " + err.Error())
	}
	compiled := make([]compiledFuzzyRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, compiledFuzzyRule{
			match:   regexp.MustCompile(anchorLeft(r.Pattern)),
			replace: r.Replace,
		})
	}
	return compiled
}

// anchorLeft pins a pattern to the start of the path;
// FindStringSubmatchIndex would otherwise match anywhere in the string.
func anchorLeft(pattern string) string {
	if len(pattern) > 0 && pattern[0] == '^' {
		return pattern
	}
	return `\A(?:` + pattern + `)`
}

// Reduce runs a raw ZIM path through the ordered fuzzy rule table,
// returning the first rule's rewrite on match, or the input unchanged.
func Reduce(path string) string {
	for _, rule := range compiledFuzzyRules {
		loc := rule.match.FindStringSubmatchIndex(path)
		if loc == nil {
			continue
		}
		return string(rule.match.ExpandString(nil, rule.replace, path, loc))
	}
	return path
}

// FuzzyRule is the exported, decoded form of one fuzzy reduction rule.
// JSReplace is the same replacement template in JavaScript
// String.prototype.replace syntax ("$1" instead of Go's "${1}"), for
// rendering the table into the playback-side static asset.
type FuzzyRule struct {
	Pattern   string
	Replace   string
	JSReplace string
}

var goGroupRefRx = regexp.MustCompile(`\$\{(\d+)\}`)

// FuzzyRules returns the ordered fuzzy rule table as loaded from
// fuzzy_rules.yaml, for callers (e.g. the wombat_setup.js renderer) that
// need the raw pattern/replace pairs rather than the compiled matcher.
func FuzzyRules() []FuzzyRule {
	var rules []fuzzyRule
	// Parse error is impossible here: mustCompileFuzzyRules already
	// validated the same document at package init.
	_ = yaml.Unmarshal(fuzzyRulesYAML, &rules)
	out := make([]FuzzyRule, len(rules))
	for i, r := range rules {
		out[i] = FuzzyRule{
			Pattern:   r.Pattern,
			Replace:   r.Replace,
			JSReplace: goGroupRefRx.ReplaceAllString(r.Replace, "$$$1"),
		}
	}
	return out
}
