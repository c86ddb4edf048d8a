package rewrite

import (
	"regexp"
	"strings"
)

// RxMatch describes one match handed to an RxAction: the whole source
// text (so an action can look at what comes immediately before or after
// its own match; RE2 supports no lookaround, so assertions that would
// be lookahead/lookbehind live as explicit checks against
// Text[:Start]/Text[End:] inside the action instead of inside the
// pattern), the match bounds, and the rule's own capture groups
// (Groups[0] is the whole match).
type RxMatch struct {
	Text   string
	Start  int
	End    int
	Groups []string
}

// RxAction rewrites one matched substring, given full context.
type RxAction func(m RxMatch) string

// RxRule pairs a pattern with the action to run when it matches.
type RxRule struct {
	Pattern string
	Action  RxAction
}

// RxRewriter combines N (pattern, action) rules into a single compiled
// alternation so the whole input is scanned once, then dispatches each
// match to whichever rule's group participated. One O(length) pass
// instead of N.
type RxRewriter struct {
	rules   []RxRule
	compile *regexp.Regexp
	// groupOf[i] is the index, within compile's submatches, of rule i's
	// own group 0 (its outermost parenthesis).
	groupOf []int
}

// NewRxRewriter compiles rules into one alternation regex.
func NewRxRewriter(rules []RxRule) *RxRewriter {
	if len(rules) == 0 {
		return &RxRewriter{}
	}
	var buf strings.Builder
	groupOf := make([]int, len(rules))
	group := 1
	for i, r := range rules {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteByte('(')
		buf.WriteString(r.Pattern)
		buf.WriteByte(')')
		groupOf[i] = group
		group += 1 + regexp.MustCompile(r.Pattern).NumSubexp()
	}
	compiled := regexp.MustCompile(`(?m:` + buf.String() + `)`)
	return &RxRewriter{rules: rules, compile: compiled, groupOf: groupOf}
}

// Rewrite scans text once and replaces every match with its rule's
// Action result.
func (rw *RxRewriter) Rewrite(text string) string {
	if rw.compile == nil {
		return text
	}

	matches := rw.compile.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	for _, loc := range matches {
		start, end := loc[0], loc[1]
		b.WriteString(text[last:start])

		ruleIdx, groups := rw.resolveRule(text, loc)
		if ruleIdx < 0 {
			b.WriteString(text[start:end])
		} else {
			b.WriteString(rw.rules[ruleIdx].Action(RxMatch{
				Text: text, Start: start, End: end, Groups: groups,
			}))
		}
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// resolveRule finds which rule produced this match by checking, in order,
// which rule's own outermost group took part in the match (its span may
// be empty), and slices out that
// rule's own submatches.
func (rw *RxRewriter) resolveRule(text string, loc []int) (int, []string) {
	for i := range rw.rules {
		start := rw.groupOf[i] * 2
		if start+1 >= len(loc) {
			continue
		}
		if loc[start] == -1 {
			continue
		}
		groupEnd := len(loc) / 2
		if i+1 < len(rw.rules) {
			groupEnd = rw.groupOf[i+1]
		}
		groups := make([]string, 0, groupEnd-rw.groupOf[i])
		for g := rw.groupOf[i]; g < groupEnd; g++ {
			gs, ge := loc[g*2], loc[g*2+1]
			if gs == -1 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, text[gs:ge])
		}
		return i, groups
	}
	return -1, nil
}

// Helper action constructors for the common rewrite shapes.

func RxAddAround(prefix, suffix string) RxAction {
	return func(m RxMatch) string { return prefix + m.Groups[0] + suffix }
}

func RxAddPrefix(prefix string) RxAction { return RxAddAround(prefix, "") }

func RxAddSuffix(suffix string) RxAction { return RxAddAround("", suffix) }

func RxReplace(src, target string) RxAction {
	return func(m RxMatch) string { return strings.ReplaceAll(m.Groups[0], src, target) }
}

func RxReplaceAll(text string) RxAction {
	return func(RxMatch) string { return text }
}

func RxReplacePrefixFrom(prefix, match string) RxAction {
	return func(m RxMatch) string {
		x := m.Groups[0]
		idx := strings.Index(x, match)
		if idx <= 0 {
			return prefix
		}
		return x[:idx] + prefix
	}
}
