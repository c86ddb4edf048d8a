package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRxRewriterDispatchesToMatchingRule(t *testing.T) {
	rw := NewRxRewriter([]RxRule{
		{Pattern: `foo`, Action: RxReplaceAll("FOO")},
		{Pattern: `bar(\d+)`, Action: func(m RxMatch) string { return "bar[" + m.Groups[1] + "]" }},
	})

	assert.Equal(t, "FOO and bar[42]", rw.Rewrite("foo and bar42"))
}

func TestRxRewriterSingleScanLeavesNonMatchesAlone(t *testing.T) {
	rw := NewRxRewriter([]RxRule{
		{Pattern: `aaa`, Action: RxReplaceAll("x")},
	})
	assert.Equal(t, "no triggers here", rw.Rewrite("no triggers here"))
}

func TestRxRewriterEmptyRuleSetIsIdentity(t *testing.T) {
	rw := NewRxRewriter(nil)
	assert.Equal(t, "anything", rw.Rewrite("anything"))
}

func TestRxRewriterInnerGroupsDoNotShiftDispatch(t *testing.T) {
	// The second rule's own capture groups must not be confused with the
	// first rule's alternation slot.
	rw := NewRxRewriter([]RxRule{
		{Pattern: `(a)(b)`, Action: RxReplaceAll("1st")},
		{Pattern: `c(d)`, Action: func(m RxMatch) string { return "2nd:" + m.Groups[1] }},
	})
	assert.Equal(t, "1st 2nd:d", rw.Rewrite("ab cd"))
}

func TestRxActionHelpers(t *testing.T) {
	assert.Equal(t, "<x>", RxAddAround("<", ">")(RxMatch{Groups: []string{"x"}}))
	assert.Equal(t, "px", RxAddPrefix("p")(RxMatch{Groups: []string{"x"}}))
	assert.Equal(t, "xs", RxAddSuffix("s")(RxMatch{Groups: []string{"x"}}))
	assert.Equal(t, "ya", RxReplace("x", "y")(RxMatch{Groups: []string{"xa"}}))
	assert.Equal(t, "gone", RxReplaceAll("gone")(RxMatch{Groups: []string{"whatever"}}))
	assert.Equal(t, "prefix", RxReplacePrefixFrom("prefix", "eval")(RxMatch{Groups: []string{"eval("}}))
	assert.Equal(t, " prefix", RxReplacePrefixFrom("prefix", "eval")(RxMatch{Groups: []string{" eval("}}))
}
