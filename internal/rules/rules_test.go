package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRuleAndEval(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.AddRule(1, `"approved" in Tags`))
	require.True(t, e.HasRule(1))

	require.True(t, e.Eval(1, Candidate{Tags: []string{"draft", "approved"}}))
	require.False(t, e.Eval(1, Candidate{Tags: []string{"draft"}}))
}

func TestEvalWithoutRuleBoundDenies(t *testing.T) {
	e := NewEngine()
	require.False(t, e.HasRule(99))
	require.False(t, e.Eval(99, Candidate{}))
}

func TestEvalErrorDemotesToFalse(t *testing.T) {
	e := NewEngine()
	// A rule referencing a field the Candidate struct doesn't expose fails
	// to compile; AddRule surfaces that as a distinct error (compilation is
	// not evaluation), but a rule that compiles and references data not
	// present at eval time must still deny rather than panic or error.
	require.NoError(t, e.AddRule(2, `Tags[0] == "approved"`))
	require.False(t, e.Eval(2, Candidate{Tags: nil}))
}

func TestAddRuleRejectsInvalidSource(t *testing.T) {
	e := NewEngine()
	err := e.AddRule(3, `this is not valid expr syntax {{{`)
	require.Error(t, err)
}
