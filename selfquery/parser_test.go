package selfquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterNoFilter(t *testing.T) {
	for _, in := range []string{"NO_FILTER", "'NO_FILTER'", `"NO_FILTER"`, "", "   "} {
		expr, err := ParseFilter(in)
		require.NoError(t, err, "input %q", in)
		assert.Nil(t, expr, "input %q", in)
	}
}

func TestParseFilterComparison(t *testing.T) {
	expr, err := ParseFilter("eq('level', 'error')")
	require.NoError(t, err)
	assert.Equal(t, Comparison{Attribute: "level", Op: CompEQ, Value: "error"}, expr)

	expr, err = ParseFilter("gte('time', 'now-1h')")
	require.NoError(t, err)
	assert.Equal(t, Comparison{Attribute: "time", Op: CompGTE, Value: "now-1h"}, expr)
}

func TestParseFilterBareTokens(t *testing.T) {
	// Models occasionally drop the quotes around relative times.
	expr, err := ParseFilter("gte(time, now-1h)")
	require.NoError(t, err)
	assert.Equal(t, Comparison{Attribute: "time", Op: CompGTE, Value: "now-1h"}, expr)
}

func TestParseFilterConjunction(t *testing.T) {
	expr, err := ParseFilter("and(eq('level', 'error'), eq('ns', 'prod'), gte('time', 'now-1h'))")
	require.NoError(t, err)
	assert.Equal(t, And{
		Comparison{Attribute: "level", Op: CompEQ, Value: "error"},
		Comparison{Attribute: "ns", Op: CompEQ, Value: "prod"},
		Comparison{Attribute: "time", Op: CompGTE, Value: "now-1h"},
	}, expr)
}

func TestParseFilterNested(t *testing.T) {
	expr, err := ParseFilter("and(or(eq('level', 'error'), eq('level', 'warn')), eq('ns', 'prod'))")
	require.NoError(t, err)
	assert.Equal(t, And{
		Or{
			Comparison{Attribute: "level", Op: CompEQ, Value: "error"},
			Comparison{Attribute: "level", Op: CompEQ, Value: "warn"},
		},
		Comparison{Attribute: "ns", Op: CompEQ, Value: "prod"},
	}, expr)
}

func TestParseFilterNot(t *testing.T) {
	expr, err := ParseFilter("not(eq('svc', 'esb'))")
	require.NoError(t, err)
	assert.Equal(t, Not{Comparison{Attribute: "svc", Op: CompEQ, Value: "esb"}}, expr)
}

func TestParseFilterEmptyOrRejected(t *testing.T) {
	_, err := ParseFilter("or()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one argument")
}

func TestParseFilterErrors(t *testing.T) {
	cases := []string{
		"between('time', '1', '2')",
		"eq('level', 'error') garbage",
		"and(eq('level', 'error')",
		"eq('level'",
		"eq('level', 'error",
	}
	for _, in := range cases {
		_, err := ParseFilter(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseFilterKeepsNoFilterLeaves(t *testing.T) {
	// A NO_FILTER comparison value survives parsing; the translator is
	// responsible for dropping it.
	expr, err := ParseFilter("and(eq('level', 'NO_FILTER'), eq('ns', 'prod'))")
	require.NoError(t, err)
	assert.Equal(t, And{
		Comparison{Attribute: "level", Op: CompEQ, Value: NoFilter},
		Comparison{Attribute: "ns", Op: CompEQ, Value: "prod"},
	}, expr)
}
