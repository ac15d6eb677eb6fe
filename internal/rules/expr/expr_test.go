package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalArithmeticComparison(t *testing.T) {
	t.Parallel()
	vars := map[string]float64{"balances.BTC": 0.8, "baselines.BTC": 0.5}

	ok, err := Eval("balances.BTC - baselines.BTC > 0.2", vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("balances.BTC - baselines.BTC > 0.5", vars)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalLogicalOperators(t *testing.T) {
	t.Parallel()
	vars := map[string]float64{"rsi": 72, "price": 70000}

	ok, err := Eval("rsi > 70 && price > 60000", vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("rsi > 70 && price > 80000", vars)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Eval("rsi < 70 || price > 60000", vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("!(rsi < 70)", vars)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalParenthesesAndPrecedence(t *testing.T) {
	t.Parallel()
	vars := map[string]float64{"a": 2, "b": 3, "c": 4}

	ok, err := Eval("a + b * c == 14", vars)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("(a + b) * c == 20", vars)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalUnknownIdentifierErrors(t *testing.T) {
	t.Parallel()
	_, err := Eval("bogus > 1", map[string]float64{})
	assert.Error(t, err)
}

func TestEvalMalformedSyntaxErrors(t *testing.T) {
	t.Parallel()
	_, err := Eval("1 + + 2", map[string]float64{})
	assert.Error(t, err)
}
