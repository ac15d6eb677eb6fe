package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/pkg/domain"
)

func series(n int, start, step float64) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	v := start
	for i := 0; i < n; i++ {
		out[i] = decimal.NewFromFloat(v)
		v += step
	}
	return out
}

func TestValueInsufficientDataReturnsNilNotError(t *testing.T) {
	t.Parallel()
	v, err := Value(series(5, 100, 1), domain.IndicatorRSI, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestValueRSIOnRisingSeriesApproachesCeiling(t *testing.T) {
	t.Parallel()
	v, err := Value(series(30, 100, 1), domain.IndicatorRSI, nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Greater(t, *v, 90.0, "a monotonically rising series should read near-overbought RSI")
}

func TestValueEMAUsesCustomLength(t *testing.T) {
	t.Parallel()
	closes := series(25, 100, 1)
	v, err := Value(closes, domain.IndicatorEMA, map[string]int{"length": 10})
	require.NoError(t, err)
	require.NotNil(t, v)

	tooLong, err := Value(closes, domain.IndicatorEMA, map[string]int{"length": 50})
	require.NoError(t, err)
	assert.Nil(t, tooLong, "a length exceeding the series size must yield nil")
}

func TestValueMACDHistRequiresSlowPlusSignalSamples(t *testing.T) {
	t.Parallel()
	short := series(20, 100, 0.5)
	v, err := Value(short, domain.IndicatorMACDHist, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	long := series(60, 100, 0.5)
	v, err = Value(long, domain.IndicatorMACDHist, nil)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestValueUnknownIndicatorErrors(t *testing.T) {
	t.Parallel()
	_, err := Value(series(30, 100, 1), domain.IndicatorName("bogus"), nil)
	assert.Error(t, err)
}
