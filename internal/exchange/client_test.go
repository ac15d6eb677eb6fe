package exchange

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/pkg/domain"
)

func TestPaperClientRoundTrip(t *testing.T) {
	t.Parallel()
	balances := map[domain.Asset]decimal.Decimal{
		"BTC":  decimal.NewFromFloat(0.8),
		"USDC": decimal.NewFromFloat(1000),
	}
	prices := map[domain.Asset]decimal.Decimal{
		"BTC": decimal.NewFromFloat(70000),
	}
	client := NewPaperClient(balances, prices)

	got, err := client.GetAllBalances(context.Background())
	require.NoError(t, err)
	assert.True(t, got["BTC"].Equal(decimal.NewFromFloat(0.8)))

	gotPrices, err := client.GetSpotPrices(context.Background(), []domain.Asset{"BTC", "XRP"})
	require.NoError(t, err)
	assert.True(t, gotPrices["BTC"].Equal(decimal.NewFromFloat(70000)))
	_, hasXRP := gotPrices["XRP"]
	assert.False(t, hasXRP, "missing price should be omitted, not zero-valued")
}

func TestPaperClientPlaceOrderMutatesBalance(t *testing.T) {
	t.Parallel()
	client := NewPaperClient(
		map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(1.0)},
		map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(70000)},
	)

	res, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTC",
		Side:     domain.SideSell,
		Quantity: decimal.NewFromFloat(0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)

	balances, _ := client.GetAllBalances(context.Background())
	assert.True(t, balances["BTC"].Equal(decimal.NewFromFloat(0.7)), "got %s", balances["BTC"])
}

func TestPaperClientDryRunDoesNotMutateBalance(t *testing.T) {
	t.Parallel()
	client := NewPaperClient(
		map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(1.0)},
		map[domain.Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(70000)},
	)

	for i := 0; i < 3; i++ {
		_, err := client.PlaceOrder(context.Background(), OrderRequest{
			Symbol:   "BTC",
			Side:     domain.SideSell,
			Quantity: decimal.NewFromFloat(0.3),
			DryRun:   true,
		})
		require.NoError(t, err)
	}

	balances, _ := client.GetAllBalances(context.Background())
	assert.True(t, balances["BTC"].Equal(decimal.NewFromFloat(1.0)), "dry-run must not mutate balances")
}

func TestIsTransientClassifiesClassifiedError(t *testing.T) {
	t.Parallel()
	assert.True(t, IsTransient(&ClassifiedError{Transient: true, Err: errors.New("boom")}))
	assert.False(t, IsTransient(&ClassifiedError{Transient: false, Err: errors.New("insufficient balance")}))
	assert.False(t, IsTransient(nil))
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestIsTransientClassifiesNetworkTimeout(t *testing.T) {
	t.Parallel()
	assert.True(t, IsTransient(fakeTimeoutErr{}))
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	assert.True(t, classifyStatus(429))
	assert.True(t, classifyStatus(500))
	assert.True(t, classifyStatus(503))
	assert.False(t, classifyStatus(400))
	assert.False(t, classifyStatus(200))
}
