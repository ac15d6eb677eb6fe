// Package exchange defines the narrow interface the trading core depends on
// for balances, prices, collateral, and order placement, plus two concrete
// implementations: RESTClient, a generic resty-based adapter for a
// configurable exchange REST API, and PaperClient, a deterministic in-memory
// adapter for dry-run mode and tests. Exchange-specific signing, WebSocket
// feeds, and on-chain order semantics are explicitly out of scope — any
// implementation satisfying this interface suffices.
package exchange

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// Client is the exchange surface the rest of the core consumes.
type Client interface {
	GetAllBalances(ctx context.Context) (map[domain.Asset]decimal.Decimal, error)
	GetSpotPrices(ctx context.Context, assets []domain.Asset) (map[domain.Asset]decimal.Decimal, error)
	GetCollateral(ctx context.Context) ([]domain.CollateralRecord, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// OrderRequest is the input to PlaceOrder.
type OrderRequest struct {
	Symbol   domain.Asset
	Side     domain.Side
	Quantity decimal.Decimal
	DryRun   bool
}

// OrderResult is the exchange's disposition of a placed order.
type OrderResult struct {
	OrderID      string
	FillQuantity decimal.Decimal
	FillPrice    decimal.Decimal
	Fees         decimal.Decimal
	Status       domain.OrderStatus
}

// ClassifiedError wraps an exchange error with a transient/fatal
// classification so callers — principally the approval executor's retry
// policy — don't need to re-derive it from the underlying error.
type ClassifiedError struct {
	Transient bool
	Err       error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// IsTransient reports whether err (as returned by a Client method) should be
// retried. Network timeouts and 429/5xx responses are transient; invalid
// order, insufficient balance, and authentication failures are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// classifyStatus maps an HTTP status code to transient/fatal per the
// resty retry-condition predicate this core inherited from its REST client.
func classifyStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
