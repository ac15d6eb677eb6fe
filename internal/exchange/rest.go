package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldcore/pkg/domain"
)

// RESTClient is a generic REST adapter. It targets a configurable base URL
// with no exchange-specific signing scheme — callers provide an API
// key/secret pair; the key is sent as a bearer token and the secret in the
// X-API-Secret header.
type RESTClient struct {
	http   *resty.Client
	rl     *RateLimiter
	dryRun bool
	log    zerolog.Logger
}

// NewRESTClient builds a RESTClient with retry-on-5xx and rate limiting,
// grounded on the teacher's resty configuration.
func NewRESTClient(baseURL, apiKey, secret string, dryRun bool, log zerolog.Logger) *RESTClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(16 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return classifyStatus(r.StatusCode())
		}).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(apiKey)
	if secret != "" {
		http.SetHeader("X-API-Secret", secret)
	}

	return &RESTClient{
		http:   http,
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		log:    log.With().Str("component", "exchange.rest").Logger(),
	}
}

type balancesResponse struct {
	Balances map[domain.Asset]string `json:"balances"`
}

// GetAllBalances fetches every asset balance held on the exchange.
func (c *RESTClient) GetAllBalances(ctx context.Context) (map[domain.Asset]decimal.Decimal, error) {
	if err := c.rl.Balances.Wait(ctx); err != nil {
		return nil, err
	}
	var result balancesResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/balances")
	if err != nil {
		return nil, &ClassifiedError{Transient: true, Err: fmt.Errorf("get balances: %w", err)}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &ClassifiedError{Transient: classifyStatus(resp.StatusCode()), Err: fmt.Errorf("get balances: status %d: %s", resp.StatusCode(), resp.String())}
	}

	out := make(map[domain.Asset]decimal.Decimal, len(result.Balances))
	for asset, qty := range result.Balances {
		d, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s: %w", asset, err)
		}
		out[asset] = d
	}
	return out, nil
}

type pricesResponse struct {
	Prices map[domain.Asset]string `json:"prices"`
}

// GetSpotPrices fetches the current USD spot price for each requested asset.
func (c *RESTClient) GetSpotPrices(ctx context.Context, assets []domain.Asset) (map[domain.Asset]decimal.Decimal, error) {
	if err := c.rl.Prices.Wait(ctx); err != nil {
		return nil, err
	}
	symbols := make([]string, len(assets))
	for i, a := range assets {
		symbols[i] = string(a)
	}

	var result pricesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbols", fmt.Sprint(symbols)).
		SetResult(&result).
		Get("/prices")
	if err != nil {
		return nil, &ClassifiedError{Transient: true, Err: fmt.Errorf("get prices: %w", err)}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &ClassifiedError{Transient: classifyStatus(resp.StatusCode()), Err: fmt.Errorf("get prices: status %d: %s", resp.StatusCode(), resp.String())}
	}

	out := make(map[domain.Asset]decimal.Decimal, len(result.Prices))
	for asset, p := range result.Prices {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("parse price %s: %w", asset, err)
		}
		out[asset] = d
	}
	return out, nil
}

type collateralEntry struct {
	Asset  domain.Asset `json:"asset"`
	Locked string       `json:"locked"`
	LTV    string       `json:"ltv"`
	Health string       `json:"health"`
}

// GetCollateral fetches the current set of loan-collateral encumbrances.
// May return an empty slice if the owner has no open loans.
func (c *RESTClient) GetCollateral(ctx context.Context) ([]domain.CollateralRecord, error) {
	if err := c.rl.Balances.Wait(ctx); err != nil {
		return nil, err
	}
	var entries []collateralEntry
	resp, err := c.http.R().SetContext(ctx).SetResult(&entries).Get("/collateral")
	if err != nil {
		return nil, &ClassifiedError{Transient: true, Err: fmt.Errorf("get collateral: %w", err)}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &ClassifiedError{Transient: classifyStatus(resp.StatusCode()), Err: fmt.Errorf("get collateral: status %d: %s", resp.StatusCode(), resp.String())}
	}

	now := time.Now().UTC()
	out := make([]domain.CollateralRecord, 0, len(entries))
	for _, e := range entries {
		locked, err := decimal.NewFromString(e.Locked)
		if err != nil {
			return nil, fmt.Errorf("parse collateral locked: %w", err)
		}
		ltv, err := decimal.NewFromString(e.LTV)
		if err != nil {
			return nil, fmt.Errorf("parse collateral ltv: %w", err)
		}
		health, err := decimal.NewFromString(e.Health)
		if err != nil {
			return nil, fmt.Errorf("parse collateral health: %w", err)
		}
		out = append(out, domain.CollateralRecord{Asset: e.Asset, Locked: locked, LTV: ltv, Health: health, AsOf: now})
	}
	return out, nil
}

type orderPayload struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
}

type orderResponse struct {
	OrderID      string `json:"orderId"`
	FillQuantity string `json:"fillQuantity"`
	FillPrice    string `json:"fillPrice"`
	Fees         string `json:"fees"`
	Status       string `json:"status"`
}

// PlaceOrder submits a market order. DryRun short-circuits after producing a
// synthetic fill, matching the teacher's dryRun branch in every mutating
// client method.
func (c *RESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if c.dryRun || req.DryRun {
		c.log.Info().Str("asset", string(req.Symbol)).Str("side", string(req.Side)).Msg("dry-run: order not submitted")
		return OrderResult{
			OrderID:      "dry-run",
			FillQuantity: req.Quantity,
			FillPrice:    decimal.Zero,
			Fees:         decimal.Zero,
			Status:       domain.OrderStatusFilled,
		}, nil
	}
	if err := c.rl.Orders.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	payload := orderPayload{Symbol: string(req.Symbol), Side: string(req.Side), Quantity: req.Quantity.String()}
	var result orderResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(payload).SetResult(&result).Post("/orders")
	if err != nil {
		return OrderResult{}, &ClassifiedError{Transient: true, Err: fmt.Errorf("place order: %w", err)}
	}
	if resp.StatusCode() != http.StatusOK {
		transient := classifyStatus(resp.StatusCode())
		return OrderResult{}, &ClassifiedError{Transient: transient, Err: fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())}
	}

	fillQty, err := decimal.NewFromString(result.FillQuantity)
	if err != nil {
		return OrderResult{}, fmt.Errorf("parse fill quantity: %w", err)
	}
	fillPrice, err := decimal.NewFromString(result.FillPrice)
	if err != nil {
		return OrderResult{}, fmt.Errorf("parse fill price: %w", err)
	}
	fees, err := decimal.NewFromString(result.Fees)
	if err != nil {
		return OrderResult{}, fmt.Errorf("parse fees: %w", err)
	}

	return OrderResult{
		OrderID:      result.OrderID,
		FillQuantity: fillQty,
		FillPrice:    fillPrice,
		Fees:         fees,
		Status:       domain.OrderStatus(result.Status),
	}, nil
}
