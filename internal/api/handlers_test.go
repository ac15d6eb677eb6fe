package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldcore/internal/approval"
	"goldcore/internal/config"
	"goldcore/internal/eventbus"
	"goldcore/internal/exchange"
	"goldcore/internal/optimizer"
	"goldcore/internal/orchestrator"
	"goldcore/internal/risk"
	"goldcore/internal/rules"
	"goldcore/internal/store"
	"goldcore/pkg/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestServer(t *testing.T, ownerID string) *Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "api_test.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New(zerolog.Nop())
	done := make(chan struct{})
	go bus.Run(done)
	t.Cleanup(func() { close(done) })

	cfg := config.Config{
		Owner:     config.OwnerConfig{ID: ownerID},
		API:       config.APIConfig{Port: 0},
		Risk:      config.RiskConfig{MinTradeUSD: 1, DailyLossLimit: 100000, MaxPositionPct: 1, CollateralLTVWarn: 0.7},
		MFA:       config.MFAConfig{ThresholdUSD: 5000, Expiry: 5 * time.Minute},
		Optimizer: config.OptimizerConfig{WindowDays: 30, ImprovementThreshold: 0.1, FeeRate: 0.006, Seed: 1, Schedule: "0 2 * * *"},
	}

	riskMgr := risk.New(cfg.Risk, nil, zerolog.Nop())
	client := exchange.NewPaperClient(map[domain.Asset]decimal.Decimal{"ETH": dec("10")}, map[domain.Asset]decimal.Decimal{"ETH": dec("3000")})
	workflow := approval.New(st, bus, riskMgr, client, cfg, zerolog.Nop())
	evaluator := rules.NewEvaluator(zerolog.Nop())
	orch := orchestrator.New(st, evaluator, riskMgr, workflow, bus, noopPrices{}, zerolog.Nop())
	opt := optimizer.New(cfg.Optimizer, st, bus, zerolog.Nop())

	return NewServer(Deps{
		Config:       cfg,
		Store:        st,
		Bus:          bus,
		Risk:         riskMgr,
		Workflow:     workflow,
		Optimizer:    opt,
		Evaluator:    evaluator,
		Orchestrator: orch,
		Exchange:     client,
		Log:          zerolog.Nop(),
	})
}

type noopPrices struct{}

func (noopPrices) PriceSeries(asset domain.Asset) []decimal.Decimal { return nil }
func (noopPrices) PriceChangePct(asset domain.Asset, windowMins int) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, ownerID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if ownerID != "" {
		req.Header.Set(ownerHeader, ownerID)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestKillSwitchGetDefaultsDisabled(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")
	rec := doRequest(t, s, http.MethodGet, "/kill-switch/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var ks domain.KillSwitch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ks))
	assert.False(t, ks.Enabled)
}

func TestKillSwitchSetRequiresOwner(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")

	rec := doRequest(t, s, http.MethodPost, "/kill-switch/", killSwitchRequest{Enabled: true, Reason: "test"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/kill-switch/", killSwitchRequest{Enabled: true, Reason: "test", SetBy: "owner1"}, "owner1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/kill-switch/", nil, "")
	var ks domain.KillSwitch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ks))
	assert.True(t, ks.Enabled)
}

func TestObjectivesRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")

	obj := domain.Objectives{
		CoreAssets: map[domain.Asset]domain.CoreAssetPolicy{"BTC": {Baseline: dec("0.5"), AutoExecute: true}},
	}
	rec := doRequest(t, s, http.MethodPut, "/objectives/", obj, "owner1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/objectives/", nil, "")
	var got domain.Objectives
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.CoreAssets["BTC"].AutoExecute)
}

func TestRulesCreateRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")

	req := ruleCreateRequest{
		Name:    "broken",
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Conditions: []domain.Condition{
			{Kind: domain.ConditionPriceChangePct}, // missing Cmp
		},
		Actions: []domain.Action{{Kind: domain.ActionAlertOnly, Message: "hi"}},
	}
	rec := doRequest(t, s, http.MethodPost, "/rules/", req, "owner1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRulesCreateThenListThenActivate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")

	req := ruleCreateRequest{
		Name:    "alert-only",
		Trigger: domain.Trigger{Type: domain.TriggerInterval, Every: time.Minute},
		Actions: []domain.Action{{Kind: domain.ActionAlertOnly, Message: "hi"}},
		Enabled: false,
	}
	rec := doRequest(t, s, http.MethodPost, "/rules/", req, "owner1")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doRequest(t, s, http.MethodGet, "/rules/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doRequest(t, s, http.MethodPost, "/rules/"+created.ID+"/activate", ruleActivateRequest{Enabled: true}, "owner1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApprovalsCreateAndPatch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")

	req := approvalCreateRequest{
		Action:   domain.Action{Kind: domain.ActionEnter, Symbol: "ETH"},
		Quantity: "1",
		Price:    "3000",
		Reason:   "integration test",
	}
	rec := doRequest(t, s, http.MethodPost, "/approvals/", req, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var decision orchestrator.IntentDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.NotNil(t, decision.Approval)
	assert.Equal(t, domain.ApprovalPending, decision.Approval.Status)

	rec = doRequest(t, s, http.MethodPatch, "/approvals/"+decision.Approval.ID, approvalPatchRequest{Status: domain.ApprovalDeclined, ActedBy: "owner1"}, "owner1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var updated domain.Approval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, domain.ApprovalDeclined, updated.Status)
}

func TestRiskStateEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")
	rec := doRequest(t, s, http.MethodGet, "/risk/state", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonteCarloRequiresReturns(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "owner1")
	rec := doRequest(t, s, http.MethodPost, "/monte-carlo", monteCarloRequest{Returns: nil, Runs: 100}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/monte-carlo", monteCarloRequest{Returns: []float64{0.01, -0.02, 0.03}, Runs: 100, Seed: 42}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
