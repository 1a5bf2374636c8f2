package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"hadoku/internal/agentcfg"
	"hadoku/internal/backtest"
	"hadoku/internal/broker"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/engine"
	"hadoku/internal/scoring"
	"hadoku/internal/store/gormstore"
)

type fixedPrices struct {
	price float64
}

func (p fixedPrices) Price(context.Context, string, time.Time) (float64, bool, error) {
	return p.price, true, nil
}

func (p fixedPrices) ClosingPrices(_ context.Context, tickers []string, _ time.Time) (map[string]float64, error) {
	out := map[string]float64{}
	for _, t := range tickers {
		out[t] = p.price
	}
	return out, nil
}

func apiAgent() agentcfg.AgentConfig {
	return agentcfg.AgentConfig{
		ID:            "follow-all",
		Name:          "Follow Everything",
		Enabled:       true,
		MonthlyBudget: 5000,
		Filters: agentcfg.FilterConfig{
			AssetTypes:       []domain.AssetType{domain.AssetStock, domain.AssetETF},
			MaxSignalAgeDays: 30,
			MaxPriceMovePct:  25,
		},
		Sizing: agentcfg.SizingConfig{
			Mode:             agentcfg.SizeEqualSplit,
			MaxOpenPositions: 10,
			MaxPerTicker:     2,
		},
		Exits: agentcfg.ExitConfig{
			StopLoss: agentcfg.StopLossConfig{Mode: agentcfg.StopFixed, ThresholdPct: 18},
		},
	}
}

func newTestServer(t *testing.T, apiKey string) (*Server, *gormstore.Store) {
	t.Helper()
	store, err := gormstore.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := agentcfg.NewStaticRegistry([]agentcfg.AgentConfig{apiAgent()})
	require.NoError(t, err)
	ledger, err := budget.NewLedger(store, func(id string) (float64, bool) {
		a, ok := registry.Agent(id)
		return a.MonthlyBudget, ok
	})
	require.NoError(t, err)
	scorer, err := scoring.NewEngine(store)
	require.NoError(t, err)
	router, err := engine.NewRouter(store, registry, scorer, ledger, fixedPrices{price: 100}, broker.NewPaper())
	require.NoError(t, err)

	runStore, err := backtest.NewRunStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { runStore.Close() })
	svc, err := backtest.NewService(runStore, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)

	srv, err := NewServer(ServerConfig{
		APIKey:   apiKey,
		Store:    store,
		Router:   router,
		Registry: registry,
		Ledger:   ledger,
		Backtest: svc,
	})
	require.NoError(t, err)
	return srv, store
}

func doJSON(t *testing.T, handler http.Handler, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func signalBody(localID, ticker string, action string, daysAgo int) map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"source":          "capitoltrades",
		"source_local_id": localID,
		"politician":      map[string]any{"name": "Jane Doe", "chamber": "house"},
		"ticker":          ticker,
		"action":          action,
		"asset_type":      "stock",
		"trade_date":      now.AddDate(0, 0, -daysAgo).Format(time.RFC3339),
		"trade_price":     100,
		"disclosure_date": now.AddDate(0, 0, -1).Format(time.RFC3339),
	}
}

func TestHealthzOpen(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/agents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/agents", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/agents", "secret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestAndProcess(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	t.Run("ingest batch reports duplicates", func(t *testing.T) {
		batch := []map[string]any{
			signalBody("ct-1", "NVDA", "buy", 5),
			signalBody("ct-1", "NVDA", "buy", 5),
		}
		w := doJSON(t, h, http.MethodPost, "/api/signals", "", batch)
		require.Equal(t, http.StatusOK, w.Code)
		body := gjson.Parse(w.Body.String())
		assert.Equal(t, int64(1), body.Get("inserted").Int())
		assert.Equal(t, int64(1), body.Get("duplicates").Int())
	})

	t.Run("malformed action is rejected", func(t *testing.T) {
		bad := signalBody("ct-2", "MSFT", "short", 5)
		w := doJSON(t, h, http.MethodPost, "/api/signals", "", []map[string]any{bad})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("process executes against the agent", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/signals/process", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		stats := gjson.Parse(w.Body.String())
		assert.Equal(t, int64(1), stats.Get("signals").Int())
		assert.Equal(t, int64(1), stats.Get("executed").Int())
	})

	t.Run("positions reflect the fill", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/api/positions", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		positions := gjson.Parse(w.Body.String()).Get("positions").Array()
		require.Len(t, positions, 1)
		assert.Equal(t, "NVDA", positions[0].Get("ticker").String())
	})

	t.Run("trades audit includes the execution", func(t *testing.T) {
		w := doJSON(t, h, http.MethodGet, "/api/trades?agent_id=follow-all", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		trades := gjson.Parse(w.Body.String()).Get("trades").Array()
		require.Len(t, trades, 1)
		assert.Equal(t, "executed", trades[0].Get("status").String())
	})
}

func TestListAgents(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/agents", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	agents := body.Get("agents").Array()
	require.Len(t, agents, 1)
	assert.Equal(t, "follow-all", agents[0].Get("id").String())
}

func TestResyncBudgets(t *testing.T) {
	srv, _ := newTestServer(t, "")
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/budgets/resync", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "follow-all", body.Get("resynced.0").String())
}

func TestBacktestEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	req := map[string]any{
		"start": "2026-01-05T00:00:00Z",
		"end":   "2026-01-30T00:00:00Z",
		"seed":  7,
		"signals": []map[string]any{{
			"source":          "capitoltrades",
			"source_local_id": "ct-1",
			"politician":      map[string]any{"name": "Jane Doe"},
			"ticker":          "NVDA",
			"action":          "buy",
			"asset_type":      "stock",
			"trade_date":      "2026-01-02T00:00:00Z",
			"trade_price":     100,
			"disclosure_date": "2026-01-06T00:00:00Z",
		}},
	}
	w := doJSON(t, h, http.MethodPost, "/api/backtest", "", req)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := gjson.Parse(w.Body.String()).Get("id").String()
	require.NotEmpty(t, id)

	// The run is asynchronous; poll until it finishes.
	require.Eventually(t, func() bool {
		resp := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/backtest/%s", id), "", nil)
		if resp.Code != http.StatusOK {
			return false
		}
		return gjson.Parse(resp.Body.String()).Get("status").String() == backtest.RunStatusDone
	}, 10*time.Second, 50*time.Millisecond)

	resp := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/backtest/%s", id), "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	results := gjson.Parse(resp.Body.String()).Get("results").Array()
	require.Len(t, results, 1)
	assert.Equal(t, "follow-all", results[0].Get("agent_id").String())
	assert.True(t, results[0].Get("synthetic_prices").Bool())

	t.Run("unknown run is 404", func(t *testing.T) {
		resp := doJSON(t, h, http.MethodGet, "/api/backtest/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("list includes the run", func(t *testing.T) {
		resp := doJSON(t, h, http.MethodGet, "/api/backtest", "", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		runs := gjson.Parse(resp.Body.String()).Get("runs").Array()
		require.NotEmpty(t, runs)
	})
}
