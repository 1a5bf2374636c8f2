package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hadoku/internal/agentcfg"
	"hadoku/internal/backtest"
	"hadoku/internal/budget"
	"hadoku/internal/domain"
	"hadoku/internal/engine"
)

type handlers struct {
	store    SignalStore
	router   *engine.Router
	registry *agentcfg.Registry
	ledger   *budget.Ledger
	backtest *backtest.Service
}

// signalPayload is the wire shape of one disclosed trade.
type signalPayload struct {
	Source          string            `json:"source" binding:"required"`
	SourceLocalID   string            `json:"source_local_id" binding:"required"`
	Politician      domain.Politician `json:"politician"`
	Ticker          string            `json:"ticker" binding:"required"`
	Action          string            `json:"action" binding:"required"`
	AssetType       string            `json:"asset_type"`
	TradeDate       time.Time         `json:"trade_date" binding:"required"`
	TradePrice      float64           `json:"trade_price"`
	DisclosureDate  time.Time         `json:"disclosure_date" binding:"required"`
	DisclosurePrice float64           `json:"disclosure_price"`
	SizeMin         float64           `json:"size_min"`
	SizeMax         float64           `json:"size_max"`
}

func (p signalPayload) toDomain() (domain.Signal, error) {
	action, err := domain.ParseTradeAction(p.Action)
	if err != nil {
		return domain.Signal{}, err
	}
	if strings.TrimSpace(p.Politician.Name) == "" {
		return domain.Signal{}, errors.New("politician.name is required")
	}
	assetType := domain.AssetType(strings.ToLower(p.AssetType))
	if p.AssetType == "" {
		assetType = domain.AssetStock
	}
	return domain.Signal{
		Source:          p.Source,
		SourceLocalID:   p.SourceLocalID,
		Politician:      p.Politician,
		Ticker:          strings.ToUpper(strings.TrimSpace(p.Ticker)),
		Action:          action,
		AssetType:       assetType,
		TradeDate:       p.TradeDate,
		TradePrice:      p.TradePrice,
		DisclosureDate:  p.DisclosureDate,
		DisclosurePrice: p.DisclosurePrice,
		SizeMin:         p.SizeMin,
		SizeMax:         p.SizeMax,
		ScrapedAt:       time.Now().UTC(),
	}, nil
}

// ingestSignals accepts a batch of disclosed trades and stores the new ones.
// Duplicates are reported, not rejected, so scrapers can resend freely.
func (h *handlers) ingestSignals(c *gin.Context) {
	var payload []signalPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var inserted, duplicates int
	ids := make([]int64, 0, len(payload))
	for _, p := range payload {
		sig, err := p.toDomain()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, dup, err := h.store.InsertSignal(c.Request.Context(), sig)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if dup {
			duplicates++
			continue
		}
		inserted++
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{
		"inserted":   inserted,
		"duplicates": duplicates,
		"ids":        ids,
	})
}

func (h *handlers) processSignals(c *gin.Context) {
	stats, err := h.router.ProcessPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) listPositions(c *gin.Context) {
	positions, err := h.store.AllOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (h *handlers) listTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := h.store.ListTrades(c.Request.Context(), c.Query("agent_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *handlers) listAgents(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snapshot.Version,
		"loaded_at": snapshot.LoadedAt,
		"agents":    snapshot.Active(),
	})
}

func (h *handlers) resyncBudgets(c *gin.Context) {
	agents := h.registry.Snapshot().Active()
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	if err := h.ledger.Resync(c.Request.Context(), ids); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resynced": ids})
}

// backtestRequest starts a run over the supplied signals, defaulting the
// agent set to the live registry when none is given.
type backtestRequest struct {
	Start    time.Time                       `json:"start" binding:"required"`
	End      time.Time                       `json:"end" binding:"required"`
	Agents   []agentcfg.AgentConfig          `json:"agents"`
	Signals  []domain.Signal                 `json:"signals" binding:"required"`
	WinRates map[string]backtest.WinRateStat `json:"win_rates"`
	Seed     uint64                          `json:"seed"`
	// RiskFreeRate is the annual risk-free rate as a fraction, e.g. 0.05.
	RiskFreeRate float64 `json:"risk_free_rate"`
}

func (h *handlers) startBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agents := req.Agents
	if len(agents) == 0 {
		agents = h.registry.Snapshot().Active()
	}
	id, err := h.backtest.StartRun(backtest.Config{
		Start:        req.Start,
		End:          req.End,
		Agents:       agents,
		Signals:      req.Signals,
		WinRates:     req.WinRates,
		Seed:         req.Seed,
		RiskFreeRate: req.RiskFreeRate,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *handlers) listBacktests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.backtest.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handlers) getBacktest(c *gin.Context) {
	run, err := h.backtest.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
