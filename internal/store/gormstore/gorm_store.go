// Package gormstore persists signals, positions, trade audit rows and agent
// budgets in SQLite through gorm.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hadoku/internal/budget"
	"hadoku/internal/domain"
	storemodel "hadoku/internal/store/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type signalModel = storemodel.SignalModel
type positionModel = storemodel.PositionModel
type tradeModel = storemodel.TradeModel
type budgetModel = storemodel.BudgetModel
type budgetState = budget.State

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the SQLite database at path and migrates the
// schema.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	return open(dsn)
}

// NewMemoryStore opens a private in-memory database; used in tests. The
// unique name keeps concurrent stores from sharing one database while the
// shared cache lets the small connection pool see the same data.
func NewMemoryStore() (*Store, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&signalModel{},
		&positionModel{},
		&tradeModel{},
		&budgetModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep the pool small to avoid write-lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---- signals ----

// InsertSignal stores a signal unless it is a duplicate. Duplicates are
// detected on (source, source_local_id) and, across sources, on the logical
// trade signature. The second return value reports "duplicate".
func (s *Store) InsertSignal(ctx context.Context, sig domain.Signal) (int64, bool, error) {
	signature := sig.TradeSignature()
	var count int64
	err := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("(source = ? AND source_local_id = ?) OR trade_signature = ?",
			sig.Source, sig.SourceLocalID, signature).
		Count(&count).Error
	if err != nil {
		return 0, false, err
	}
	if count > 0 {
		return 0, true, nil
	}
	row := signalToModel(sig)
	row.TradeSignature = signature
	row.CreatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, false, err
	}
	return row.ID, false, nil
}

// ListPendingSignals returns unprocessed signals in disclosure-date order.
func (s *Store) ListPendingSignals(ctx context.Context) ([]domain.Signal, error) {
	var rows []signalModel
	err := s.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("disclosure_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Signal, 0, len(rows))
	for _, row := range rows {
		out = append(out, signalFromModel(row))
	}
	return out, nil
}

func (s *Store) MarkSignalProcessed(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&signalModel{}).
		Where("id = ?", id).
		Update("processed_at", at.UTC()).Error
}

// ---- positions ----

func (s *Store) CreatePosition(ctx context.Context, pos *domain.Position) error {
	if pos.Shares <= 0 || pos.EntryPrice <= 0 {
		return fmt.Errorf("store: refusing to create position with shares=%.4f price=%.4f", pos.Shares, pos.EntryPrice)
	}
	row := positionToModel(*pos)
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	pos.ID = row.ID
	return nil
}

func (s *Store) OpenPositions(ctx context.Context, agentID string) ([]domain.Position, error) {
	return s.findPositions(ctx, "agent_id = ? AND status = ?", agentID, string(domain.PositionOpen))
}

func (s *Store) AllOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return s.findPositions(ctx, "status = ?", string(domain.PositionOpen))
}

func (s *Store) OpenPositionsByTicker(ctx context.Context, agentID, ticker string) ([]domain.Position, error) {
	return s.findPositions(ctx, "agent_id = ? AND ticker = ? AND status = ?",
		agentID, ticker, string(domain.PositionOpen))
}

func (s *Store) findPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	var rows []positionModel
	err := s.db.WithContext(ctx).Where(query, args...).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, positionFromModel(row))
	}
	return out, nil
}

func (s *Store) CountOpenPositions(ctx context.Context, agentID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("agent_id = ? AND status = ?", agentID, string(domain.PositionOpen)).
		Count(&n).Error
	return int(n), err
}

func (s *Store) CountOpenByTicker(ctx context.Context, agentID, ticker string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("agent_id = ? AND ticker = ? AND status = ?", agentID, ticker, string(domain.PositionOpen)).
		Count(&n).Error
	return int(n), err
}

// UpdateWatermark persists a raised highest-price watermark. The SQL guard
// keeps the column monotone even under concurrent ticks.
func (s *Store) UpdateWatermark(ctx context.Context, id int64, price float64) error {
	return s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ? AND highest_price < ?", id, price).
		Updates(map[string]any{"highest_price": price, "updated_at": time.Now().UTC()}).Error
}

// ReducePosition applies a partial close: fewer shares, partial_sold set.
func (s *Store) ReducePosition(ctx context.Context, id int64, remainingShares float64) error {
	if remainingShares <= 0 {
		return fmt.Errorf("store: partial close must leave shares, got %.4f", remainingShares)
	}
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ? AND status = ? AND shares > ?", id, string(domain.PositionOpen), remainingShares).
		Updates(map[string]any{
			"shares":       remainingShares,
			"partial_sold": true,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: partial close rejected for position %d", id)
	}
	return nil
}

// ClosePosition finalizes a position. Close fields are mandatory: a closed
// row without them would violate the data model.
func (s *Store) ClosePosition(ctx context.Context, id int64, price float64, reason domain.ExitReason, at time.Time) error {
	if price <= 0 || reason == "" {
		return fmt.Errorf("store: close requires price and reason (price=%.4f reason=%q)", price, reason)
	}
	res := s.db.WithContext(ctx).Model(&positionModel{}).
		Where("id = ? AND status = ?", id, string(domain.PositionOpen)).
		Updates(map[string]any{
			"status":       string(domain.PositionClosed),
			"close_price":  price,
			"close_reason": string(reason),
			"closed_at":    at.UTC(),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: position %d is not open", id)
	}
	return nil
}

// ---- trades ----

func (s *Store) HasTrade(ctx context.Context, agentID string, signalID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("agent_id = ? AND signal_id = ?", agentID, signalID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) InsertTrade(ctx context.Context, rec *domain.TradeRecord) error {
	row, err := tradeToModel(*rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	rec.CreatedAt = row.CreatedAt
	rec.UpdatedAt = row.UpdatedAt
	return nil
}

// UpdateTradeOutcome records the execution result on an existing audit row.
func (s *Store) UpdateTradeOutcome(ctx context.Context, id string, status domain.TradeStatus, quantity, price, total float64, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"quantity":   quantity,
			"price":      price,
			"total":      total,
			"error_msg":  errMsg,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: trade %s not found", id)
	}
	return nil
}

func (s *Store) ListTrades(ctx context.Context, agentID string, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&tradeModel{}).Order("created_at DESC").Limit(limit)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	var rows []tradeModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TradeRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := tradeFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ---- budgets (budget.Store) ----

func (s *Store) GetBudget(ctx context.Context, agentID, month string) (*budgetState, error) {
	var row budgetModel
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND month = ?", agentID, month).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state := budgetFromModel(row)
	return &state, nil
}

func (s *Store) CreateBudget(ctx context.Context, state budgetState) error {
	row := budgetModel{
		AgentID:   state.AgentID,
		Month:     state.Month,
		Total:     state.Total.InexactFloat64(),
		Spent:     state.Spent.InexactFloat64(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// AddSpent is the atomic increment the ledger relies on.
func (s *Store) AddSpent(ctx context.Context, agentID, month string, delta decimal.Decimal) error {
	res := s.db.WithContext(ctx).Model(&budgetModel{}).
		Where("agent_id = ? AND month = ?", agentID, month).
		Updates(map[string]any{
			"spent":      gorm.Expr("spent + ?", delta.InexactFloat64()),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: budget %s/%s does not exist", agentID, month)
	}
	return nil
}

// ---- history lookups (scoring.HistoryLookup) ----

// PoliticianWinRate derives the politician's win rate from this system's own
// closed positions attributed to their signals.
func (s *Store) PoliticianWinRate(ctx context.Context, politician string) (float64, int, error) {
	type row struct {
		Total int64
		Wins  int64
	}
	var r row
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total,
		       SUM(CASE WHEN p.close_price > p.entry_price THEN 1 ELSE 0 END) AS wins
		FROM positions p
		JOIN signals s ON s.id = p.signal_id
		WHERE p.status = ? AND LOWER(s.politician_name) = LOWER(?)`,
		string(domain.PositionClosed), politician).Scan(&r).Error
	if err != nil {
		return 0, 0, err
	}
	if r.Total == 0 {
		return 0, 0, nil
	}
	return float64(r.Wins) / float64(r.Total), int(r.Total), nil
}

// ConfirmationCount counts distinct sources reporting the same trade triple.
func (s *Store) ConfirmationCount(ctx context.Context, ticker string, action domain.TradeAction, tradeDate string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&signalModel{}).
		Where("ticker = ? AND action = ? AND DATE(trade_date) = ?", ticker, string(action), tradeDate).
		Distinct("source").
		Count(&n).Error
	return int(n), err
}

// ---- conversions ----

func signalToModel(sig domain.Signal) signalModel {
	return signalModel{
		ID:              sig.ID,
		Source:          sig.Source,
		SourceLocalID:   sig.SourceLocalID,
		PoliticianName:  sig.Politician.Name,
		Chamber:         sig.Politician.Chamber,
		Party:           sig.Politician.Party,
		State:           sig.Politician.State,
		Ticker:          strings.ToUpper(sig.Ticker),
		Action:          string(sig.Action),
		AssetType:       string(sig.AssetType),
		TradeDate:       sig.TradeDate.UTC(),
		TradePrice:      sig.TradePrice,
		DisclosureDate:  sig.DisclosureDate.UTC(),
		DisclosurePrice: sig.DisclosurePrice,
		SizeMin:         sig.SizeMin,
		SizeMax:         sig.SizeMax,
		ScrapedAt:       sig.ScrapedAt.UTC(),
	}
}

func signalFromModel(row signalModel) domain.Signal {
	return domain.Signal{
		ID:            row.ID,
		Source:        row.Source,
		SourceLocalID: row.SourceLocalID,
		Politician: domain.Politician{
			Name:    row.PoliticianName,
			Chamber: row.Chamber,
			Party:   row.Party,
			State:   row.State,
		},
		Ticker:          row.Ticker,
		Action:          domain.TradeAction(row.Action),
		AssetType:       domain.AssetType(row.AssetType),
		TradeDate:       row.TradeDate,
		TradePrice:      row.TradePrice,
		DisclosureDate:  row.DisclosureDate,
		DisclosurePrice: row.DisclosurePrice,
		SizeMin:         row.SizeMin,
		SizeMax:         row.SizeMax,
		ScrapedAt:       row.ScrapedAt,
	}
}

func positionToModel(pos domain.Position) positionModel {
	return positionModel{
		ID:           pos.ID,
		AgentID:      pos.AgentID,
		SignalID:     pos.SignalID,
		Ticker:       strings.ToUpper(pos.Ticker),
		AssetType:    string(pos.AssetType),
		Shares:       pos.Shares,
		EntryPrice:   pos.EntryPrice,
		EntryDate:    pos.EntryDate.UTC(),
		CostBasis:    pos.CostBasis,
		HighestPrice: pos.HighestPrice,
		PartialSold:  pos.PartialSold,
		Status:       string(pos.Status),
		ClosedAt:     pos.ClosedAt,
		ClosePrice:   pos.ClosePrice,
		CloseReason:  string(pos.CloseReason),
	}
}

func positionFromModel(row positionModel) domain.Position {
	return domain.Position{
		ID:           row.ID,
		AgentID:      row.AgentID,
		SignalID:     row.SignalID,
		Ticker:       row.Ticker,
		AssetType:    domain.AssetType(row.AssetType),
		Shares:       row.Shares,
		EntryPrice:   row.EntryPrice,
		EntryDate:    row.EntryDate,
		CostBasis:    row.CostBasis,
		HighestPrice: row.HighestPrice,
		PartialSold:  row.PartialSold,
		Status:       domain.PositionStatus(row.Status),
		ClosedAt:     row.ClosedAt,
		ClosePrice:   row.ClosePrice,
		CloseReason:  domain.ExitReason(row.CloseReason),
	}
}

func tradeToModel(rec domain.TradeRecord) (tradeModel, error) {
	var parts datatypes.JSON
	if len(rec.ScoreParts) > 0 {
		raw, err := json.Marshal(rec.ScoreParts)
		if err != nil {
			return tradeModel{}, err
		}
		parts = datatypes.JSON(raw)
	}
	return tradeModel{
		ID:         rec.ID,
		AgentID:    rec.AgentID,
		SignalID:   rec.SignalID,
		Ticker:     strings.ToUpper(rec.Ticker),
		Action:     string(rec.Action),
		Reason:     rec.Reason,
		Score:      rec.Score,
		ScoreParts: parts,
		Quantity:   rec.Quantity,
		Price:      rec.Price,
		Total:      rec.Total,
		Status:     string(rec.Status),
		ErrorMsg:   rec.ErrorMsg,
	}, nil
}

func tradeFromModel(row tradeModel) (domain.TradeRecord, error) {
	rec := domain.TradeRecord{
		ID:        row.ID,
		AgentID:   row.AgentID,
		SignalID:  row.SignalID,
		Ticker:    row.Ticker,
		Action:    domain.DecisionAction(row.Action),
		Reason:    row.Reason,
		Score:     row.Score,
		Quantity:  row.Quantity,
		Price:     row.Price,
		Total:     row.Total,
		Status:    domain.TradeStatus(row.Status),
		ErrorMsg:  row.ErrorMsg,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.ScoreParts) > 0 {
		if err := json.Unmarshal(row.ScoreParts, &rec.ScoreParts); err != nil {
			return domain.TradeRecord{}, err
		}
	}
	return rec, nil
}

func budgetFromModel(row budgetModel) budgetState {
	return budgetState{
		AgentID: row.AgentID,
		Month:   row.Month,
		Total:   decimal.NewFromFloat(row.Total),
		Spent:   decimal.NewFromFloat(row.Spent),
	}
}
