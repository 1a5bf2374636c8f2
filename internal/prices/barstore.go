package prices

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Bar is one daily OHLCV record for a ticker.
type Bar struct {
	Ticker string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BarStore serves prices from a local SQLite table of daily bars. It is the
// first layer in front of the synthetic fallback.
type BarStore struct {
	db *sql.DB
}

func NewBarStore(path string) (*BarStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("prices: bar store path cannot be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &BarStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BarStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS price_bars (
			ticker TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (ticker, date)
		)`)
	return err
}

func (s *BarStore) Close() error { return s.db.Close() }

// UpsertBars loads or refreshes daily bars, replacing on conflict.
func (s *BarStore) UpsertBars(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_bars (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, date) DO UPDATE SET
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close,
			volume = excluded.volume`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			strings.ToUpper(b.Ticker), b.Date.UTC().Format("2006-01-02"),
			b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *BarStore) Price(ctx context.Context, ticker string, date time.Time) (float64, bool, error) {
	var close float64
	err := s.db.QueryRowContext(ctx,
		`SELECT close FROM price_bars WHERE ticker = ? AND date = ?`,
		strings.ToUpper(ticker), date.UTC().Format("2006-01-02")).Scan(&close)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return close, true, nil
}

func (s *BarStore) ClosingPrices(ctx context.Context, tickers []string, date time.Time) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		price, ok, err := s.Price(ctx, t, date)
		if err != nil {
			return nil, err
		}
		if ok {
			out[strings.ToUpper(t)] = price
		}
	}
	return out, nil
}
