// Package store persists and retrieves the history/fundamentals/report
// tables of spec.md §6 over Postgres, and adapts that data into the
// factor.ColumnSource and universe.Source interfaces the engine consumes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/circuitbreaker"
	"github.com/bikeshrana/cnquant/internal/config"
	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/panel"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// Store wraps a Postgres connection pool with a circuit breaker
// implementing the TransientIOError retry policy (spec.md §7: exponential
// backoff base 1s, up to 3 tries).
type Store struct {
	pool    *pgxpool.Pool
	logger  zerolog.Logger
	breaker *circuitbreaker.CircuitBreaker
}

// New opens a connection pool against the given database config.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("store: parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLife

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	breakerCfg := circuitbreaker.DefaultConfig("store", logger)
	return &Store{pool: pool, logger: logger, breaker: circuitbreaker.New(breakerCfg)}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool for collaborators (the
// audit logger) that need raw Postgres access outside the ColumnSource
// / universe.Source surface.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// SetMetrics attaches a Prometheus registry to the store's circuit
// breaker, recording CircuitBreakerState/CircuitBreakerTrips.
func (s *Store) SetMetrics(m *obs.EngineMetrics) {
	s.breaker.SetMetrics(m)
}

// Health pings the connection pool for use by the API's /health endpoint.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// withRetry retries a transient I/O operation up to 3 times with
// exponential backoff (base 1s), wrapped in the circuit breaker
// (spec.md §7 "TransientIOError").
func (s *Store) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	delay := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		lastErr = s.breaker.Execute(func() error { return op(ctx) })
		if lastErr == nil {
			return nil
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return fmt.Errorf("store: operation failed after retries: %w", lastErr)
}

func historyTable(assetType types.AssetType, adjust types.Adjust) string {
	base := "stock_history"
	if assetType == types.AssetETF {
		base = "etf_history"
	}
	if adjust == types.AdjustQFQ {
		base += "_qfq"
	}
	return base
}

// LoadColumn implements factor.ColumnSource by loading one raw history
// field across symbols/dates from the history table named per asset type
// and adjust convention.
func (s *Store) LoadColumn(ctx context.Context, name string, symbols []string, start, end time.Time) (*panel.Frame, error) {
	if len(symbols) == 0 {
		return panel.NewFrame(name, nil, nil), nil
	}

	column, ok := columnMap[name]
	if !ok {
		return nil, fmt.Errorf("store: unsupported raw column %q", name)
	}

	assetType := types.ClassifySymbol(symbols[0])
	table := historyTable(assetType, types.AdjustQFQ)
	if column == "pe" || column == "pb" {
		table = "stock_fundamental_daily"
	}

	query := fmt.Sprintf(
		"SELECT symbol, date, %s FROM %s WHERE symbol = ANY($1) AND date BETWEEN $2 AND $3 ORDER BY date",
		column, table,
	)

	var rows rowIterator
	err := s.withRetry(ctx, func(ctx context.Context) error {
		r, err := s.pool.Query(ctx, query, symbols, start, end)
		if err != nil {
			return err
		}
		rows = rowIterator{r}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: load column %q: %w", name, err)
	}
	defer rows.Close()

	var longRows []panel.LongRow
	for rows.Next() {
		var sym string
		var date time.Time
		var value float64
		if err := rows.Scan(&sym, &date, &value); err != nil {
			return nil, fmt.Errorf("store: scan column %q: %w", name, err)
		}
		longRows = append(longRows, panel.LongRow{Date: date, Symbol: sym, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: row iteration for column %q: %w", name, err)
	}

	return panel.PivotWide(name, longRows), nil
}

// columnMap maps a raw factor column name to its table column.
var columnMap = map[string]string{
	"close":         "close",
	"open":          "open",
	"high":          "high",
	"low":           "low",
	"volume":        "volume",
	"amount":        "amount",
	"turnover_rate": "turnover_rate",
	"pe":            "pe",
	"pb":            "pb",
}

// rowIterator adapts pgx.Rows to a minimal interface so the pgx import
// only appears here.
type rowIterator struct {
	rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}
}

func (r rowIterator) Next() bool             { return r.rows.Next() }
func (r rowIterator) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r rowIterator) Err() error             { return r.rows.Err() }
func (r rowIterator) Close()                 { r.rows.Close() }

// AllSymbols implements universe.Source: every symbol with at least
// minDataDays of history rows for the given asset class.
func (s *Store) AllSymbols(kind universe.Kind, minDataDays int) []string {
	table := "stock_history"
	if kind == universe.KindETF {
		table = "etf_history"
	}
	query := fmt.Sprintf(
		"SELECT symbol FROM %s GROUP BY symbol HAVING count(*) >= $1",
		table,
	)
	ctx := context.Background()
	var symbols []string
	_ = s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, minDataDays)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sym string
			if err := rows.Scan(&sym); err != nil {
				return err
			}
			symbols = append(symbols, sym)
		}
		return rows.Err()
	})
	return symbols
}

// Metadata implements universe.Source over stock_metadata.
func (s *Store) Metadata(symbol string) (types.SymbolMetadata, bool) {
	var meta types.SymbolMetadata
	found := false
	ctx := context.Background()
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx,
			`SELECT symbol, name, sector, industry, list_date, is_st, is_suspend, is_new_ipo, total_mv, board
			 FROM stock_metadata WHERE symbol = $1`, symbol)
		err := row.Scan(&meta.Symbol, &meta.Name, &meta.Sector, &meta.Industry, &meta.ListDate,
			&meta.IsST, &meta.IsSuspend, &meta.IsNewIPO, &meta.TotalMV, &meta.Board)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("symbol", symbol).Msg("metadata lookup failed")
		return types.SymbolMetadata{}, false
	}
	return meta, found
}

// RecentBars implements universe.Source: the last `days` history rows
// for a symbol, used by the liquidity layer.
func (s *Store) RecentBars(symbol string, days int) []types.HistoryBar {
	assetType := types.ClassifySymbol(symbol)
	table := historyTable(assetType, types.AdjustRaw)
	query := fmt.Sprintf(
		"SELECT symbol, date, open, high, low, close, volume, amount, turnover_rate, change_pct, change_amount, amplitude "+
			"FROM %s WHERE symbol = $1 ORDER BY date DESC LIMIT $2", table)

	var bars []types.HistoryBar
	ctx := context.Background()
	_ = s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, symbol, days)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b types.HistoryBar
			if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
				&b.Amount, &b.TurnoverRate, &b.ChangePct, &b.ChangeAmount, &b.Amplitude); err != nil {
				return err
			}
			bars = append(bars, b)
		}
		return rows.Err()
	})
	// reverse to ascending date order
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars
}
