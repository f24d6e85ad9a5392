package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bikeshrana/cnquant/pkg/types"
)

// ErrReportNotFound is returned by LoadReport when no report has been
// saved for the given task name.
var ErrReportNotFound = errors.New("store: report not found")

// SaveReport upserts a BacktestReport into strategy_backtests, keyed by
// (task_name, version) per spec.md §6.
func (s *Store) SaveReport(ctx context.Context, report types.BacktestReport) error {
	equityJSON, err := json.Marshal(report.EquityCurve)
	if err != nil {
		return fmt.Errorf("store: marshal equity curve: %w", err)
	}
	monthlyJSON, err := json.Marshal(report.MonthlyReturns)
	if err != nil {
		return fmt.Errorf("store: marshal monthly returns: %w", err)
	}
	holdingsJSON, err := json.Marshal(report.FinalHoldings)
	if err != nil {
		return fmt.Errorf("store: marshal final holdings: %w", err)
	}

	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO strategy_backtests (
				task_name, version, asset_type, start_date, end_date, initial_capital,
				final_value, total_return, annual_return, sharpe, sortino, calmar,
				max_drawdown, var95, cvar95, avg_turnover, win_rate_daily, win_rate_weekly,
				win_rate_monthly, monthly_returns, equity_curve, final_holdings,
				total_trades, status, error_code, error_message, backtest_type
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27
			)
			ON CONFLICT (task_name, version) DO UPDATE SET (
				asset_type, start_date, end_date, initial_capital, final_value, total_return, annual_return,
				sharpe, sortino, calmar, max_drawdown, var95, cvar95, avg_turnover, win_rate_daily,
				win_rate_weekly, win_rate_monthly, monthly_returns, equity_curve, final_holdings,
				total_trades, status, error_code, error_message, backtest_type
			) = (
				EXCLUDED.asset_type, EXCLUDED.start_date, EXCLUDED.end_date, EXCLUDED.initial_capital,
				EXCLUDED.final_value, EXCLUDED.total_return, EXCLUDED.annual_return, EXCLUDED.sharpe,
				EXCLUDED.sortino, EXCLUDED.calmar, EXCLUDED.max_drawdown, EXCLUDED.var95, EXCLUDED.cvar95,
				EXCLUDED.avg_turnover, EXCLUDED.win_rate_daily, EXCLUDED.win_rate_weekly,
				EXCLUDED.win_rate_monthly, EXCLUDED.monthly_returns, EXCLUDED.equity_curve,
				EXCLUDED.final_holdings, EXCLUDED.total_trades, EXCLUDED.status, EXCLUDED.error_code,
				EXCLUDED.error_message, EXCLUDED.backtest_type
			)`,
			report.TaskName, report.Version, report.AssetType, report.Start, report.End, report.InitialCapital,
			report.FinalValue, report.TotalReturn, report.AnnualReturn, report.Sharpe, report.Sortino, report.Calmar,
			report.MaxDrawdown, report.VaR95, report.CVaR95, report.AvgTurnover,
			report.WinRates.Daily, report.WinRates.Weekly, report.WinRates.Monthly,
			monthlyJSON, equityJSON, holdingsJSON,
			report.TotalTrades, report.Status, report.ErrorCode, report.ErrorMessage, report.BacktestType,
		)
		return err
	})
}

// LoadReport fetches the latest version of a named backtest report.
func (s *Store) LoadReport(ctx context.Context, taskName string) (types.BacktestReport, error) {
	var report types.BacktestReport
	var equityJSON, monthlyJSON, holdingsJSON []byte

	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT task_name, version, asset_type, start_date, end_date, initial_capital,
				final_value, total_return, annual_return, sharpe, sortino, calmar,
				max_drawdown, var95, cvar95, avg_turnover, win_rate_daily, win_rate_weekly,
				win_rate_monthly, monthly_returns, equity_curve, final_holdings,
				total_trades, status, error_code, error_message, backtest_type
			FROM strategy_backtests WHERE task_name = $1 ORDER BY version DESC LIMIT 1`, taskName)
		return row.Scan(
			&report.TaskName, &report.Version, &report.AssetType, &report.Start, &report.End, &report.InitialCapital,
			&report.FinalValue, &report.TotalReturn, &report.AnnualReturn, &report.Sharpe, &report.Sortino, &report.Calmar,
			&report.MaxDrawdown, &report.VaR95, &report.CVaR95, &report.AvgTurnover,
			&report.WinRates.Daily, &report.WinRates.Weekly, &report.WinRates.Monthly,
			&monthlyJSON, &equityJSON, &holdingsJSON,
			&report.TotalTrades, &report.Status, &report.ErrorCode, &report.ErrorMessage, &report.BacktestType,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.BacktestReport{}, ErrReportNotFound
		}
		return types.BacktestReport{}, fmt.Errorf("store: load report %q: %w", taskName, err)
	}

	if err := json.Unmarshal(monthlyJSON, &report.MonthlyReturns); err != nil {
		return types.BacktestReport{}, fmt.Errorf("store: unmarshal monthly returns: %w", err)
	}
	if err := json.Unmarshal(equityJSON, &report.EquityCurve); err != nil {
		return types.BacktestReport{}, fmt.Errorf("store: unmarshal equity curve: %w", err)
	}
	if err := json.Unmarshal(holdingsJSON, &report.FinalHoldings); err != nil {
		return types.BacktestReport{}, fmt.Errorf("store: unmarshal final holdings: %w", err)
	}
	return report, nil
}
