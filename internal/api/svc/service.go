package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/backtest"
	"github.com/bikeshrana/cnquant/internal/core/events"
	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/signalgen"
	"github.com/bikeshrana/cnquant/internal/store"
	"github.com/bikeshrana/cnquant/internal/strategyload"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// Service wires the persisted task catalogue to the factor/signal/backtest
// engine for the HTTP handlers in internal/api/handlers.
type Service struct {
	store       *store.Store
	runner      *backtest.Runner
	strategyDir string
	eventBus    *events.EventBus
	metrics     *obs.EngineMetrics
	logger      zerolog.Logger
}

// NewService builds the API's engine-facing service.
func NewService(st *store.Store, runner *backtest.Runner, strategyDir string, eventBus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{store: st, runner: runner, strategyDir: strategyDir, eventBus: eventBus, logger: logger}
}

// SetMetrics attaches a Prometheus registry, propagated to every
// per-request factor.Cache this service builds. Nil-safe.
func (s *Service) SetMetrics(m *obs.EngineMetrics) {
	s.metrics = m
}

// ListTasks loads and validates every strategy declaration under the
// configured strategy directory (spec.md §6 "Strategy declaration").
func (s *Service) ListTasks() ([]types.Task, []error) {
	return strategyload.LoadDir(s.strategyDir)
}

// GetTask loads and returns one task by name.
func (s *Service) GetTask(name string) (types.Task, error) {
	tasks, errs := strategyload.LoadDir(s.strategyDir)
	for _, t := range tasks {
		if t.Name == name {
			return t, nil
		}
	}
	if len(errs) > 0 {
		return types.Task{}, fmt.Errorf("service: task %q not found (%d declarations failed to load)", name, len(errs))
	}
	return types.Task{}, fmt.Errorf("service: task %q not found", name)
}

// EvaluateSignals runs the signal generator for one task on one date
// against currently-empty holdings (spec.md §4.2).
func (s *Service) EvaluateSignals(ctx context.Context, taskName string, date time.Time) (signalgen.Result, error) {
	task, err := s.GetTask(taskName)
	if err != nil {
		return signalgen.Result{}, err
	}

	assetType := types.AssetETF
	if len(task.Symbols) > 0 {
		assetType = types.ClassifySymbol(task.Symbols[0])
	}

	uniCfg := backtest.DefaultFilterConfig(assetType)
	uni := universe.New(uniCfg, s.store, s.logger, nil)

	start := task.Start
	if start.IsZero() {
		start = date.AddDate(-1, 0, 0)
	}
	cache := factor.New(task.Symbols, start, date, s.store, s.logger)
	if s.metrics != nil {
		cache.SetMetrics(s.metrics, task.Name)
	}
	exprs := append(append([]string{}, task.SelectBuy...), task.SelectSell...)
	if task.OrderBySignal != "" {
		exprs = append(exprs, task.OrderBySignal)
	}
	if err := cache.Preload(ctx, exprs); err != nil {
		return signalgen.Result{}, fmt.Errorf("service: preload factors: %w", err)
	}

	gen := signalgen.New(cache, uni, assetType, s.logger)
	if s.metrics != nil {
		gen.SetMetrics(s.metrics)
	}
	result, err := gen.EvaluateForDate(task, date, map[string]bool{})
	if err != nil {
		return signalgen.Result{}, err
	}

	for i, sig := range result.Buys {
		s.eventBus.Publish(ctx, events.NewSignalEvent(task.Name, sig.Symbol, "BUY", sig.Score, i+1, date))
	}
	for _, sig := range result.Sells {
		s.eventBus.Publish(ctx, events.NewSignalEvent(task.Name, sig.Symbol, "SELL", sig.Score, 0, date))
	}

	return result, nil
}

// RunBacktest loads a task, builds its price history, and runs it through
// the backtest Runner, publishing a completion event when it finishes.
func (s *Service) RunBacktest(ctx context.Context, taskName string, kind types.BacktestKind) (types.BacktestReport, error) {
	task, err := s.GetTask(taskName)
	if err != nil {
		return types.BacktestReport{}, err
	}

	assetType := types.AssetETF
	if len(task.Symbols) > 0 {
		assetType = types.ClassifySymbol(task.Symbols[0])
	}

	closeFrame, err := s.store.LoadColumn(ctx, "close", task.Symbols, task.Start, task.End)
	if err != nil {
		return types.BacktestReport{}, fmt.Errorf("service: load price history: %w", err)
	}
	prices := make(map[string][]float64, len(task.Symbols))
	for _, sym := range task.Symbols {
		prices[sym] = closeFrame.Column(sym)
	}

	spec := backtest.RunSpec{
		Task:      task,
		Kind:      kind,
		AssetType: assetType,
		Dates:     closeFrame.Dates,
		Prices:    prices,
	}

	reports := s.runner.RunMany(ctx, []backtest.RunSpec{spec})
	report := reports[0]

	if err := s.store.SaveReport(ctx, report); err != nil {
		s.logger.Error().Err(err).Str("task", taskName).Msg("failed to persist backtest report")
	}

	s.eventBus.Publish(ctx, events.NewBacktestCompletedEvent(task.Name, string(report.Status), report.FinalValue, report.TotalReturn, report.Sharpe))
	return report, nil
}

// GetReport returns the most recently saved report for a task.
func (s *Service) GetReport(ctx context.Context, taskName string) (types.BacktestReport, error) {
	return s.store.LoadReport(ctx, taskName)
}
