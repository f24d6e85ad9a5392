package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/metrics"
	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/portfolio"
	"github.com/bikeshrana/cnquant/internal/rotation"
	"github.com/bikeshrana/cnquant/internal/signalgen"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// RunSpec is one backtest request: a Task plus the kind of engine to run
// it through and the universe it resolves against (spec.md §4.3/§4.4).
type RunSpec struct {
	Task      types.Task
	Kind      types.BacktestKind
	AssetType types.AssetType
	Dates     []time.Time
	Prices    map[string][]float64
}

// Runner bounds concurrent backtest execution to the maxParallel given to
// NewRunner (config max_parallel_backtests; values <= 0 mean 1) using a
// weighted semaphore, and wraps each run with a timeout (spec.md §7
// BacktestTimeoutError).
type Runner struct {
	cacheSource factor.ColumnSource
	uniSource   universe.Source
	sem         *semaphore.Weighted
	timeout     time.Duration
	logger      zerolog.Logger
	metrics     *obs.EngineMetrics
}

// NewRunner builds a Runner with the given concurrency bound and
// per-backtest timeout.
func NewRunner(cacheSource factor.ColumnSource, uniSource universe.Source, maxParallel int, timeout time.Duration, logger zerolog.Logger) *Runner {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Runner{
		cacheSource: cacheSource,
		uniSource:   uniSource,
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		timeout:     timeout,
		logger:      logger,
	}
}

// SetMetrics attaches a Prometheus metrics registry. Nil-safe: Runner
// works without one, it just skips the instrumentation calls.
func (r *Runner) SetMetrics(m *obs.EngineMetrics) {
	r.metrics = m
}

// RunMany executes every spec, honoring the concurrency bound, and
// returns one BacktestReport per spec in input order (a failed run
// yields a BacktestReport with Status=StatusFailed rather than aborting
// the batch).
func (r *Runner) RunMany(ctx context.Context, specs []RunSpec) []types.BacktestReport {
	reports := make([]types.BacktestReport, len(specs))
	done := make(chan struct{}, len(specs))

	for i, spec := range specs {
		i, spec := i, spec
		if err := r.sem.Acquire(ctx, 1); err != nil {
			reports[i] = failedReport(spec, "RunnerCancelled", err)
			done <- struct{}{}
			continue
		}
		go func() {
			defer r.sem.Release(1)
			defer func() { done <- struct{}{} }()
			reports[i] = r.runOne(ctx, spec)
		}()
	}
	for range specs {
		<-done
	}
	return reports
}

func (r *Runner) runOne(ctx context.Context, spec RunSpec) (report types.BacktestReport) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	kindLabel := backtestKindLabel(spec.Kind)
	if r.metrics != nil {
		r.metrics.ActiveBacktests.Inc()
		start := time.Now()
		defer func() {
			r.metrics.ActiveBacktests.Dec()
			r.metrics.BacktestDuration.WithLabelValues(spec.Task.Name, kindLabel).Observe(time.Since(start).Seconds())
			if report.Status == types.StatusFailed {
				r.metrics.BacktestsFailed.WithLabelValues(spec.Task.Name, kindLabel, report.ErrorCode).Inc()
			} else {
				r.metrics.BacktestsCompleted.WithLabelValues(spec.Task.Name, kindLabel).Inc()
			}
		}()
	}

	uniCfg := DefaultFilterConfig(spec.AssetType)
	uni := universe.New(uniCfg, r.uniSource, r.logger, nil)

	exprs := allExpressions(spec.Task)
	cache := factor.New(spec.Task.Symbols, spec.Dates[0], spec.Dates[len(spec.Dates)-1], r.cacheSource, r.logger)
	if r.metrics != nil {
		cache.SetMetrics(r.metrics, spec.Task.Name)
	}
	if err := cache.Preload(runCtx, exprs); err != nil {
		return failedReport(spec, "StrategyCompileError", err)
	}

	var curve []types.EquityPoint
	var trades []types.PortfolioTrade
	var finalHoldings map[string]types.Holding

	switch spec.Kind {
	case types.BacktestPortfolio:
		sigGen := signalgen.New(cache, uni, spec.AssetType, r.logger)
		if r.metrics != nil {
			sigGen.SetMetrics(r.metrics)
		}
		eng := portfolio.New(spec.Task, cache, uni, sigGen, spec.Dates, spec.Prices, r.logger)
		states, tr, err := eng.Run(runCtx)
		if err != nil {
			return failedReport(spec, "BacktestTimeoutError", err)
		}
		trades = tr
		curve = make([]types.EquityPoint, len(states))
		for i, st := range states {
			curve[i] = types.EquityPoint{Date: st.Date, Value: st.PortfolioValue}
			finalHoldings = st.Holdings
		}
	default:
		eng := rotation.New(spec.Task, cache, uni, spec.Dates, spec.Prices, r.logger)
		c, tr, err := eng.Run(runCtx)
		if err != nil {
			return failedReport(spec, "BacktestTimeoutError", err)
		}
		curve, trades = c, tr
	}

	var benchmark []types.EquityPoint
	if spec.Task.Benchmark != "" {
		if series, ok := spec.Prices[spec.Task.Benchmark]; ok {
			benchmark = rotation.BenchmarkEquityCurve(spec.Task.Benchmark, spec.Dates, series, spec.Task.InitialCapital)
		}
	}

	calc := metrics.NewCalculator(curve, benchmark)
	report := types.BacktestReport{
		TaskName:       spec.Task.Name,
		Version:        1,
		AssetType:      spec.AssetType,
		Start:          spec.Task.Start,
		End:            spec.Task.End,
		InitialCapital: spec.Task.InitialCapital,
		FinalValue:     lastValue(curve),
		TotalReturn:    calc.TotalReturn(),
		AnnualReturn:   calc.AnnualReturn(),
		Sharpe:         calc.Sharpe(),
		Sortino:        calc.Sortino(),
		Calmar:         calc.Calmar(),
		MaxDrawdown:    calc.MaxDrawdown(),
		VaR95:          calc.VaR(0.95),
		CVaR95:         calc.CVaR(0.95),
		InfoRatio:      calc.InformationRatio(),
		WinRates:       calc.WinRates(),
		MonthlyReturns: calc.MonthlyReturns(),
		EquityCurve:    curve,
		FinalHoldings:  finalHoldings,
		TotalTrades:    len(trades),
		Status:         types.StatusCompleted,
		BacktestType:   spec.Kind,
	}
	return report
}

func backtestKindLabel(kind types.BacktestKind) string {
	if kind == types.BacktestPortfolio {
		return "portfolio"
	}
	return "rotation"
}

func lastValue(curve []types.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	return curve[len(curve)-1].Value
}

func allExpressions(task types.Task) []string {
	exprs := append([]string{}, task.SelectBuy...)
	exprs = append(exprs, task.SelectSell...)
	if task.OrderBySignal != "" {
		exprs = append(exprs, task.OrderBySignal)
	}
	return exprs
}

// DefaultFilterConfig returns the universe.Config preset for an asset type:
// BalancedETF for ETFs, BalancedAShare otherwise. A Task cannot choose a
// different preset.
func DefaultFilterConfig(assetType types.AssetType) universe.Config {
	if assetType == types.AssetETF {
		return universe.BalancedETF()
	}
	return universe.BalancedAShare()
}

func failedReport(spec RunSpec, code string, err error) types.BacktestReport {
	return types.BacktestReport{
		TaskName:     spec.Task.Name,
		AssetType:    spec.AssetType,
		Status:       types.StatusFailed,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
		BacktestType: spec.Kind,
	}
}
