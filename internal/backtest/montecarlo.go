package backtest

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

// MonteCarloConfig holds configuration for bootstrap resampling of a
// completed backtest's trade log, stress-testing how sensitive its
// outcome was to trade order (spec.md §4.5 is silent on this; adapted
// from the teacher's single-symbol Monte Carlo analysis).
type MonteCarloConfig struct {
	Simulations     int
	Seed            int64
	ConfidenceLevel float64
}

// MonteCarloResult holds the resampled-outcome distribution.
type MonteCarloResult struct {
	Config         *MonteCarloConfig
	OriginalReport types.BacktestReport
	Simulations    []SimulationRun

	MeanFinalReturnPct     float64
	MedianFinalReturnPct   float64
	StdDevFinalReturnPct   float64
	MinFinalReturnPct      float64
	MaxFinalReturnPct      float64
	ConfidenceIntervalLow  float64
	ConfidenceIntervalHigh float64

	MeanMaxDrawdownPct   float64
	MedianMaxDrawdownPct float64
	WorstMaxDrawdownPct  float64
	BestMaxDrawdownPct   float64

	ProbabilityOfProfit float64
	RiskOfRuin          float64 // % of simulations with > 50% drawdown

	Duration time.Duration
}

// SimulationRun is one bootstrap resample of the trade log.
type SimulationRun struct {
	RunNumber      int
	FinalReturnPct float64
	MaxDrawdownPct float64
}

// MonteCarloSimulator resamples a backtest's trade log with replacement
// to estimate how much of its result depended on trade-order luck.
type MonteCarloSimulator struct {
	config *MonteCarloConfig
	rand   *rand.Rand
}

// NewMonteCarloSimulator builds a simulator from config, seeding from
// wall-clock time when Seed is 0.
func NewMonteCarloSimulator(config *MonteCarloConfig, seed time.Time) *MonteCarloSimulator {
	s := config.Seed
	if s == 0 {
		s = seed.UnixNano()
	}
	return &MonteCarloSimulator{config: config, rand: rand.New(rand.NewSource(s))}
}

// Simulate runs the configured number of bootstrap resamples over a
// report's trade log and initial capital.
func (mcs *MonteCarloSimulator) Simulate(report types.BacktestReport, trades []types.PortfolioTrade) *MonteCarloResult {
	start := time.Now()
	result := &MonteCarloResult{Config: mcs.config, OriginalReport: report}

	if len(trades) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	cashFlows := make([]float64, len(trades))
	for i, tr := range trades {
		if tr.Action == types.ActionSell {
			cashFlows[i] = tr.Amount
		} else {
			cashFlows[i] = -tr.Amount
		}
	}

	runs := make([]SimulationRun, mcs.config.Simulations)
	for i := 0; i < mcs.config.Simulations; i++ {
		runs[i] = mcs.runOne(i+1, cashFlows, report.InitialCapital)
	}
	result.Simulations = runs
	mcs.fillStatistics(result, runs)
	result.Duration = time.Since(start)
	return result
}

func (mcs *MonteCarloSimulator) runOne(runNumber int, cashFlows []float64, initialCapital float64) SimulationRun {
	n := len(cashFlows)
	equity := initialCapital
	peak := initialCapital
	maxDrawdown := 0.0
	for i := 0; i < n; i++ {
		flow := cashFlows[mcs.rand.Intn(n)] // sample with replacement
		equity += flow
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	finalReturnPct := 0.0
	if initialCapital > 0 {
		finalReturnPct = (equity - initialCapital) / initialCapital * 100
	}
	return SimulationRun{RunNumber: runNumber, FinalReturnPct: finalReturnPct, MaxDrawdownPct: maxDrawdown}
}

func (mcs *MonteCarloSimulator) fillStatistics(result *MonteCarloResult, runs []SimulationRun) {
	n := len(runs)
	if n == 0 {
		return
	}
	returns := make([]float64, n)
	drawdowns := make([]float64, n)
	profitCount, ruinCount := 0, 0
	for i, r := range runs {
		returns[i] = r.FinalReturnPct
		drawdowns[i] = r.MaxDrawdownPct
		if r.FinalReturnPct > 0 {
			profitCount++
		}
		if r.MaxDrawdownPct > 50 {
			ruinCount++
		}
	}

	sortedReturns := append([]float64(nil), returns...)
	sort.Float64s(sortedReturns)
	sortedDrawdowns := append([]float64(nil), drawdowns...)
	sort.Float64s(sortedDrawdowns)

	result.MeanFinalReturnPct = mean(returns)
	result.MedianFinalReturnPct = median(sortedReturns)
	result.StdDevFinalReturnPct = stdDevMC(returns, result.MeanFinalReturnPct)
	result.MinFinalReturnPct = sortedReturns[0]
	result.MaxFinalReturnPct = sortedReturns[n-1]

	alpha := 1.0 - mcs.config.ConfidenceLevel
	lowerIdx := int(float64(n) * alpha / 2.0)
	upperIdx := int(float64(n) * (1.0 - alpha/2.0))
	if upperIdx >= n {
		upperIdx = n - 1
	}
	result.ConfidenceIntervalLow = sortedReturns[lowerIdx]
	result.ConfidenceIntervalHigh = sortedReturns[upperIdx]

	result.MeanMaxDrawdownPct = mean(drawdowns)
	result.MedianMaxDrawdownPct = median(sortedDrawdowns)
	result.WorstMaxDrawdownPct = sortedDrawdowns[n-1]
	result.BestMaxDrawdownPct = sortedDrawdowns[0]

	result.ProbabilityOfProfit = float64(profitCount) / float64(n) * 100
	result.RiskOfRuin = float64(ruinCount) / float64(n) * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

func stdDevMC(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var variance float64
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
