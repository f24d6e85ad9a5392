// Package metrics computes the performance statistics of spec.md §4.5 from
// an equity curve, adapted from the teacher's
// internal/backtest.MetricsCalculator to the panel/equity-curve shape used
// by the rotation and portfolio backtesters.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

const tradingDaysPerYear = 252

// RiskFreeRate is the default annual risk-free rate used by Sharpe/Sortino
// (spec.md §4.5 "rf configurable, default 3%").
const RiskFreeRate = 0.03

// Calculator derives BacktestReport performance fields from an equity
// curve and, optionally, a benchmark curve for the information ratio.
type Calculator struct {
	curve     []types.EquityPoint
	benchmark []types.EquityPoint
	riskFree  float64
}

// NewCalculator builds a Calculator over a (date-ascending) equity curve.
func NewCalculator(curve []types.EquityPoint, benchmark []types.EquityPoint) *Calculator {
	return &Calculator{curve: curve, benchmark: benchmark, riskFree: RiskFreeRate}
}

// WithRiskFreeRate overrides the default annual risk-free rate.
func (c *Calculator) WithRiskFreeRate(rf float64) *Calculator {
	c.riskFree = rf
	return c
}

// dailyReturns derives r_t = value_t/value_{t-1} - 1 from the curve.
func dailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, curve[i].Value/prev-1)
	}
	return out
}

// TotalReturn is value_last/value_first - 1, 0 on an empty or single-point
// curve.
func (c *Calculator) TotalReturn() float64 {
	if len(c.curve) < 2 {
		return 0
	}
	first := c.curve[0].Value
	if first == 0 {
		return 0
	}
	return c.curve[len(c.curve)-1].Value/first - 1
}

// AnnualReturn is (1+total)^(252/n) - 1, 0 when n==0.
func (c *Calculator) AnnualReturn() float64 {
	n := len(dailyReturns(c.curve))
	if n == 0 {
		return 0
	}
	total := c.TotalReturn()
	base := 1 + total
	if base <= 0 {
		return -1
	}
	return math.Pow(base, float64(tradingDaysPerYear)/float64(n)) - 1
}

// Volatility is the annualised standard deviation of daily returns.
func (c *Calculator) Volatility() float64 {
	r := dailyReturns(c.curve)
	if len(r) == 0 {
		return 0
	}
	return stddev(r) * math.Sqrt(tradingDaysPerYear)
}

// Sharpe is (annual-rf)/volatility, 0 when volatility is 0 (constant
// equity curve degrades gracefully per spec.md §4.5).
func (c *Calculator) Sharpe() float64 {
	vol := c.Volatility()
	if vol == 0 {
		return 0
	}
	return (c.AnnualReturn() - c.riskFree) / vol
}

// Sortino is (annual-rf)/downside_vol, mapped to 0 when there is no
// downside observation (spec.md §8 scenario 6: the otherwise-infinite
// ratio reports as 0, not a sentinel).
func (c *Calculator) Sortino() float64 {
	r := dailyReturns(c.curve)
	var downside []float64
	for _, v := range r {
		if v < 0 {
			downside = append(downside, v)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	downsideVol := stddev(downside) * math.Sqrt(tradingDaysPerYear)
	if downsideVol == 0 {
		return 0
	}
	return (c.AnnualReturn() - c.riskFree) / downsideVol
}

// MaxDrawdown is the most negative value of (value/peak - 1) along the
// curve, expressed as a negative fraction (0 on a monotone non-decreasing
// curve).
func (c *Calculator) MaxDrawdown() float64 {
	if len(c.curve) == 0 {
		return 0
	}
	peak := c.curve[0].Value
	worst := 0.0
	for _, p := range c.curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak == 0 {
			continue
		}
		dd := p.Value/peak - 1
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// Calmar is annual/|max_drawdown|, 0 when max_drawdown is 0.
func (c *Calculator) Calmar() float64 {
	dd := c.MaxDrawdown()
	if dd == 0 {
		return 0
	}
	return c.AnnualReturn() / math.Abs(dd)
}

// VaR returns the percentile of returns at (1-confidence); e.g.
// VaR(0.95) is the 5th percentile of daily returns.
func (c *Calculator) VaR(confidence float64) float64 {
	r := append([]float64(nil), dailyReturns(c.curve)...)
	if len(r) == 0 {
		return 0
	}
	sort.Float64s(r)
	idx := int((1 - confidence) * float64(len(r)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r) {
		idx = len(r) - 1
	}
	return r[idx]
}

// CVaR is the mean of returns at or below VaR(confidence).
func (c *Calculator) CVaR(confidence float64) float64 {
	r := dailyReturns(c.curve)
	if len(r) == 0 {
		return 0
	}
	threshold := c.VaR(confidence)
	var sum float64
	var n int
	for _, v := range r {
		if v <= threshold {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// WinRates computes daily/weekly/monthly win rates (fraction of periods
// with a positive compounded return), expressed 0-100 per spec.md §6.
func (c *Calculator) WinRates() types.WinRates {
	r := dailyReturns(c.curve)
	return types.WinRates{
		Daily:   winRate(r) * 100,
		Weekly:  winRate(compoundBuckets(c.curve, bucketWeek)) * 100,
		Monthly: winRate(compoundBuckets(c.curve, bucketMonth)) * 100,
	}
}

func winRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

func bucketWeek(t time.Time) string {
	y, w := t.ISOWeek()
	return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, w).Format("2006-W02")
}

func bucketMonth(t time.Time) string {
	return t.Format("2006-01")
}

// compoundBuckets groups daily returns by the bucket key function and
// compounds them: (1+r1)*...*(1+rk) - 1.
func compoundBuckets(curve []types.EquityPoint, keyFn func(time.Time) string) []float64 {
	if len(curve) < 2 {
		return nil
	}
	type bucket struct {
		key     string
		product float64
	}
	var buckets []bucket
	var cur *bucket
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			continue
		}
		r := curve[i].Value/prev - 1
		key := keyFn(curve[i].Date)
		if cur == nil || cur.key != key {
			buckets = append(buckets, bucket{key: key, product: 1})
			cur = &buckets[len(buckets)-1]
		}
		cur.product *= 1 + r
	}
	out := make([]float64, len(buckets))
	for i, b := range buckets {
		out[i] = b.product - 1
	}
	return out
}

// MonthlyReturns compounds returns per calendar month, keyed "YYYY-MM".
func (c *Calculator) MonthlyReturns() map[string]float64 {
	out := make(map[string]float64)
	if len(c.curve) < 2 {
		return out
	}
	type acc struct{ product float64 }
	accs := make(map[string]*acc)
	var order []string
	for i := 1; i < len(c.curve); i++ {
		prev := c.curve[i-1].Value
		if prev == 0 {
			continue
		}
		r := c.curve[i].Value/prev - 1
		key := bucketMonth(c.curve[i].Date)
		a, ok := accs[key]
		if !ok {
			a = &acc{product: 1}
			accs[key] = a
			order = append(order, key)
		}
		a.product *= 1 + r
	}
	for _, key := range order {
		out[key] = accs[key].product - 1
	}
	return out
}

// InformationRatio relative to a benchmark curve aligned date-for-date by
// position (both curves are expected to share the same date index).
func (c *Calculator) InformationRatio() *float64 {
	if len(c.benchmark) == 0 || len(c.benchmark) != len(c.curve) {
		return nil
	}
	r := dailyReturns(c.curve)
	rb := dailyReturns(c.benchmark)
	if len(r) != len(rb) || len(r) == 0 {
		return nil
	}
	diff := make([]float64, len(r))
	for i := range r {
		diff[i] = r[i] - rb[i]
	}
	sd := stddev(diff) * math.Sqrt(tradingDaysPerYear)
	if sd == 0 {
		return nil
	}
	ratio := mean(diff) * tradingDaysPerYear / sd
	return &ratio
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, v := range xs {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
