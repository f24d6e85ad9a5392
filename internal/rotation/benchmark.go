package rotation

import (
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

// BenchmarkEquityCurve runs a trivial RunOnce+SelectAll+WeighEqually
// rotation on a single benchmark symbol over the same date range, giving
// a comparable equity series for the information ratio (spec.md §4.3
// "Output", "benchmark equity series (same schedule, RunOnce +
// SelectAll + WeighEqually + Rebalance on the benchmark symbol)").
func BenchmarkEquityCurve(symbol string, dates []time.Time, closes []float64, initialCapital float64) []types.EquityPoint {
	if len(dates) == 0 || len(closes) == 0 {
		return nil
	}
	firstPrice := closes[0]
	if firstPrice <= 0 {
		return nil
	}
	shares := initialCapital / firstPrice
	out := make([]types.EquityPoint, len(dates))
	for i, d := range dates {
		price := closes[i]
		out[i] = types.EquityPoint{Date: d, Value: shares * price}
	}
	return out
}
