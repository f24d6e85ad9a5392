package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

func buildCurve(values []float64) []types.EquityPoint {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.EquityPoint, len(values))
	for i, v := range values {
		out[i] = types.EquityPoint{Date: base.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestMonotoneEquityCurve(t *testing.T) {
	values := make([]float64, 253)
	values[0] = 1
	for i := 1; i < len(values); i++ {
		values[i] = values[i-1] * 1.01
	}
	calc := NewCalculator(buildCurve(values), nil)

	if dd := calc.MaxDrawdown(); dd != 0 {
		t.Fatalf("expected zero drawdown on monotone curve, got %v", dd)
	}
	if sortino := calc.Sortino(); sortino != 0 {
		t.Fatalf("expected sortino 0 with no downside, got %v", sortino)
	}
	annual := calc.AnnualReturn()
	want := math.Pow(1.01, 252) - 1
	if math.Abs(annual-want) > 1e-6 {
		t.Fatalf("annual return = %v want %v", annual, want)
	}
}

func TestMaxDrawdownMonotoneNonIncreasing(t *testing.T) {
	values := []float64{100, 110, 90, 95, 80, 120}
	calc := NewCalculator(buildCurve(values), nil)
	dd := calc.MaxDrawdown()
	want := 80.0/110.0 - 1
	if math.Abs(dd-want) > 1e-9 {
		t.Fatalf("max drawdown = %v want %v", dd, want)
	}
}

func TestWinRatesDegradeOnEmptyCurve(t *testing.T) {
	calc := NewCalculator(nil, nil)
	wr := calc.WinRates()
	if wr.Daily != 0 || wr.Weekly != 0 || wr.Monthly != 0 {
		t.Fatalf("expected zero win rates on empty curve, got %+v", wr)
	}
	if calc.Sharpe() != 0 || calc.Calmar() != 0 {
		t.Fatalf("expected metrics to degrade to 0 on empty curve")
	}
}

func TestCVaRIsMeanBelowVaR(t *testing.T) {
	values := []float64{100, 95, 90, 80, 120, 125, 130}
	calc := NewCalculator(buildCurve(values), nil)
	v := calc.VaR(0.95)
	cv := calc.CVaR(0.95)
	if cv > v {
		t.Fatalf("CVaR (%v) should be <= VaR (%v)", cv, v)
	}
}
