package portfolio

import (
	"testing"
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

func TestTrackerDrawdownNeverExceedsPeakDrop(t *testing.T) {
	tr := NewTracker(1000)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	values := []float64{1000, 1100, 900, 950, 800, 1200}
	var last types.PortfolioState
	for i, v := range values {
		last = tr.Update(base.AddDate(0, 0, i), v, nil, nil, nil)
	}
	want := 800.0/1100.0 - 1
	if abs(last.RunningMaxDrawdown-want) > 1e-9 {
		t.Fatalf("running max drawdown = %v want %v", last.RunningMaxDrawdown, want)
	}
}

func TestTrackerTurnoverZeroWithNoTrades(t *testing.T) {
	tr := NewTracker(1000)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := tr.Update(base, 1000, nil, nil, nil)
	if state.DailyTurnover != 0 {
		t.Fatalf("expected zero turnover with no trades, got %v", state.DailyTurnover)
	}
}

func TestTrackerTurnoverReflectsTrades(t *testing.T) {
	tr := NewTracker(1000)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.PortfolioTrade{
		{Date: base, Symbol: "A", Action: types.ActionBuy, Amount: 500},
	}
	state := tr.Update(base, 1000, map[string]types.Holding{"A": {Shares: 50, AvgCost: 10}}, map[string]float64{"A": 10}, trades)
	if state.DailyTurnover <= 0 {
		t.Fatalf("expected positive turnover after a buy, got %v", state.DailyTurnover)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
