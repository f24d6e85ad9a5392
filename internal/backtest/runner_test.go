package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/panel"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

type fakeColumnSource struct{ columns map[string]*panel.Frame }

func (f *fakeColumnSource) LoadColumn(ctx context.Context, name string, symbols []string, start, end time.Time) (*panel.Frame, error) {
	return f.columns[name], nil
}

type fakeUniSource struct{ symbols []string }

func (f *fakeUniSource) AllSymbols(kind universe.Kind, minDataDays int) []string { return f.symbols }
func (f *fakeUniSource) Metadata(symbol string) (types.SymbolMetadata, bool) {
	return types.SymbolMetadata{}, true
}
func (f *fakeUniSource) RecentBars(symbol string, days int) []types.HistoryBar { return nil }

func buildDates(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

func TestRunManyBoundsConcurrencyAndReturnsAllReports(t *testing.T) {
	dates := buildDates(15)
	symbols := []string{"510300"}
	closeFrame := panel.NewFrame("close", dates, symbols)
	always := panel.NewFrame("always", dates, symbols)
	closeSeries := make([]float64, len(dates))
	for i, d := range dates {
		v := 10 + float64(i)*0.05
		closeFrame.Set(d, "510300", v)
		always.Set(d, "510300", 1)
		closeSeries[i] = v
	}
	// Only raw column names are valid identifiers, so the condition panel is
	// served as "volume".
	src := &fakeColumnSource{columns: map[string]*panel.Frame{"close": closeFrame, "volume": always}}
	uniSrc := &fakeUniSource{symbols: symbols}

	runner := NewRunner(src, uniSrc, 2, 5*time.Second, zerolog.Nop())

	specs := make([]RunSpec, 3)
	for i := range specs {
		specs[i] = RunSpec{
			Task: types.Task{
				Name:            "task",
				Symbols:         symbols,
				Period:          types.PeriodRunOnce,
				SelectBuy:       []string{"volume>0"},
				BuyAtLeastCount: 1,
				Weight:          types.WeightEqual,
				InitialCapital:  100000,
				CommissionRate:  0.0003,
				Start:           dates[0],
				End:             dates[len(dates)-1],
			},
			Kind:      types.BacktestSingle,
			AssetType: types.AssetETF,
			Dates:     dates,
			Prices:    map[string][]float64{"510300": closeSeries},
		}
	}

	reports := runner.RunMany(context.Background(), specs)
	if len(reports) != len(specs) {
		t.Fatalf("expected %d reports, got %d", len(specs), len(reports))
	}
	for _, r := range reports {
		if r.Status != types.StatusCompleted {
			t.Fatalf("expected completed status, got %+v", r)
		}
		if r.FinalValue <= 0 {
			t.Fatalf("expected positive final value, got %v", r.FinalValue)
		}
	}
}
