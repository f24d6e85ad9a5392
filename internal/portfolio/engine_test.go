package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/panel"
	"github.com/bikeshrana/cnquant/internal/signalgen"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

type memSource struct{ columns map[string]*panel.Frame }

func (m *memSource) LoadColumn(ctx context.Context, name string, symbols []string, start, end time.Time) (*panel.Frame, error) {
	return m.columns[name], nil
}

type allSymbolsSource struct{ symbols []string }

func (a *allSymbolsSource) AllSymbols(kind universe.Kind, minDataDays int) []string { return a.symbols }
func (a *allSymbolsSource) Metadata(symbol string) (types.SymbolMetadata, bool) {
	return types.SymbolMetadata{}, true
}
func (a *allSymbolsSource) RecentBars(symbol string, days int) []types.HistoryBar {
	return []types.HistoryBar{{Amount: 10000, TurnoverRate: 2}} // passes the BalancedETF liquidity layer
}

func rangeDates(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

// TestPortfolioRebalancesOnlyWhenSignalSetChanges implements spec.md §8
// scenario 4: the basket only trades when the buy-signal set differs
// from the previous day's.
func TestPortfolioRebalancesOnlyWhenSignalSetChanges(t *testing.T) {
	d := rangeDates(6)
	symbols := []string{"A", "B"}
	close := panel.NewFrame("close", d, symbols)
	closeA := []float64{10, 10, 10, 10, 10, 10}
	closeB := []float64{10, 10, 10, 10, 10, 10}
	buy := panel.NewFrame("buy", d, symbols)
	// A always qualifies. B only qualifies from day 3 onward.
	buyA := []float64{1, 1, 1, 1, 1, 1}
	buyB := []float64{0, 0, 0, 1, 1, 1}
	for i, dt := range d {
		close.Set(dt, "A", closeA[i])
		close.Set(dt, "B", closeB[i])
		buy.Set(dt, "A", buyA[i])
		buy.Set(dt, "B", buyB[i])
	}
	// Only raw column names are valid identifiers, so the condition panel is
	// served as "volume".
	src := &memSource{columns: map[string]*panel.Frame{"close": close, "volume": buy}}
	cache := factor.New(symbols, d[0], d[len(d)-1], src, zerolog.Nop())
	if err := cache.Preload(context.Background(), []string{"volume>0"}); err != nil {
		t.Fatalf("preload: %v", err)
	}
	uni := universe.New(universe.BalancedETF(), &allSymbolsSource{symbols: symbols}, zerolog.Nop(), nil)
	sigGen := signalgen.New(cache, uni, types.AssetETF, zerolog.Nop())

	task := types.Task{
		Name:            "basket",
		Symbols:         symbols,
		SelectBuy:       []string{"volume>0"},
		BuyAtLeastCount: 1,
		Weight:          types.WeightEqual,
		// Leaves room for the commission on a full 10000-share lot at 10,
		// so the day-0 buy is affordable.
		InitialCapital: 100100,
		CommissionRate:  0.0003,
	}
	eng := New(task, cache, uni, sigGen, d, map[string][]float64{"A": closeA, "B": closeB}, zerolog.Nop())
	states, trades, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(states) != len(d) {
		t.Fatalf("expected %d states, got %d", len(d), len(states))
	}

	tradeDays := make(map[string]bool)
	for _, tr := range trades {
		tradeDays[tr.Date.Format("2006-01-02")] = true
	}
	if !tradeDays[d[0].Format("2006-01-02")] {
		t.Fatalf("expected initial rebalance on day 0")
	}
	if !tradeDays[d[3].Format("2006-01-02")] {
		t.Fatalf("expected rebalance on day 3 when B joins the signal set")
	}
	if tradeDays[d[1].Format("2006-01-02")] || tradeDays[d[2].Format("2006-01-02")] {
		t.Fatalf("expected no trades while the signal set is unchanged, trades: %+v", trades)
	}
}
