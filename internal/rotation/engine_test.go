package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/panel"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

type memSource struct {
	columns map[string]*panel.Frame
}

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

// TestSingleSymbolBuyAndHold implements spec.md §8 scenario 1: a single
// always-true buy condition under RunOnce should buy once and hold the
// rest of the window.
func TestSingleSymbolBuyAndHold(t *testing.T) {
	d := rangeDates(20)
	symbols := []string{"A"}
	close := panel.NewFrame("close", d, symbols)
	closeSeries := make([]float64, len(d))
	for i, dt := range d {
		v := 10 + float64(i)*0.1
		close.Set(dt, "A", v)
		closeSeries[i] = v
	}
	always := panel.NewFrame("always", d, symbols)
	for _, dt := range d {
		always.Set(dt, "A", 1)
	}
	// Only raw column names are valid identifiers, so the condition panel is
	// served as "volume".
	src := &memSource{columns: map[string]*panel.Frame{"close": close, "volume": always}}
	cache := factor.New(symbols, d[0], d[len(d)-1], src, zerolog.Nop())
	if err := cache.Preload(context.Background(), []string{"volume>0"}); err != nil {
		t.Fatalf("preload: %v", err)
	}
	uni := universe.New(universe.BalancedETF(), &allSymbolsSource{symbols: symbols}, zerolog.Nop(), nil)

	task := types.Task{
		Name:            "hold",
		Symbols:         symbols,
		Period:          types.PeriodRunOnce,
		SelectBuy:       []string{"volume>0"},
		BuyAtLeastCount: 1,
		Weight:          types.WeightEqual,
		InitialCapital:  100000,
		CommissionRate:  0.0003,
	}
	eng := New(task, cache, uni, d, map[string][]float64{"A": closeSeries}, zerolog.Nop())
	equity, trades, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(trades) != 1 || trades[0].Action != types.ActionBuy {
		t.Fatalf("expected exactly one buy trade, got %+v", trades)
	}
	if equity[len(equity)-1].Value <= equity[0].Value {
		t.Fatalf("expected equity to grow over a rising price series, got %v -> %v", equity[0].Value, equity[len(equity)-1].Value)
	}
}

// TestSellOverridesForwardFilledBuy implements spec.md §8 scenario 3: a
// symbol selected by a buy condition must be liquidated once a sell
// condition fires, and stays liquidated afterward (no re-buy without a
// fresh buy signal).
func TestSellOverridesForwardFilledBuy(t *testing.T) {
	d := rangeDates(5)
	symbols := []string{"A"}
	close := panel.NewFrame("close", d, symbols)
	closeSeries := []float64{10, 10, 10, 10, 10}
	for i, dt := range d {
		close.Set(dt, "A", closeSeries[i])
	}
	buyCond := panel.NewFrame("buy", d, symbols)
	sellCond := panel.NewFrame("sell", d, symbols)
	// Day 0: buy signal true. Day 2: sell signal true (should liquidate
	// and stay out). Days 3-4: neither condition true.
	buyVals := []float64{1, 0, 0, 0, 0}
	sellVals := []float64{0, 0, 1, 0, 0}
	for i, dt := range d {
		buyCond.Set(dt, "A", buyVals[i])
		sellCond.Set(dt, "A", sellVals[i])
	}
	// Only raw column names are valid identifiers, so the buy and sell
	// condition panels are served as "volume" and "amount".
	src := &memSource{columns: map[string]*panel.Frame{"close": close, "volume": buyCond, "amount": sellCond}}
	cache := factor.New(symbols, d[0], d[len(d)-1], src, zerolog.Nop())
	if err := cache.Preload(context.Background(), []string{"volume>0", "amount>0"}); err != nil {
		t.Fatalf("preload: %v", err)
	}
	uni := universe.New(universe.BalancedETF(), &allSymbolsSource{symbols: symbols}, zerolog.Nop(), nil)

	task := types.Task{
		Name:             "override",
		Symbols:          symbols,
		Period:           types.PeriodDaily,
		SelectBuy:        []string{"volume>0"},
		BuyAtLeastCount:  1,
		SelectSell:       []string{"amount>0"},
		SellAtLeastCount: 1,
		Weight:           types.WeightEqual,
		InitialCapital:   100000,
		CommissionRate:   0.0003,
	}
	eng := New(task, cache, uni, d, map[string][]float64{"A": closeSeries}, zerolog.Nop())
	_, trades, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var buys, sells int
	for _, tr := range trades {
		if tr.Action == types.ActionBuy {
			buys++
		} else {
			sells++
		}
	}
	if buys != 1 {
		t.Fatalf("expected exactly one buy, got %d (%+v)", buys, trades)
	}
	if sells != 1 {
		t.Fatalf("expected exactly one sell once the sell condition fires, got %d (%+v)", sells, trades)
	}
	if len(eng.positions) != 0 {
		t.Fatalf("expected symbol to remain liquidated, positions: %+v", eng.positions)
	}
}
