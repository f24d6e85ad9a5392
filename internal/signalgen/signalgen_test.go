package signalgen

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

type allSymbolsSource struct {
	symbols []string
}

func (a *allSymbolsSource) AllSymbols(kind universe.Kind, minDataDays int) []string { return a.symbols }
func (a *allSymbolsSource) Metadata(symbol string) (types.SymbolMetadata, bool)     { return types.SymbolMetadata{}, true }
func (a *allSymbolsSource) RecentBars(symbol string, days int) []types.HistoryBar {
	return []types.HistoryBar{{Amount: 10000, TurnoverRate: 2}} // passes the BalancedETF liquidity layer
}

func days(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

func TestEvaluateForDateRanksByOrderBySignal(t *testing.T) {
	d := days(10)
	symbols := []string{"A", "B", "C", "D"}
	close := panel.NewFrame("close", d, symbols)
	// A,B trend up; C,D trend down.
	for i, dt := range d {
		close.Set(dt, "A", 10+float64(i))
		close.Set(dt, "B", 10+float64(i)*0.8)
		close.Set(dt, "C", 20-float64(i))
		close.Set(dt, "D", 20-float64(i)*0.8)
	}
	src := &memSource{columns: map[string]*panel.Frame{"close": close}}
	cache := factor.New(symbols, d[0], d[len(d)-1], src, zerolog.Nop())
	if err := cache.Preload(context.Background(), []string{"roc(close,5)>0", "roc(close,5)"}); err != nil {
		t.Fatalf("preload: %v", err)
	}

	uniCfg := universe.BalancedETF()
	uni := universe.New(uniCfg, &allSymbolsSource{symbols: symbols}, zerolog.Nop(), nil)
	gen := New(cache, uni, types.AssetETF, zerolog.Nop())

	task := types.Task{
		Name:            "momentum",
		SelectBuy:       []string{"roc(close,5)>0"},
		BuyAtLeastCount: 1,
		OrderBySignal:   "roc(close,5)",
		OrderByTopK:     2,
		OrderByDesc:     true,
	}

	res, err := gen.EvaluateForDate(task, d[len(d)-1], nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Buys) != 2 {
		t.Fatalf("expected top 2 buys, got %d: %+v", len(res.Buys), res.Buys)
	}
	if res.Buys[0].Symbol != "A" || res.Buys[1].Symbol != "B" {
		t.Fatalf("expected [A B] ranked first, got %v %v", res.Buys[0].Symbol, res.Buys[1].Symbol)
	}
}

func TestEvaluateForDateIsIdempotent(t *testing.T) {
	d := days(10)
	symbols := []string{"A", "B"}
	close := panel.NewFrame("close", d, symbols)
	for i, dt := range d {
		close.Set(dt, "A", 10+float64(i))
		close.Set(dt, "B", 10+float64(i)*0.5)
	}
	src := &memSource{columns: map[string]*panel.Frame{"close": close}}
	cache := factor.New(symbols, d[0], d[len(d)-1], src, zerolog.Nop())
	exprs := []string{"roc(close,5)>0", "roc(close,5)"}
	if err := cache.Preload(context.Background(), exprs); err != nil {
		t.Fatalf("preload: %v", err)
	}
	uni := universe.New(universe.BalancedETF(), &allSymbolsSource{symbols: symbols}, zerolog.Nop(), nil)
	gen := New(cache, uni, types.AssetETF, zerolog.Nop())
	task := types.Task{Name: "t", SelectBuy: []string{"roc(close,5)>0"}, BuyAtLeastCount: 1, OrderBySignal: "roc(close,5)", OrderByTopK: 2, OrderByDesc: true}

	r1, err := gen.EvaluateForDate(task, d[len(d)-1], nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	r2, err := gen.EvaluateForDate(task, d[len(d)-1], nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(r1.Buys) != len(r2.Buys) {
		t.Fatalf("non-idempotent signal counts: %d vs %d", len(r1.Buys), len(r2.Buys))
	}
	for i := range r1.Buys {
		if r1.Buys[i].Symbol != r2.Buys[i].Symbol || r1.Buys[i].Rank != r2.Buys[i].Rank {
			t.Fatalf("non-idempotent signal at %d: %+v vs %+v", i, r1.Buys[i], r2.Buys[i])
		}
	}
}
