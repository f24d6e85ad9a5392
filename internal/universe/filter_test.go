package universe

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/pkg/types"
)

type fakeSource struct {
	symbols  []string
	metadata map[string]types.SymbolMetadata
	bars     map[string][]types.HistoryBar
}

func (f *fakeSource) AllSymbols(kind Kind, minDataDays int) []string { return f.symbols }
func (f *fakeSource) Metadata(symbol string) (types.SymbolMetadata, bool) {
	m, ok := f.metadata[symbol]
	return m, ok
}
func (f *fakeSource) RecentBars(symbol string, days int) []types.HistoryBar {
	return f.bars[symbol]
}

func bars(amount, turnover float64, n int) []types.HistoryBar {
	out := make([]types.HistoryBar, n)
	for i := range out {
		out[i] = types.HistoryBar{Amount: amount, TurnoverRate: turnover}
	}
	return out
}

func TestETFFilterLiquidityAndCap(t *testing.T) {
	src := &fakeSource{
		symbols: []string{"510300.SH", "510500.SH", "159915.SZ"},
		bars: map[string][]types.HistoryBar{
			"510300.SH": bars(8000, 2.0, 20),
			"510500.SH": bars(1000, 0.5, 20), // fails liquidity
			"159915.SZ": bars(6000, 1.8, 20),
		},
	}
	cfg := BalancedETF()
	f := New(cfg, src, zerolog.Nop(), nil)
	got := f.Resolve(nil)
	want := map[string]bool{"510300.SH": true, "159915.SZ": true}
	if len(got) != len(want) {
		t.Fatalf("got %v want symbols matching %v", got, want)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected symbol %s survived liquidity filter", s)
		}
	}
}

func TestAShareFilterExcludesST(t *testing.T) {
	src := &fakeSource{
		symbols: []string{"000001.SZ", "000002.SZ"},
		metadata: map[string]types.SymbolMetadata{
			"000001.SZ": {IsST: true, ListDate: time.Now().AddDate(-5, 0, 0), TotalMV: 100},
			"000002.SZ": {IsST: false, ListDate: time.Now().AddDate(-5, 0, 0), TotalMV: 100},
		},
		bars: map[string][]types.HistoryBar{
			"000001.SZ": bars(8000, 2.0, 20),
			"000002.SZ": bars(8000, 2.0, 20),
		},
	}
	cfg := BalancedAShare()
	f := New(cfg, src, zerolog.Nop(), nil)
	got := f.Resolve(nil)
	if len(got) != 1 || got[0] != "000002.SZ" {
		t.Fatalf("expected only 000002.SZ to survive, got %v", got)
	}
}

func TestCountCapSortsByAmountDescending(t *testing.T) {
	src := &fakeSource{
		symbols: []string{"A", "B", "C"},
		bars: map[string][]types.HistoryBar{
			"A": bars(5500, 2.0, 20), // all three pass liquidity; the cap drops A
			"B": bars(9000, 2.0, 20),
			"C": bars(6000, 2.0, 20),
		},
	}
	cfg := BalancedETF()
	cfg.TargetCount = 2
	f := New(cfg, src, zerolog.Nop(), nil)
	got := f.Resolve(nil)
	if len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Fatalf("expected [B C] sorted by amount desc, got %v", got)
	}
}
