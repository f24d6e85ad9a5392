// Package universe resolves the set of symbols a Task may trade and runs
// the multi-layer smart filter (spec.md §4.2.1), grounded on
// original_source/core/smart_etf_filter.py and smart_stock_filter.py.
package universe

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/pkg/types"
)

// Kind selects which layer sequence the filter runs: the ETF variant
// skips the market-cap layer entirely (smart_etf_filter.py has no
// equivalent layer), while the A-share variant applies it.
type Kind string

const (
	KindETF    Kind = "etf"
	KindAShare Kind = "ashare"
)

// Config bundles the smart-filter thresholds (spec.md §4.2.1). Zero values
// for MinMarketCap/MaxMarketCap disable that layer.
type Config struct {
	Kind Kind

	MinDataDays int

	ExcludeST            bool
	ExcludeSuspend       bool
	ExcludeNewIPODays    int
	ExcludeRestrictedBoards bool

	MinMarketCap float64 // 亿元, 0 disables
	MaxMarketCap float64 // 亿元, 0 disables

	LiquidityDays    int
	MinTurnoverRate  float64
	MinAvgAmount     float64 // 万元

	TargetCount int
}

// Presets mirror EtfFilterPresets/FilterPresets in the original source.
func ConservativeETF() Config {
	return Config{Kind: KindETF, MinDataDays: 252, LiquidityDays: 20, MinTurnoverRate: 2.0, MinAvgAmount: 10000, TargetCount: 50}
}

func BalancedETF() Config {
	return Config{Kind: KindETF, MinDataDays: 180, LiquidityDays: 20, MinTurnoverRate: 1.5, MinAvgAmount: 5000, TargetCount: 100}
}

func AggressiveETF() Config {
	return Config{Kind: KindETF, MinDataDays: 180, LiquidityDays: 20, MinTurnoverRate: 1.0, MinAvgAmount: 3000, TargetCount: 150}
}

func BalancedAShare() Config {
	return Config{
		Kind: KindAShare, MinDataDays: 180,
		ExcludeST: true, ExcludeSuspend: true, ExcludeNewIPODays: 60, ExcludeRestrictedBoards: true,
		MinMarketCap: 50, LiquidityDays: 20, MinTurnoverRate: 1.5, MinAvgAmount: 5000, TargetCount: 1000,
	}
}

// Source supplies the symbol universe and per-symbol data the filter needs.
// The store package implements this against Postgres.
type Source interface {
	AllSymbols(kind Kind, minDataDays int) []string
	Metadata(symbol string) (types.SymbolMetadata, bool)
	RecentBars(symbol string, days int) []types.HistoryBar
}

// Filter runs the layered sieve described in spec.md §4.2.1.
type Filter struct {
	cfg    Config
	source Source
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Filter. now defaults to time.Now if nil (tests can
// override it for deterministic new-IPO/age calculations).
func New(cfg Config, source Source, logger zerolog.Logger, now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	return &Filter{cfg: cfg, source: source, logger: logger, now: now}
}

// Resolve runs the full layer sequence against an optional initial symbol
// set (nil means "whole market"). Each layer's elapsed count is logged;
// an empty result at any layer short-circuits the remaining layers.
func (f *Filter) Resolve(initial []string) []string {
	symbols := f.layer0BaseFilter(initial)
	f.logger.Debug().Int("count", len(symbols)).Msg("smart filter layer0 base")
	if len(symbols) == 0 {
		return nil
	}

	if f.cfg.Kind == KindAShare {
		symbols = f.layer1StatusFilter(symbols)
		f.logger.Debug().Int("count", len(symbols)).Msg("smart filter layer1 status")
		if len(symbols) == 0 {
			return nil
		}

		if f.cfg.MinMarketCap > 0 || f.cfg.MaxMarketCap > 0 {
			symbols = f.layerMarketCapFilter(symbols)
			f.logger.Debug().Int("count", len(symbols)).Msg("smart filter layer2 market cap")
			if len(symbols) == 0 {
				return nil
			}
		}
	}

	symbols = f.layerLiquidityFilter(symbols)
	f.logger.Debug().Int("count", len(symbols)).Msg("smart filter liquidity")
	if len(symbols) == 0 {
		return nil
	}

	if len(symbols) > f.cfg.TargetCount {
		symbols = f.limitByAmount(symbols)
		f.logger.Debug().Int("count", len(symbols)).Int("target", f.cfg.TargetCount).Msg("smart filter count cap")
	}
	return symbols
}

func (f *Filter) layer0BaseFilter(initial []string) []string {
	available := f.source.AllSymbols(f.cfg.Kind, f.cfg.MinDataDays)
	if initial == nil {
		return available
	}
	avail := toSet(available)
	var out []string
	for _, s := range initial {
		if avail[s] {
			out = append(out, s)
		}
	}
	return out
}

func (f *Filter) layer1StatusFilter(symbols []string) []string {
	var out []string
	for _, s := range symbols {
		meta, ok := f.source.Metadata(s)
		if !ok {
			continue
		}
		if f.cfg.ExcludeST && meta.IsST {
			continue
		}
		if f.cfg.ExcludeSuspend && meta.IsSuspend {
			continue
		}
		if f.cfg.ExcludeNewIPODays > 0 {
			age := int(f.now().Sub(meta.ListDate).Hours() / 24)
			if age <= f.cfg.ExcludeNewIPODays {
				continue
			}
		}
		if f.cfg.ExcludeRestrictedBoards && isRestrictedBoard(meta.Board) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func isRestrictedBoard(board string) bool {
	switch board {
	case "star", "growth", "beijing":
		return true
	default:
		return false
	}
}

func (f *Filter) layerMarketCapFilter(symbols []string) []string {
	var out []string
	for _, s := range symbols {
		meta, ok := f.source.Metadata(s)
		if !ok {
			continue
		}
		if f.cfg.MinMarketCap > 0 && meta.TotalMV < f.cfg.MinMarketCap {
			continue
		}
		if f.cfg.MaxMarketCap > 0 && meta.TotalMV > f.cfg.MaxMarketCap {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (f *Filter) layerLiquidityFilter(symbols []string) []string {
	if f.cfg.MinAvgAmount == 0 && f.cfg.MinTurnoverRate == 0 {
		return symbols
	}
	var out []string
	for _, s := range symbols {
		bars := f.source.RecentBars(s, f.cfg.LiquidityDays)
		if len(bars) == 0 {
			continue
		}
		if f.cfg.MinTurnoverRate > 0 && meanTurnover(bars) < f.cfg.MinTurnoverRate {
			continue
		}
		if f.cfg.MinAvgAmount > 0 && meanAmount(bars) < f.cfg.MinAvgAmount {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (f *Filter) limitByAmount(symbols []string) []string {
	type scored struct {
		symbol string
		amount float64
	}
	var scores []scored
	for _, s := range symbols {
		bars := f.source.RecentBars(s, f.cfg.LiquidityDays)
		if len(bars) == 0 {
			continue
		}
		scores = append(scores, scored{symbol: s, amount: meanAmount(bars)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].amount > scores[j].amount })
	if len(scores) > f.cfg.TargetCount {
		scores = scores[:f.cfg.TargetCount]
	}
	out := make([]string, len(scores))
	for i, sc := range scores {
		out[i] = sc.symbol
	}
	return out
}

func meanAmount(bars []types.HistoryBar) float64 {
	if len(bars) == 0 {
		return 0
	}
	s := 0.0
	for _, b := range bars {
		s += b.Amount
	}
	return s / float64(len(bars))
}

func meanTurnover(bars []types.HistoryBar) float64 {
	if len(bars) == 0 {
		return 0
	}
	s := 0.0
	for _, b := range bars {
		s += b.TurnoverRate
	}
	return s / float64(len(bars))
}

func toSet(xs []string) map[string]bool {
	out := make(map[string]bool, len(xs))
	for _, x := range xs {
		out[x] = true
	}
	return out
}
