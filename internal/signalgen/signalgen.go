// Package signalgen implements the per-task, per-day signal generator
// described in spec.md §4.2.
package signalgen

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// Result is the output of one evaluation: ordered buy signals, sell
// signals for currently-held symbols, and the surviving universe.
type Result struct {
	Buys     []types.Signal
	Sells    []types.Signal
	Universe []string
}

// Generator evaluates a Task's condition expressions against a FactorCache
// and emits signals for one target date.
type Generator struct {
	cache    *factor.Cache
	universe *universe.Filter
	assetType types.AssetType
	logger   zerolog.Logger
	metrics  *obs.EngineMetrics
}

// New constructs a Generator bound to one FactorCache/universe pairing.
func New(cache *factor.Cache, uni *universe.Filter, assetType types.AssetType, logger zerolog.Logger) *Generator {
	return &Generator{cache: cache, universe: uni, assetType: assetType, logger: logger}
}

// SetMetrics attaches a Prometheus registry. Nil-safe.
func (g *Generator) SetMetrics(m *obs.EngineMetrics) {
	g.metrics = m
}

// EvaluateForDate runs the per-task evaluation procedure (spec.md §4.2
// steps 1-6) for one target date against the given currently-held set.
func (g *Generator) EvaluateForDate(task types.Task, date time.Time, held map[string]bool) (Result, error) {
	uni := g.universe.Resolve(task.Symbols)
	if len(uni) == 0 {
		if g.metrics != nil {
			g.metrics.EmptyUniverses.WithLabelValues(task.Name).Inc()
		}
		return Result{Universe: uni}, nil
	}

	buyCandidates, err := g.candidateSet(task.SelectBuy, task.BuyAtLeastCount, date, uni, true)
	if err != nil {
		return Result{}, err
	}
	sellCandidates, err := g.candidateSet(task.SelectSell, task.SellAtLeastCount, date, uni, false)
	if err != nil {
		return Result{}, err
	}

	ranked, err := g.rank(task, date, buyCandidates)
	if err != nil {
		return Result{}, err
	}

	res := Result{Universe: uni}
	for i, rc := range ranked {
		res.Buys = append(res.Buys, types.Signal{
			Symbol:     rc.symbol,
			Kind:       types.SignalBuy,
			Date:       date,
			Rank:       i + 1,
			Score:      rc.score,
			Strategies: []string{task.Name},
			AssetType:  g.assetType,
		})
	}
	for symbol := range held {
		if sellCandidates[symbol] {
			res.Sells = append(res.Sells, types.Signal{
				Symbol:     symbol,
				Kind:       types.SignalSell,
				Date:       date,
				Strategies: []string{task.Name},
				AssetType:  g.assetType,
			})
		}
	}
	sort.Slice(res.Sells, func(i, j int) bool { return res.Sells[i].Symbol < res.Sells[j].Symbol })

	if g.metrics != nil {
		if len(res.Buys) > 0 {
			g.metrics.SignalsEmitted.WithLabelValues(task.Name, "buy").Add(float64(len(res.Buys)))
		}
		if len(res.Sells) > 0 {
			g.metrics.SignalsEmitted.WithLabelValues(task.Name, "sell").Add(float64(len(res.Sells)))
		}
	}
	return res, nil
}

// candidateSet implements spec.md §4.2 steps 1-3: evaluate each condition,
// sum booleans per symbol at `date`, and threshold by atLeastCount (0 means
// "all conditions must hold" for buys and "at least one" for sells).
func (g *Generator) candidateSet(exprs []string, atLeastCount int, date time.Time, uni []string, isBuy bool) (map[string]bool, error) {
	out := make(map[string]bool, len(uni))
	if len(exprs) == 0 {
		if isBuy {
			return out, nil
		}
		// default sell threshold of 1 with no conditions means nothing to sell
		return out, nil
	}

	sums := make(map[string]int, len(uni))
	for _, expr := range exprs {
		frame, err := g.cache.Get(expr)
		if err != nil {
			return nil, fmt.Errorf("signalgen: %w", err)
		}
		row := frame.RowAt(date)
		if row == nil {
			continue
		}
		for i, symbol := range frame.Symbols {
			if !inUniverse(symbol, uni) {
				continue
			}
			if isTrueVal(row[i]) {
				sums[symbol]++
			}
		}
	}

	threshold := atLeastCount
	if threshold <= 0 {
		threshold = len(exprs)
		if !isBuy {
			threshold = 1
		}
	}
	for _, symbol := range uni {
		if sums[symbol] >= threshold {
			out[symbol] = true
		}
	}
	return out, nil
}

func isTrueVal(v float64) bool {
	return !math.IsNaN(v) && v != 0
}

func inUniverse(symbol string, uni []string) bool {
	for _, s := range uni {
		if s == symbol {
			return true
		}
	}
	return false
}

type rankedCandidate struct {
	symbol string
	score  float64
}

// rank implements spec.md §4.2 step 4: order_by_signal ranking with
// drop-N/top-K. Missing OrderBySignal keeps all buy candidates unranked
// (score 0, insertion order by symbol ascending).
func (g *Generator) rank(task types.Task, date time.Time, candidates map[string]bool) ([]rankedCandidate, error) {
	symbols := make([]string, 0, len(candidates))
	for s := range candidates {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	if task.OrderBySignal == "" {
		return capRanked(toRanked(symbols, nil), task.OrderByDropN, task.OrderByTopK), nil
	}

	frame, err := g.cache.Get(task.OrderBySignal)
	if err != nil {
		return nil, fmt.Errorf("signalgen: order_by_signal: %w", err)
	}
	row := frame.RowAt(date)
	scores := make(map[string]float64, len(symbols))
	var scored []string
	for i, symbol := range frame.Symbols {
		if !candidates[symbol] {
			continue
		}
		v := row[i]
		if math.IsNaN(v) {
			continue
		}
		scores[symbol] = v
		scored = append(scored, symbol)
	}
	sort.Slice(scored, func(i, j int) bool {
		if task.OrderByDesc {
			return scores[scored[i]] > scores[scored[j]]
		}
		return scores[scored[i]] < scores[scored[j]]
	})
	return capRanked(toRanked(scored, scores), task.OrderByDropN, task.OrderByTopK), nil
}

func toRanked(symbols []string, scores map[string]float64) []rankedCandidate {
	out := make([]rankedCandidate, len(symbols))
	for i, s := range symbols {
		var score float64
		if scores != nil {
			score = scores[s]
		}
		out[i] = rankedCandidate{symbol: s, score: score}
	}
	return out
}

func capRanked(ranked []rankedCandidate, dropN, topK int) []rankedCandidate {
	if dropN > 0 {
		if dropN >= len(ranked) {
			return nil
		}
		ranked = ranked[dropN:]
	}
	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}
	return ranked
}
