package rotation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

// Engine runs the rotation backtester's daily loop over one task.
type Engine struct {
	task     types.Task
	cache    *factor.Cache
	uni      *universe.Filter
	dates    []time.Time
	prices   map[string][]float64 // symbol -> close series aligned to dates
	logger   zerolog.Logger
	sched    *scheduler

	cash       float64
	positions  map[string]*position
	selected   map[string]float64 // symbol -> last non-NaN select_signal value, forward-filled
	trades     []types.PortfolioTrade
	equity     []types.EquityPoint
}

// New constructs a rotation Engine. prices maps each symbol to its close
// series aligned one-to-one with dates.
func New(task types.Task, cache *factor.Cache, uni *universe.Filter, dates []time.Time, prices map[string][]float64, logger zerolog.Logger) *Engine {
	return &Engine{
		task:      task,
		cache:     cache,
		uni:       uni,
		dates:     dates,
		prices:    prices,
		logger:    logger,
		sched:     newScheduler(task),
		cash:      task.InitialCapital,
		positions: make(map[string]*position),
		selected:  make(map[string]float64),
	}
}

// Run executes the full daily loop and returns the equity curve and
// trade log (spec.md §4.3 "Output").
func (e *Engine) Run(ctx context.Context) ([]types.EquityPoint, []types.PortfolioTrade, error) {
	for i, today := range e.dates {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		isLast := i == len(e.dates)-1
		if e.sched.shouldRebalance(today, isLast) {
			if err := e.rebalance(ctx, today); err != nil {
				return nil, nil, err
			}
		}
		e.equity = append(e.equity, types.EquityPoint{Date: today, Value: e.portfolioValue(i)})
	}
	return e.equity, e.trades, nil
}

// rebalance implements spec.md §4.3 "Rebalance procedure" steps 1-8.
func (e *Engine) rebalance(ctx context.Context, today time.Time) error {
	universeSymbols := e.uni.Resolve(e.task.Symbols)
	if len(universeSymbols) == 0 {
		return nil
	}

	buySignal, err := e.conditionSum(e.task.SelectBuy, today, universeSymbols)
	if err != nil {
		return err
	}
	sellSignal, err := e.conditionSum(e.task.SelectSell, today, universeSymbols)
	if err != nil {
		return err
	}

	buyThreshold := e.task.BuyAtLeastCount
	if buyThreshold <= 0 {
		buyThreshold = len(e.task.SelectBuy)
	}
	sellThreshold := e.task.SellAtLeastCount
	if sellThreshold <= 0 {
		sellThreshold = 1
	}

	for _, symbol := range universeSymbols {
		switch {
		case len(e.task.SelectSell) > 0 && sellSignal[symbol] >= sellThreshold:
			e.selected[symbol] = 0
		case len(e.task.SelectBuy) > 0 && buySignal[symbol] >= buyThreshold:
			e.selected[symbol] = 1
			// forward-fill handled implicitly: value persists until a
			// sell condition or a future buy re-evaluation clears it.
		}
	}

	var chosen []string
	for symbol, v := range e.selected {
		if v > 0 {
			chosen = append(chosen, symbol)
		}
	}
	ranked, err := e.rankBySignal(today, chosen)
	if err != nil {
		return err
	}

	target := e.weights(ranked)

	e.liquidateUnselected(today, target)
	e.sellDowns(today, target)
	e.buyUps(today, target)
	return nil
}

// conditionSum evaluates each expression and returns, per symbol, the
// count of conditions true on `today` (spec.md §4.2 step 2).
func (e *Engine) conditionSum(exprs []string, today time.Time, universeSymbols []string) (map[string]int, error) {
	out := make(map[string]int, len(universeSymbols))
	for _, expr := range exprs {
		frame, err := e.cache.Get(expr)
		if err != nil {
			return nil, err
		}
		row := frame.RowAt(today)
		if row == nil {
			continue
		}
		for i, symbol := range frame.Symbols {
			if !math.IsNaN(row[i]) && row[i] != 0 {
				out[symbol]++
			}
		}
	}
	return out, nil
}

type rankedSymbol struct {
	symbol string
	score  float64
}

// rankBySignal orders the selected set by order_by_signal and applies
// drop-N/top-K (spec.md §4.3 step 4).
func (e *Engine) rankBySignal(today time.Time, chosen []string) ([]rankedSymbol, error) {
	sort.Strings(chosen)
	scores := make(map[string]float64, len(chosen))
	if e.task.OrderBySignal != "" {
		frame, err := e.cache.Get(e.task.OrderBySignal)
		if err != nil {
			return nil, err
		}
		row := frame.RowAt(today)
		if row != nil {
			for i, symbol := range frame.Symbols {
				scores[symbol] = row[i]
			}
		}
	}
	sort.SliceStable(chosen, func(i, j int) bool {
		a, b := scores[chosen[i]], scores[chosen[j]]
		if math.IsNaN(a) {
			a = math.Inf(-1)
		}
		if math.IsNaN(b) {
			b = math.Inf(-1)
		}
		if e.task.OrderByDesc {
			return a > b
		}
		return a < b
	})

	if e.task.OrderByDropN > 0 {
		if e.task.OrderByDropN >= len(chosen) {
			chosen = nil
		} else {
			chosen = chosen[e.task.OrderByDropN:]
		}
	}
	if e.task.OrderByTopK > 0 && e.task.OrderByTopK < len(chosen) {
		chosen = chosen[:e.task.OrderByTopK]
	}

	out := make([]rankedSymbol, len(chosen))
	for i, s := range chosen {
		out[i] = rankedSymbol{symbol: s, score: scores[s]}
	}
	return out, nil
}

// weights computes target weights (spec.md §4.3 step 5).
func (e *Engine) weights(ranked []rankedSymbol) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	if len(ranked) == 0 {
		return out
	}
	if e.task.Weight == types.WeightFixed {
		for _, r := range ranked {
			out[r.symbol] = e.task.FixedWeights[r.symbol]
		}
		return out
	}
	w := 1.0 / float64(len(ranked))
	for _, r := range ranked {
		out[r.symbol] = w
	}
	return out
}

func (e *Engine) priceAt(symbol string, today time.Time) (float64, bool) {
	series, ok := e.prices[symbol]
	if !ok {
		return 0, false
	}
	for i, d := range e.dates {
		if d.Equal(today) {
			if i >= len(series) || math.IsNaN(series[i]) {
				return 0, false
			}
			return series[i], true
		}
	}
	return 0, false
}

// liquidateUnselected implements step 6: close out any held symbol not
// in the new target.
func (e *Engine) liquidateUnselected(today time.Time, target map[string]float64) {
	for symbol, pos := range e.positions {
		if _, inTarget := target[symbol]; inTarget {
			continue
		}
		e.sellAll(symbol, pos, today)
	}
}

// sellDowns implements step 7: reduce symbols whose target weight is
// below current weight.
func (e *Engine) sellDowns(today time.Time, target map[string]float64) {
	totalValue := e.portfolioValueAt(today)
	for symbol, w := range target {
		pos, held := e.positions[symbol]
		if !held {
			continue
		}
		price, ok := e.priceAt(symbol, today)
		if !ok {
			continue
		}
		currentValue := pos.totalShares() * price
		currentWeight := 0.0
		if totalValue > 0 {
			currentWeight = currentValue / totalValue
		}
		if w >= currentWeight {
			continue
		}
		targetShares := math.Floor(totalValue*w/price/lotSize) * lotSize
		toSell := pos.totalShares() - targetShares
		if toSell <= 0 {
			continue
		}
		e.sellShares(symbol, pos, toSell, price, today)
	}
}

// buyUps implements step 8: increase symbols whose target weight
// exceeds current weight, buying to target_weight * 0.99 headroom.
func (e *Engine) buyUps(today time.Time, target map[string]float64) {
	totalValue := e.portfolioValueAt(today)
	for symbol, w := range target {
		price, ok := e.priceAt(symbol, today)
		if !ok {
			continue
		}
		pos, held := e.positions[symbol]
		currentValue := 0.0
		if held {
			currentValue = pos.totalShares() * price
		}
		currentWeight := 0.0
		if totalValue > 0 {
			currentWeight = currentValue / totalValue
		}
		if w <= currentWeight {
			continue
		}
		budget := totalValue * w * 0.99
		toBuySharesVal := budget - currentValue
		if toBuySharesVal <= 0 {
			continue
		}
		shares := toBuySharesVal / price
		if !pos.exists() {
			pos = &position{}
			e.positions[symbol] = pos
		}
		e.buyShares(symbol, pos, shares, price, today)
	}
}

func (p *position) exists() bool { return p != nil }

func (e *Engine) buyShares(symbol string, pos *position, shares, price float64, today time.Time) {
	ashare := e.task.AshareMode
	actual := pos.addLot(shares, price, today, ashare)
	if actual <= 0 {
		return
	}
	commission := CommissionSchedule(e.task.CommissionSchedule, e.task.CommissionRate, actual*price)
	cost := actual*price + commission
	if cost > e.cash {
		e.logger.Debug().Str("symbol", symbol).Float64("required", cost).Float64("available", e.cash).Msg("insufficient cash for buy, skipping")
		pos.reduce(actual)
		return
	}
	e.cash -= cost
	e.trades = append(e.trades, types.PortfolioTrade{Date: today, Symbol: symbol, Action: types.ActionBuy, Shares: actual, Price: price, Amount: actual * price, Strategy: e.task.Name})
}

func (e *Engine) sellShares(symbol string, pos *position, shares, price float64, today time.Time) {
	ashare := e.task.AshareMode
	sellable := pos.sellableShares(today, ashare)
	if shares > sellable {
		shares = sellable
	}
	if ashare {
		shares = math.Floor(shares/lotSize) * lotSize
	}
	if shares <= 0 {
		return
	}
	removed := pos.reduce(shares)
	commission := CommissionSchedule(e.task.CommissionSchedule, e.task.CommissionRate, removed*price)
	e.cash += removed*price - commission
	e.trades = append(e.trades, types.PortfolioTrade{Date: today, Symbol: symbol, Action: types.ActionSell, Shares: removed, Price: price, Amount: removed * price, Strategy: e.task.Name})
	if pos.totalShares() <= 0 {
		delete(e.positions, symbol)
	}
}

func (e *Engine) sellAll(symbol string, pos *position, today time.Time) {
	price, ok := e.priceAt(symbol, today)
	if !ok {
		return
	}
	e.sellShares(symbol, pos, pos.totalShares(), price, today)
}

func (e *Engine) portfolioValue(dateIdx int) float64 {
	return e.portfolioValueAt(e.dates[dateIdx])
}

func (e *Engine) portfolioValueAt(today time.Time) float64 {
	value := e.cash
	for symbol, pos := range e.positions {
		price, ok := e.priceAt(symbol, today)
		if !ok {
			continue
		}
		value += pos.totalShares() * price
	}
	return value
}
