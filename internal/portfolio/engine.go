package portfolio

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/cnquant/internal/factor"
	"github.com/bikeshrana/cnquant/internal/signalgen"
	"github.com/bikeshrana/cnquant/internal/universe"
	"github.com/bikeshrana/cnquant/pkg/types"
)

const lotSize = 100

// Engine runs the portfolio backtester's main loop (spec.md §4.4).
type Engine struct {
	task    types.Task
	cache   *factor.Cache
	uni     *universe.Filter
	sigGen  *signalgen.Generator
	dates   []time.Time
	prices  map[string][]float64
	logger  zerolog.Logger

	tracker  *Tracker
	cash     float64
	holdings map[string]types.Holding
	trades   []types.PortfolioTrade
	prevSignals map[string]bool
}

// New constructs a portfolio Engine.
func New(task types.Task, cache *factor.Cache, uni *universe.Filter, sigGen *signalgen.Generator, dates []time.Time, prices map[string][]float64, logger zerolog.Logger) *Engine {
	return &Engine{
		task:     task,
		cache:    cache,
		uni:      uni,
		sigGen:   sigGen,
		dates:    dates,
		prices:   prices,
		logger:   logger,
		tracker:  NewTracker(task.InitialCapital),
		cash:     task.InitialCapital,
		holdings: make(map[string]types.Holding),
	}
}

// Run executes the main loop and returns the accumulated daily state
// series and the full trade log.
func (e *Engine) Run(ctx context.Context) ([]types.PortfolioState, []types.PortfolioTrade, error) {
	for _, today := range e.dates {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		prices := e.pricesAt(today)

		held := make(map[string]bool, len(e.holdings))
		for s := range e.holdings {
			held[s] = true
		}
		res, err := e.sigGen.EvaluateForDate(e.task, today, held)
		if err != nil {
			return nil, nil, err
		}
		currentSignals := make(map[string]bool, len(res.Buys))
		for _, s := range res.Buys {
			currentSignals[s.Symbol] = true
		}

		if !signalSetsEqual(currentSignals, e.prevSignals) {
			e.rebalance(today, currentSignals, prices)
		}
		e.prevSignals = currentSignals

		e.tracker.Update(today, e.cash, e.holdings, prices, e.trades)
	}
	return e.tracker.States(), e.trades, nil
}

func (e *Engine) pricesAt(today time.Time) map[string]float64 {
	out := make(map[string]float64, len(e.prices))
	for symbol, series := range e.prices {
		for i, d := range e.dates {
			if d.Equal(today) {
				if i < len(series) && !math.IsNaN(series[i]) {
					out[symbol] = series[i]
				}
				break
			}
		}
	}
	return out
}

func signalSetsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for s := range a {
		if !b[s] {
			return false
		}
	}
	return true
}

// rebalance implements spec.md §4.4.1 steps 1-6.
func (e *Engine) rebalance(today time.Time, target map[string]bool, prices map[string]float64) {
	v := e.tracker.PreviousValue()
	if v <= 0 {
		v = e.cash
	}

	var w float64
	if len(target) > 0 {
		w = 1.0 / float64(len(target))
	}

	// Step 5: liquidate symbols not in target first, freeing cash for buys.
	for symbol, h := range e.holdings {
		if target[symbol] {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		e.sell(symbol, h.Shares, price, today)
	}

	// Step 3-4: diff current vs target shares for symbols in target.
	for symbol := range target {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		targetShares := math.Floor(v*w/price/lotSize) * lotSize
		current := e.holdings[symbol].Shares
		switch {
		case targetShares > current:
			e.buy(symbol, targetShares-current, price, today)
		case targetShares < current:
			e.sell(symbol, current-targetShares, price, today)
		}
	}
}

func (e *Engine) buy(symbol string, shares, price float64, today time.Time) {
	if shares <= 0 {
		return
	}
	fee := shares * price * e.task.CommissionRate
	cost := shares*price + fee
	if e.cash < cost {
		e.logger.Debug().Str("symbol", symbol).Float64("required", cost).Float64("available", e.cash).Msg("insufficient cash for rebalance buy, skipping")
		return
	}
	e.cash -= cost
	h := e.holdings[symbol]
	totalShares := h.Shares + shares
	totalCost := h.Shares*h.AvgCost + shares*price
	h.AvgCost = totalCost / totalShares
	h.Shares = totalShares
	e.holdings[symbol] = h
	e.trades = append(e.trades, types.PortfolioTrade{Date: today, Symbol: symbol, Action: types.ActionBuy, Shares: shares, Price: price, Amount: shares * price, Strategy: e.task.Name})
}

func (e *Engine) sell(symbol string, shares, price float64, today time.Time) {
	h, ok := e.holdings[symbol]
	if !ok || shares <= 0 {
		return
	}
	if shares > h.Shares {
		shares = h.Shares
	}
	fee := shares * price * e.task.CommissionRate
	e.cash += shares*price - fee
	h.Shares -= shares
	if h.Shares <= 0 {
		delete(e.holdings, symbol)
	} else {
		e.holdings[symbol] = h // avg_cost preserved unless fully closed
	}
	e.trades = append(e.trades, types.PortfolioTrade{Date: today, Symbol: symbol, Action: types.ActionSell, Shares: shares, Price: price, Amount: shares * price, Strategy: e.task.Name})
}
