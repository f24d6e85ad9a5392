// Package portfolio implements the basket strategy backtester of spec.md
// §4.4: composition follows buy-signal-set membership rather than a
// calendar, rebalancing whenever the signal set changes.
package portfolio

import (
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

// Tracker accumulates the daily PortfolioState series and derives
// turnover/drawdown per spec.md §4.4 main loop step 4.
type Tracker struct {
	states       []types.PortfolioState
	initialValue float64
	peak         float64
	runningMaxDD float64
	windowBuys   []float64
	windowSells  []float64
	windowValues []float64
}

// NewTracker starts tracking from an initial cash balance.
func NewTracker(initialCapital float64) *Tracker {
	return &Tracker{initialValue: initialCapital, peak: initialCapital}
}

// PreviousValue returns tracker.previous_value (spec.md §4.4.1 step 1).
func (t *Tracker) PreviousValue() float64 {
	if len(t.states) == 0 {
		return t.initialValue
	}
	return t.states[len(t.states)-1].PortfolioValue
}

const turnoverWindow = 20

// Update recomputes portfolio value, daily/cumulative return, running
// max drawdown, and rolling turnover for `today` (spec.md §4.4 step 4,
// "Turnover (rolling 20-day)", "Drawdown").
func (t *Tracker) Update(today time.Time, cash float64, holdings map[string]types.Holding, prices map[string]float64, trades []types.PortfolioTrade) types.PortfolioState {
	value := cash
	for symbol, h := range holdings {
		if p, ok := prices[symbol]; ok {
			value += h.Shares * p
		}
	}

	prevValue := t.PreviousValue()
	dailyReturn := 0.0
	if prevValue > 0 {
		dailyReturn = value/prevValue - 1
	}

	cumulative := 0.0
	if t.initialValue > 0 {
		cumulative = value/t.initialValue - 1
	}

	if value > t.peak {
		t.peak = value
	}
	dailyDrawdown := 0.0
	if t.peak > 0 {
		dailyDrawdown = value/t.peak - 1
	}
	if dailyDrawdown < t.runningMaxDD {
		t.runningMaxDD = dailyDrawdown
	}

	var buyAmount, sellAmount float64
	for _, tr := range trades {
		if tr.Date.Equal(today) {
			if tr.Action == types.ActionBuy {
				buyAmount += tr.Amount
			} else {
				sellAmount += tr.Amount
			}
		}
	}
	t.windowBuys = appendWindow(t.windowBuys, buyAmount, turnoverWindow)
	t.windowSells = appendWindow(t.windowSells, sellAmount, turnoverWindow)
	t.windowValues = appendWindow(t.windowValues, value, turnoverWindow)

	turnover := rollingTurnover(t.windowBuys, t.windowSells, t.windowValues)

	state := types.PortfolioState{
		Date:               today,
		Cash:               cash,
		Holdings:           holdings,
		DailyReturn:        dailyReturn,
		CumulativeReturn:   cumulative,
		RunningMaxDrawdown: t.runningMaxDD,
		DailyTurnover:      turnover,
		PortfolioValue:     value,
	}
	t.states = append(t.states, state)
	return state
}

func appendWindow(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}

// rollingTurnover computes (sum_buy+sum_sell)/(2*avg_portfolio_value).
func rollingTurnover(buys, sells, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumBuy, sumSell, sumValue float64
	for _, v := range buys {
		sumBuy += v
	}
	for _, v := range sells {
		sumSell += v
	}
	for _, v := range values {
		sumValue += v
	}
	avgValue := sumValue / float64(len(values))
	if avgValue == 0 {
		return 0
	}
	return (sumBuy + sumSell) / (2 * avgValue)
}

// States returns the accumulated daily state series.
func (t *Tracker) States() []types.PortfolioState {
	return t.states
}

// EquityCurve projects the state series to a bare equity curve.
func (t *Tracker) EquityCurve() []types.EquityPoint {
	out := make([]types.EquityPoint, len(t.states))
	for i, s := range t.states {
		out[i] = types.EquityPoint{Date: s.Date, Value: s.PortfolioValue}
	}
	return out
}
