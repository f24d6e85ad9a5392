package rotation

import (
	"math"
	"time"
)

const lotSize = 100

// lot is one purchase batch of a symbol, tracked separately to enforce
// T+1 settlement under ashare_mode (spec.md §4.3 "per-lot
// earliest_sell_date").
type lot struct {
	shares          float64
	costBasis       float64
	earliestSellDay time.Time
}

// position aggregates the lots held in one symbol.
type position struct {
	lots []lot
}

func (p *position) totalShares() float64 {
	var sum float64
	for _, l := range p.lots {
		sum += l.shares
	}
	return sum
}

func (p *position) avgCost() float64 {
	var shares, cost float64
	for _, l := range p.lots {
		shares += l.shares
		cost += l.shares * l.costBasis
	}
	if shares == 0 {
		return 0
	}
	return cost / shares
}

// sellableShares returns the shares eligible to sell on `today` under
// ashare_mode's T+1 rule (lots bought today cannot be sold today).
func (p *position) sellableShares(today time.Time, ashareMode bool) float64 {
	if !ashareMode {
		return p.totalShares()
	}
	var sum float64
	for _, l := range p.lots {
		if !l.earliestSellDay.After(today) {
			sum += l.shares
		}
	}
	return sum
}

// addLot records a purchase, rounding down to a round lot under
// ashare_mode.
func (p *position) addLot(shares, price float64, today time.Time, ashareMode bool) float64 {
	if ashareMode {
		shares = math.Floor(shares/lotSize) * lotSize
	}
	if shares <= 0 {
		return 0
	}
	earliest := today
	if ashareMode {
		earliest = today.AddDate(0, 0, 1)
	}
	p.lots = append(p.lots, lot{shares: shares, costBasis: price, earliestSellDay: earliest})
	return shares
}

// reduce removes `shares` from the position's oldest-first lots (FIFO),
// returning the shares actually removed.
func (p *position) reduce(shares float64) float64 {
	removed := 0.0
	out := p.lots[:0]
	for _, l := range p.lots {
		if shares <= 0 {
			out = append(out, l)
			continue
		}
		if l.shares <= shares {
			shares -= l.shares
			removed += l.shares
			continue
		}
		removed += shares
		l.shares -= shares
		shares = 0
		out = append(out, l)
	}
	p.lots = out
	return removed
}

// CommissionSchedule computes the one-way commission for a trade of the
// given notional under the given schedule name. "v1" is the flat default
// rate; "v2" is the same rate with a minimum ticket of 5 per trade.
// Both are implementation-defined per spec.md §4.3.
func CommissionSchedule(schedule string, rate, notional float64) float64 {
	switch schedule {
	case "v2":
		fee := notional * rate
		const minTicket = 5.0
		if fee < minTicket {
			return minTicket
		}
		return fee
	default:
		return notional * rate
	}
}
