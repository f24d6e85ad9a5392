// Package rotation implements the calendar-driven top-K rotation backtester
// of spec.md §4.3: a scheduler state machine that rebalances into an
// equal- or fixed-weighted basket on each scheduled period boundary and
// holds until the next one.
package rotation

import (
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

// State names the scheduler's current phase.
type State string

const (
	StatePending     State = "pending"
	StateRebalancing State = "rebalancing"
	StateHolding     State = "holding"
	StateTerminal    State = "terminal"
)

// scheduler tracks the per-task period key and decides, for each trading
// day, whether today is a rebalance day (spec.md §4.3 "Scheduler state
// machine").
type scheduler struct {
	task          types.Task
	state         State
	lastPeriodKey string
	lastDate      time.Time
	firstBarSeen  bool
}

func newScheduler(task types.Task) *scheduler {
	return &scheduler{task: task, state: StatePending}
}

// shouldRebalance decides whether `today` triggers a rebalance, and
// updates the scheduler's bookkeeping if so.
func (s *scheduler) shouldRebalance(today time.Time, isLastBar bool) bool {
	key := periodKey(s.task.Period, s.task.PeriodDays, today)

	switch s.task.Period {
	case types.PeriodRunOnce:
		if !s.firstBarSeen {
			s.firstBarSeen = true
			s.lastDate = today
			return true
		}
		return s.task.RunOnLastDate && isLastBar
	case types.PeriodEveryNPeriods:
		n := s.task.PeriodDays
		if n <= 0 {
			n = 1
		}
		if !s.firstBarSeen {
			s.firstBarSeen = true
			s.lastDate = today
			return true
		}
		if int(today.Sub(s.lastDate).Hours()/24) >= n {
			s.lastDate = today
			return true
		}
		return s.task.RunOnLastDate && isLastBar
	case types.PeriodDaily:
		s.lastPeriodKey = key
		return true
	default:
		if key != s.lastPeriodKey {
			s.lastPeriodKey = key
			return true
		}
		return s.task.RunOnLastDate && isLastBar
	}
}

// periodKey maps a date to the bucket key used to detect a period
// boundary (spec.md §4.3 "per-task last_period_key").
func periodKey(period types.Period, periodDays int, d time.Time) string {
	switch period {
	case types.PeriodWeekly:
		y, w := d.ISOWeek()
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, w).Format("2006-W02")
	case types.PeriodMonthly:
		return d.Format("2006-01")
	case types.PeriodQuarterly:
		q := (int(d.Month())-1)/3 + 1
		return d.Format("2006") + "-Q" + string(rune('0'+q))
	case types.PeriodYearly:
		return d.Format("2006")
	default:
		return d.Format("2006-01-02")
	}
}
