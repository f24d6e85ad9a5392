package rotation

import (
	"testing"
	"time"

	"github.com/bikeshrana/cnquant/pkg/types"
)

func dateUTC(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSchedulerMonthlyRebalancesOnMonthBoundary(t *testing.T) {
	task := types.Task{Period: types.PeriodMonthly}
	s := newScheduler(task)

	days := []time.Time{
		dateUTC(2024, 1, 2), dateUTC(2024, 1, 15), dateUTC(2024, 1, 31),
		dateUTC(2024, 2, 1), dateUTC(2024, 2, 15),
	}
	wantRebalance := []bool{true, false, false, true, false}
	for i, d := range days {
		got := s.shouldRebalance(d, i == len(days)-1)
		if got != wantRebalance[i] {
			t.Fatalf("day %v: shouldRebalance=%v want %v", d, got, wantRebalance[i])
		}
	}
}

func TestSchedulerRunOnceFiresOnce(t *testing.T) {
	task := types.Task{Period: types.PeriodRunOnce}
	s := newScheduler(task)

	if !s.shouldRebalance(dateUTC(2024, 1, 2), false) {
		t.Fatalf("expected first bar to rebalance")
	}
	if s.shouldRebalance(dateUTC(2024, 1, 3), false) {
		t.Fatalf("expected no rebalance after first bar")
	}
}

func TestSchedulerRunOnceForcesLastBarWithRunOnLastDate(t *testing.T) {
	task := types.Task{Period: types.PeriodRunOnce, RunOnLastDate: true}
	s := newScheduler(task)

	s.shouldRebalance(dateUTC(2024, 1, 2), false)
	if !s.shouldRebalance(dateUTC(2024, 1, 30), true) {
		t.Fatalf("expected final bar to force rebalance with run_on_last_date")
	}
}

func TestSchedulerEveryNPeriods(t *testing.T) {
	task := types.Task{Period: types.PeriodEveryNPeriods, PeriodDays: 5}
	s := newScheduler(task)

	if !s.shouldRebalance(dateUTC(2024, 1, 1), false) {
		t.Fatalf("expected first bar to rebalance")
	}
	if s.shouldRebalance(dateUTC(2024, 1, 3), false) {
		t.Fatalf("expected no rebalance before n days elapsed")
	}
	if !s.shouldRebalance(dateUTC(2024, 1, 6), false) {
		t.Fatalf("expected rebalance once >= n days elapsed")
	}
}
