package panel

import (
	"math"
	"testing"
	"time"
)

func days(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

func TestSetAtRoundTrip(t *testing.T) {
	d := days(3)
	f := NewFrame("x", d, []string{"A", "B"})
	f.Set(d[1], "B", 42)
	if got := f.At(d[1], "B"); got != 42 {
		t.Fatalf("got %v want 42", got)
	}
	if got := f.At(d[0], "B"); !math.IsNaN(got) {
		t.Fatalf("expected NaN for unset cell, got %v", got)
	}
}

func TestRollingApplyWindowNotFull(t *testing.T) {
	d := days(5)
	f := NewFrame("x", d, []string{"A"})
	for i, dt := range d {
		f.Set(dt, "A", float64(i+1))
	}
	out := f.RollingApply("sum3", 3, func(w []float64) float64 {
		s := 0.0
		for _, v := range w {
			s += v
		}
		return s
	})
	if !math.IsNaN(out.At(d[0], "A")) || !math.IsNaN(out.At(d[1], "A")) {
		t.Fatalf("expected NaN while window not full")
	}
	if got := out.At(d[2], "A"); got != 6 {
		t.Fatalf("sum(1,2,3)=%v want 6", got)
	}
	if got := out.At(d[4], "A"); got != 12 {
		t.Fatalf("sum(3,4,5)=%v want 12", got)
	}
}

func TestShift(t *testing.T) {
	d := days(4)
	f := NewFrame("x", d, []string{"A"})
	for i, dt := range d {
		f.Set(dt, "A", float64(i))
	}
	shifted := f.Shift(2)
	if got := shifted.At(d[3], "A"); got != 1 {
		t.Fatalf("shift(2) at day 3 = %v want 1", got)
	}
	if !math.IsNaN(shifted.At(d[0], "A")) {
		t.Fatalf("expected NaN out of bounds")
	}
}

func TestForwardFill(t *testing.T) {
	d := days(4)
	f := NewFrame("x", d, []string{"A"})
	f.Set(d[0], "A", 1)
	f.Set(d[2], "A", 3)
	ff := f.ForwardFill()
	if got := ff.At(d[1], "A"); got != 1 {
		t.Fatalf("expected forward-filled 1, got %v", got)
	}
	if got := ff.At(d[3], "A"); got != 3 {
		t.Fatalf("expected forward-filled 3, got %v", got)
	}
}

func TestPivotWide(t *testing.T) {
	d := days(2)
	rows := []LongRow{
		{Date: d[0], Symbol: "A", Value: 1},
		{Date: d[1], Symbol: "B", Value: 2},
	}
	f := PivotWide("x", rows)
	if got := f.At(d[0], "A"); got != 1 {
		t.Fatalf("got %v want 1", got)
	}
	if !math.IsNaN(f.At(d[0], "B")) {
		t.Fatalf("expected NaN for missing (date,symbol) pair")
	}
}
