package factor

import (
	"math"
	"testing"
	"time"

	"github.com/bikeshrana/cnquant/internal/panel"
)

type fixedEnv struct {
	columns map[string]*panel.Frame
}

func (f *fixedEnv) Column(name string) (*panel.Frame, error) {
	return f.columns[name], nil
}

func dayRange(n int) []time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

func closeFrame(values []float64) *panel.Frame {
	dates := dayRange(len(values))
	f := panel.NewFrame("close", dates, []string{"A"})
	for i, v := range values {
		f.Set(dates[i], "A", v)
	}
	return f
}

func TestEvalMonotonicRoc(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	env := &fixedEnv{columns: map[string]*panel.Frame{"close": closeFrame(prices)}}

	ast, err := Parse("roc(close,5)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	frame, err := Eval(ast, env)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	last := frame.At(frame.Dates[len(frame.Dates)-1], "A")
	want := (20.0 - 15.0) / 15.0
	if math.Abs(last-want) > 1e-9 {
		t.Fatalf("roc(close,5) last = %v, want %v", last, want)
	}
	// window not yet full -> NaN
	early := frame.At(frame.Dates[2], "A")
	if !math.IsNaN(early) {
		t.Fatalf("expected NaN before window fills, got %v", early)
	}
}

func TestEvalComparisonWithNaNIsFalse(t *testing.T) {
	env := &fixedEnv{columns: map[string]*panel.Frame{"close": closeFrame([]float64{1, 2, 3})}}
	ast, err := Parse("ma(close,5) > 0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	frame, err := Eval(ast, env)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	for _, d := range frame.Dates {
		if frame.At(d, "A") != 0 {
			t.Fatalf("expected comparison against NaN window to be false at %v", d)
		}
	}
}

func TestTrendScoreZeroVarianceShortCircuit(t *testing.T) {
	flat := make([]float64, 10)
	for i := range flat {
		flat[i] = 100
	}
	env := &fixedEnv{columns: map[string]*panel.Frame{"close": closeFrame(flat)}}
	ast, err := Parse("trend_score(close,5)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	frame, err := Eval(ast, env)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	last := frame.At(frame.Dates[len(frame.Dates)-1], "A")
	if last != 0 {
		t.Fatalf("expected trend_score 0 on flat series, got %v", last)
	}
}

func TestUnknownOperatorFails(t *testing.T) {
	env := &fixedEnv{columns: map[string]*panel.Frame{"close": closeFrame([]float64{1, 2, 3})}}
	ast, err := Parse("bogus(close,5)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Eval(ast, env); err == nil {
		t.Fatalf("expected StrategyCompileError for unknown operator")
	}
}
