package factor

import (
	"math"

	"github.com/bikeshrana/cnquant/internal/panel"
)

// Operator is one entry in the operator lookup table (spec.md §9): a name
// resolves to an arity and a function over already-evaluated panel args.
type Operator struct {
	Arity int // -1 means variadic/any, checked by the function itself
	Fn    func(args []*panel.Frame, numArgs []float64) (*panel.Frame, error)
}

// windowSize converts a numeric literal argument (e.g. the window size in
// ma(x, n)) to an int. Eval has already checked the argument is a literal.
func windowSize(n float64) int {
	return int(n)
}

// OperatorTable maps operator name to its implementation. Every panel-
// valued operator is vectorised per-symbol via panel.Frame.RollingApply /
// Map / Shift / Combine.
var OperatorTable = map[string]Operator{
	"ref": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return args[0].Shift(windowSize(n[0])), nil
	}},
	"shift": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return args[0].Shift(windowSize(n[0])), nil
	}},
	"ma": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("ma", w, func(window []float64) float64 {
			return mean(window)
		}), nil
	}},
	"ema": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return emaFrame(args[0], w), nil
	}},
	"std": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("std", w, func(window []float64) float64 {
			m := mean(window)
			return math.Sqrt(variance(window, m))
		}), nil
	}},
	"sum": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("sum", w, func(window []float64) float64 {
			s := 0.0
			for _, v := range window {
				s += v
			}
			return s
		}), nil
	}},
	"max": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("max", w, func(window []float64) float64 {
			return maxOf(window)
		}), nil
	}},
	"min": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("min", w, func(window []float64) float64 {
			return minOf(window)
		}), nil
	}},
	"roc": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		ref := args[0].Shift(w)
		aligned := panel.AlignUnion(args[0], ref)
		return panel.Combine("roc", aligned[0], aligned[1], func(x, y float64) float64 {
			if y == 0 || math.IsNaN(y) || math.IsNaN(x) {
				return math.NaN()
			}
			return (x - y) / y
		}), nil
	}},
	"slope": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("slope", w, func(window []float64) float64 {
			slope, _, _ := linearRegressionLogSpace(window)
			return slope
		}), nil
	}},
	"rsquare": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("rsquare", w, func(window []float64) float64 {
			_, _, r2 := linearRegressionLogSpace(window)
			return r2
		}), nil
	}},
	"trend_score": {Arity: 2, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		w := windowSize(n[0])
		return args[0].RollingApply("trend_score", w, func(window []float64) float64 {
			slope, _, r2 := linearRegressionLogSpace(window)
			if math.IsNaN(slope) {
				return math.NaN()
			}
			annualized := math.Exp(slope*250) - 1
			return annualized * r2
		}), nil
	}},
	"log": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return args[0].Map("log", func(x float64) float64 {
			if x <= 0 {
				return math.NaN()
			}
			return math.Log(x)
		}), nil
	}},
	"abs": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return args[0].Map("abs", math.Abs), nil
	}},
	"exp": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return args[0].Map("exp", math.Exp), nil
	}},
	"normalize_score": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return normalizePerDate(args[0]), nil
	}},
	"pe_score": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return scoreFrame(args[0]), nil
	}},
	"pb_score": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return scoreFrame(args[0]), nil
	}},
	"ps_score": {Arity: 1, Fn: func(args []*panel.Frame, n []float64) (*panel.Frame, error) {
		return scoreFrame(args[0]), nil
	}},
}

const epsScore = 1e-6

// scoreFrame implements pe_score/pb_score/ps_score: 1/(x+eps), 0 for x==0
// mapped to NaN per spec.md §4.1.
func scoreFrame(f *panel.Frame) *panel.Frame {
	return f.Map("score", func(x float64) float64 {
		if x == 0 || math.IsNaN(x) {
			return math.NaN()
		}
		return 1 / (x + epsScore)
	})
}

// normalizePerDate min-max scales each date's cross-section into [0,1].
func normalizePerDate(f *panel.Frame) *panel.Frame {
	out := panel.NewFrame("normalize_score", f.Dates, f.Symbols)
	for r := range f.Dates {
		row := f.Row(r)
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		outRow := out.Row(r)
		span := hi - lo
		for c, v := range row {
			if math.IsNaN(v) || span <= 0 {
				outRow[c] = math.NaN()
				continue
			}
			outRow[c] = (v - lo) / span
		}
	}
	return out
}

func emaFrame(f *panel.Frame, n int) *panel.Frame {
	out := panel.NewFrame("ema", f.Dates, f.Symbols)
	alpha := 2.0 / (float64(n) + 1)
	for _, symbol := range f.Symbols {
		col := f.Column(symbol)
		var prev float64
		seeded := false
		seen := 0
		for r, v := range col {
			if math.IsNaN(v) {
				out.Set(f.Dates[r], symbol, math.NaN())
				continue
			}
			seen++
			if !seeded {
				prev = v
				seeded = true
			} else {
				prev = alpha*v + (1-alpha)*prev
			}
			if seen < n {
				out.Set(f.Dates[r], symbol, math.NaN())
				continue
			}
			out.Set(f.Dates[r], symbol, prev)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	hasNaN := false
	s := 0.0
	for _, v := range xs {
		if math.IsNaN(v) {
			hasNaN = true
		}
		s += v
	}
	if hasNaN {
		return math.NaN()
	}
	return s / float64(len(xs))
}

func variance(xs []float64, m float64) float64 {
	if math.IsNaN(m) {
		return math.NaN()
	}
	s := 0.0
	for _, v := range xs {
		d := v - m
		s += d * d
	}
	return s / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	best := math.Inf(-1)
	for _, v := range xs {
		if math.IsNaN(v) {
			return math.NaN()
		}
		if v > best {
			best = v
		}
	}
	return best
}

func minOf(xs []float64) float64 {
	best := math.Inf(1)
	for _, v := range xs {
		if math.IsNaN(v) {
			return math.NaN()
		}
		if v < best {
			best = v
		}
	}
	return best
}

// linearRegressionLogSpace is the OLS slope/intercept/R² computation
// grounded byte-for-byte on original_source/alpha/dataset/expr_extends.py's
// _linear_regression_params: log-transform, closed-form normal equations,
// zero-denominator and zero-variance short-circuits.
func linearRegressionLogSpace(yRaw []float64) (slope, intercept, rSquared float64) {
	n := len(yRaw)
	if n < 2 {
		return math.NaN(), math.NaN(), 0.0
	}

	y := make([]float64, n)
	for i, v := range yRaw {
		if v <= 0 || math.IsNaN(v) {
			return math.NaN(), math.NaN(), 0.0
		}
		y[i] = math.Log(v)
	}

	var sumX, sumY, sumX2, sumXY float64
	for i := 0; i < n; i++ {
		x := float64(i)
		sumX += x
		sumY += y[i]
		sumX2 += x * x
		sumXY += x * y[i]
	}
	fn := float64(n)
	denominator := fn*sumX2 - sumX*sumX

	if denominator <= 1e-9 {
		return 0.0, sumY / fn, 0.0
	}

	slope = (fn*sumXY - sumX*sumY) / denominator
	intercept = (sumY - slope*sumX) / fn

	var ssRes float64
	for i := 0; i < n; i++ {
		pred := slope*float64(i) + intercept
		d := y[i] - pred
		ssRes += d * d
	}
	ssTot := sumOfSquares(y) - (sumY*sumY)/fn

	if ssTot > 1e-9 {
		rSquared = 1 - ssRes/ssTot
	} else {
		rSquared = 0.0
	}
	if rSquared < 0 {
		rSquared = 0
	}
	if rSquared > 1 {
		rSquared = 1
	}
	return slope, intercept, rSquared
}

func sumOfSquares(xs []float64) float64 {
	s := 0.0
	for _, v := range xs {
		s += v * v
	}
	return s
}
